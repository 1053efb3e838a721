package billing

// Pack is a purchasable bundle of usage minutes.
type Pack struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Minutes    int    `json:"minutes"`
	PriceCents int    `json:"priceCents"`
}

// Catalog holds the credit packs offered at checkout.
type Catalog struct {
	packs []Pack
	byID  map[string]Pack
}

// NewCatalog builds a catalog preserving the given display order.
func NewCatalog(packs []Pack) *Catalog {
	byID := make(map[string]Pack, len(packs))
	for _, p := range packs {
		byID[p.ID] = p
	}
	return &Catalog{packs: packs, byID: byID}
}

// DefaultCatalog returns the standard credit pack line-up.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Pack{
		{ID: "starter-60", Label: "Starter 60", Minutes: 60, PriceCents: 1500},
		{ID: "family-150", Label: "Family 150", Minutes: 150, PriceCents: 3200},
		{ID: "care-360", Label: "Care 360", Minutes: 360, PriceCents: 6900},
	})
}

// List returns the packs in display order.
func (c *Catalog) List() []Pack {
	out := make([]Pack, len(c.packs))
	copy(out, c.packs)
	return out
}

// Find looks a pack up by id.
func (c *Catalog) Find(id string) (Pack, bool) {
	p, ok := c.byID[id]
	return p, ok
}
