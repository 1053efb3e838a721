package billing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/care-credits/internal/billing"
)

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	evt, err := billing.DecodeEvent([]byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "mode": "payment"}}
	}`))
	require.NoError(t, err)
	require.Equal(t, "evt_1", evt.ID)
	require.Equal(t, billing.EventCheckoutCompleted, evt.Type)
	require.JSONEq(t, `{"id":"cs_1","mode":"payment"}`, string(evt.Data.Object))
}

func TestDecodeEventRejectsIncompleteEnvelopes(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":     `{`,
		"missing id":   `{"type":"checkout.session.completed"}`,
		"missing type": `{"id":"evt_1"}`,
		"blank id":     `{"id":"  ","type":"x"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := billing.DecodeEvent([]byte(payload))
			require.Error(t, err)
		})
	}
}

func TestCatalogFind(t *testing.T) {
	t.Parallel()

	catalog := billing.DefaultCatalog()

	pack, ok := catalog.Find("care-360")
	require.True(t, ok)
	require.Equal(t, 360, pack.Minutes)
	require.Equal(t, 6900, pack.PriceCents)

	_, ok = catalog.Find("missing")
	require.False(t, ok)

	packs := catalog.List()
	require.Len(t, packs, 3)
	packs[0].Minutes = 0 // List must hand out a copy
	again, _ := catalog.Find("starter-60")
	require.Equal(t, 60, again.Minutes)
}
