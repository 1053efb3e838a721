package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/care-credits/internal/common"
	"github.com/noah-isme/care-credits/internal/obs"
)

// Handler exposes the credit pack catalog and checkout session creation.
type Handler struct {
	Provider   Provider
	Packs      *Catalog
	Validate   *validator.Validate
	Currency   string
	SuccessURL string
	CancelURL  string
}

type checkoutReq struct {
	CaregiverID string `json:"caregiverId" validate:"required"`
	PackID      string `json:"packId" validate:"required"`
}

type checkoutResp struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// ListPacks returns the purchasable credit packs.
func (h *Handler) ListPacks(w http.ResponseWriter, _ *http.Request) {
	if h == nil || h.Packs == nil {
		common.JSONError(w, http.StatusInternalServerError, "BILLING_NOT_CONFIGURED", "catalog unavailable", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"currency": h.Currency,
		"packs":    h.Packs.List(),
	})
}

// CreateCheckout opens a hosted checkout session for a caregiver and pack.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Provider == nil || h.Packs == nil {
		common.JSONError(w, http.StatusInternalServerError, "BILLING_NOT_CONFIGURED", "checkout unavailable", nil)
		return
	}
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	req.CaregiverID = strings.TrimSpace(req.CaregiverID)
	req.PackID = strings.TrimSpace(req.PackID)
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
	}
	pack, ok := h.Packs.Find(req.PackID)
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PACK_NOT_FOUND", "unknown credit pack", nil)
		return
	}

	intent, err := h.Provider.CreateCheckout(r.Context(), CheckoutRequest{
		CaregiverID: req.CaregiverID,
		Pack:        pack,
		Currency:    h.Currency,
		SuccessURL:  h.SuccessURL,
		CancelURL:   h.CancelURL,
	})
	if err != nil {
		if obs.CheckoutSessionTotal != nil {
			obs.CheckoutSessionTotal.WithLabelValues("error").Inc()
		}
		status := http.StatusBadGateway
		code := "CHECKOUT_FAILED"
		var appErr *common.AppError
		switch {
		case errors.As(err, &appErr):
			status = appErr.HTTPStatus
			code = appErr.Code
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			status = http.StatusGatewayTimeout
		}
		common.JSONError(w, status, code, err.Error(), nil)
		return
	}
	if obs.CheckoutSessionTotal != nil {
		obs.CheckoutSessionTotal.WithLabelValues("created").Inc()
	}
	common.JSON(w, http.StatusOK, checkoutResp{SessionID: intent.SessionID, URL: intent.RedirectURL})
}
