package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingLedger(ctx context.Context, timeout time.Duration) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker       Checker
	LedgerTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ledgerStatus := "ok"
	if err := h.Checker.PingLedger(r.Context(), h.ledgerTimeout()); err != nil {
		ledgerStatus = err.Error()
	}
	status := map[string]string{"ledger": ledgerStatus}
	w.Header().Set("Content-Type", "application/json")
	if ledgerStatus != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) ledgerTimeout() time.Duration {
	if h.LedgerTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.LedgerTimeout
}
