package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/care-credits/internal/health"
)

type stubChecker struct {
	err     error
	timeout time.Duration
}

func (s *stubChecker) PingLedger(_ context.Context, timeout time.Duration) error {
	s.timeout = timeout
	return s.err
}

func TestLive(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadyOK(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{}
	h := health.Handler{Checker: checker, LedgerTimeout: 250 * time.Millisecond}
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "ok", body["ledger"])
	require.Equal(t, 250*time.Millisecond, checker.timeout)
}

func TestReadyLedgerDown(t *testing.T) {
	t.Parallel()

	h := health.Handler{Checker: &stubChecker{err: errors.New("ledger unavailable: 502 Bad Gateway")}}
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Contains(t, body["ledger"], "unavailable")
}

func TestReadyWithoutChecker(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	health.Handler{}.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
