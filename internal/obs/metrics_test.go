package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/care-credits/internal/obs"
)

func TestParseBucketsCSV(t *testing.T) {
	t.Parallel()

	require.Equal(t, []float64{5, 25, 100.5}, obs.ParseBucketsCSV("5, 25,100.5"))
	require.Nil(t, obs.ParseBucketsCSV(""))
	require.Empty(t, obs.ParseBucketsCSV("fast,slow"))
}

func TestDurationMillis(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1500.0, obs.DurationMillis(1500*time.Millisecond))
}

func TestStatusRecorder(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	sr := obs.NewStatusRecorder(rr)
	sr.WriteHeader(http.StatusBadRequest)
	n, err := sr.Write([]byte("nope"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	require.Equal(t, http.StatusBadRequest, sr.Status())
	require.Equal(t, int64(4), sr.BytesWritten())
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	t.Parallel()

	sr := obs.NewStatusRecorder(httptest.NewRecorder())
	_, err := sr.Write([]byte("ok"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, sr.Status())
}

func TestNewHTTPMetricsReregisters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("care", nil, reg)
	require.NotNil(t, first.ReqTotal)

	// a second construction against the same registry must reuse collectors
	second := obs.NewHTTPMetrics("care", nil, reg)
	require.NotNil(t, second.ReqTotal)
}

func TestRoutePatternContext(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits/packs", nil)
	ctx := obs.WithRoutePattern(req.Context(), "/api/v1/credits/packs")
	require.Equal(t, "/api/v1/credits/packs", obs.RoutePatternFromContext(ctx))
	require.Equal(t, "", obs.RoutePatternFromContext(req.Context()))
}
