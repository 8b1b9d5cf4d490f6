package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveUpstreamLabelsTransportErrors(t *testing.T) {
	Init()
	before := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("doaj", "error"))
	ObserveUpstream("doaj", 0, time.Millisecond)
	ObserveUpstream("doaj", 429, time.Millisecond)
	require.InDelta(t, before+1, testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("doaj", "error")), 1e-9)
	require.GreaterOrEqual(t, testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("doaj", "429")), 1.0)
}

func TestObserveRotationAndJournal(t *testing.T) {
	Init()
	rot := testutil.ToFloat64(credentialRotationsTotal.WithLabelValues("crossref"))
	ObserveRotation("crossref")
	require.InDelta(t, rot+1, testutil.ToFloat64(credentialRotationsTotal.WithLabelValues("crossref")), 1e-9)

	ok := testutil.ToFloat64(journalsProcessedTotal.WithLabelValues("succeeded"))
	ObserveJournal("succeeded")
	require.InDelta(t, ok+1, testutil.ToFloat64(journalsProcessedTotal.WithLabelValues("succeeded")), 1e-9)
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/runs/{run_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")), 1e-9)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
