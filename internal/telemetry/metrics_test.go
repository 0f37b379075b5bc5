package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/sample-ok", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/sample-teapot", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	teapotBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))

	for _, path := range []string{"/sample-ok", "/sample-teapot"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, okBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")))
	require.Equal(t, teapotBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")))
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestPermitAndTabGauges(t *testing.T) {
	inFlight := testutil.ToFloat64(admissionInFlight)
	PermitAcquired(10 * time.Millisecond)
	require.Equal(t, inFlight+1, testutil.ToFloat64(admissionInFlight))
	PermitReleased()
	require.Equal(t, inFlight, testutil.ToFloat64(admissionInFlight))

	tabs := testutil.ToFloat64(browserOpenTabs)
	TabOpened()
	require.Equal(t, tabs+1, testutil.ToFloat64(browserOpenTabs))
	TabClosed("success", time.Second)
	require.Equal(t, tabs, testutil.ToFloat64(browserOpenTabs))
}

func TestObserveOperationCountsOutcome(t *testing.T) {
	before := testutil.ToFloat64(scraperOperationsTotal.WithLabelValues("sample_op", "success"))
	ObserveOperation("sample_op", "success", time.Second)
	require.Equal(t, before+1, testutil.ToFloat64(scraperOperationsTotal.WithLabelValues("sample_op", "success")))
}

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", SanitizeSite("https://Example.com/path"))
	require.Equal(t, "example.com", SanitizeSite("example.com"))
	require.Equal(t, "unknown", SanitizeSite("http://"))
}
