package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, reg *prom.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveRefreshDuration("42", 150*time.Millisecond)
	pr.IncRefreshResult("42", ResultSuccess)
	pr.IncRefreshResult("42", ResultFailed)
	pr.IncRefreshResult("42", ResultFailed)
	pr.IncSharedRefresh("42")
	pr.AddDroppedEntries("42", 3)
	pr.AddDroppedEntries("42", 0)
	pr.SetUpcoming("42", "General", 5)

	body := scrape(t, reg)
	require.Contains(t, body, `bincal_refresh_results_total{household="42",result="success"} 1`)
	require.Contains(t, body, `bincal_refresh_results_total{household="42",result="failed"} 2`)
	require.Contains(t, body, `bincal_refresh_shared_total{household="42"} 1`)
	require.Contains(t, body, `bincal_schedule_entries_dropped_total{household="42"} 3`)
	require.Contains(t, body, `bincal_upcoming_collections{category="General",household="42"} 5`)
	require.Contains(t, body, `bincal_refresh_duration_seconds_count{household="42"} 1`)
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveRefreshDuration("42", time.Second)
	pr.IncRefreshResult("42", ResultSuccess)
	pr.IncSharedRefresh("42")
	pr.AddDroppedEntries("42", 1)
	pr.SetUpcoming("42", "General", 1)
}

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncRefreshResult("42", ResultSuccess)
}
