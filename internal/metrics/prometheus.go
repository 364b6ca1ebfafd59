package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	refreshDuration *prom.HistogramVec
	refreshResults  *prom.CounterVec
	sharedRefreshes *prom.CounterVec
	droppedEntries  *prom.CounterVec
	upcoming        *prom.GaugeVec
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
// A nil reg gets a fresh private registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		refreshDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "bincal",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of schedule refreshes (fetch, normalize, aggregate)",
			Buckets:   prom.DefBuckets,
		}, []string{"household"}),
		refreshResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bincal",
			Name:      "refresh_results_total",
			Help:      "Refresh outcomes by household",
		}, []string{"household", "result"}),
		sharedRefreshes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bincal",
			Name:      "refresh_shared_total",
			Help:      "Refresh requests that joined a refresh already in flight",
		}, []string{"household"}),
		droppedEntries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bincal",
			Name:      "schedule_entries_dropped_total",
			Help:      "Upstream entries skipped because their date could not be read",
		}, []string{"household"}),
		upcoming: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "bincal",
			Name:      "upcoming_collections",
			Help:      "Upcoming collection dates in the current aggregate",
		}, []string{"household", "category"}),
	}
	reg.MustRegister(pr.refreshDuration, pr.refreshResults, pr.sharedRefreshes, pr.droppedEntries, pr.upcoming)
	return pr
}

func (p *PrometheusRecorder) ObserveRefreshDuration(household string, d time.Duration) {
	if p == nil || p.refreshDuration == nil {
		return
	}
	p.refreshDuration.WithLabelValues(household).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRefreshResult(household string, result ResultLabel) {
	if p == nil || p.refreshResults == nil {
		return
	}
	p.refreshResults.WithLabelValues(household, string(result)).Inc()
}

func (p *PrometheusRecorder) IncSharedRefresh(household string) {
	if p == nil || p.sharedRefreshes == nil {
		return
	}
	p.sharedRefreshes.WithLabelValues(household).Inc()
}

func (p *PrometheusRecorder) AddDroppedEntries(household string, n int) {
	if p == nil || p.droppedEntries == nil || n <= 0 {
		return
	}
	p.droppedEntries.WithLabelValues(household).Add(float64(n))
}

func (p *PrometheusRecorder) SetUpcoming(household, category string, n int) {
	if p == nil || p.upcoming == nil {
		return
	}
	p.upcoming.WithLabelValues(household, category).Set(float64(n))
}

// HTTPHandler serves the metrics registered on reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
