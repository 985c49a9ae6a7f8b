package httpapi

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	appErrors    *prometheus.CounterVec
	merges       *prometheus.CounterVec
	namespaces   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submerge_http_requests_total",
				Help: "HTTP requests by ServeMux pattern and status.",
			},
			[]string{"pattern", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "submerge_http_request_duration_seconds",
				Help:    "HTTP request latency by ServeMux pattern.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pattern"},
		),
		appErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submerge_app_errors_total",
				Help: "Application errors returned to clients.",
			},
			[]string{"stage", "code"},
		),
		merges: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submerge_merges_total",
				Help: "Merge requests by result.",
			},
			[]string{"result"},
		),
		namespaces: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "submerge_merge_namespaces",
			Help:    "Number of sources per successful merge.",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		}),
	}
}

func (m *metrics) observeRequest(pattern string, status int, dur time.Duration) {
	if pattern == "" {
		pattern = "(unknown)"
	}
	m.httpRequests.WithLabelValues(pattern, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(pattern).Observe(dur.Seconds())
}

func (m *metrics) appError(stage, code string) {
	if stage == "" {
		stage = "(unknown)"
	}
	if code == "" {
		code = "(unknown)"
	}
	m.appErrors.WithLabelValues(stage, code).Inc()
}
