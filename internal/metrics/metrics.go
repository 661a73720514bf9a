package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunOpenAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gfs_run_open_attempts_total",
			Help: "Model run open attempts by product and outcome",
		},
		[]string{"product", "outcome"},
	)

	RunResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gfs_run_resolutions_total",
			Help: "Run resolutions by product and outcome (fresh, fallback, unavailable, schema, out_of_grid)",
		},
		[]string{"product", "outcome"},
	)

	SourceRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gfs_source_request_latency_seconds",
			Help:    "Grid source request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "kind"},
	)

	ForecastRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gfs_forecast_requests_total",
			Help: "Point forecast requests by outcome",
		},
		[]string{"outcome"},
	)

	ForecastLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gfs_forecast_latency_seconds",
			Help:    "End-to-end point forecast latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
)
