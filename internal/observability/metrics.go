package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomJoinsTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "room_joins_total", Help: "Total ride room joins"})
	RoomLeavesTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "room_leaves_total", Help: "Total ride room leaves, explicit and disconnect-driven"})
	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "location_updates_total", Help: "Total accepted location updates"})
	CacheErrorsTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "cache_errors_total", Help: "Total location cache failures"})
	IntegrityErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "integrity_errors_total", Help: "Total ride data integrity violations surfaced"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_sync", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_sync",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
