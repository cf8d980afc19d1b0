package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Search and ingestion metrics.
var (
	SearchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricemonitor_search_requests_total",
		Help: "Product source searches by source kind and outcome.",
	}, []string{"source", "status"})

	SearchCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricemonitor_search_cache_hits_total",
		Help: "Searches answered from the redis result cache.",
	})

	ObservationsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricemonitor_observations_recorded_total",
		Help: "Price observations appended to the ledger.",
	})

	RecordFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricemonitor_record_failures_total",
		Help: "Rejected or failed observation writes by reason.",
	}, []string{"reason"})

	AlertsDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricemonitor_alerts_detected_total",
		Help: "Price-drop alerts produced by detector scans.",
	})

	NotificationsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricemonitor_notifications_sent_total",
		Help: "Price-drop emails sent.",
	})
)

// Rate limiter metrics, shared with internal/pkg/ratelimit.
var (
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricemonitor_ratelimit_wait_seconds",
		Help:    "Time spent waiting on the scrape rate limiter.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricemonitor_ratelimit_timeouts_total",
		Help: "Rate limiter waits aborted by context cancellation.",
	})
)
