package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesProposed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parcel_matching", Name: "matches_proposed_total", Help: "Matches successfully proposed"})
	MatchConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "parcel_matching", Name: "match_conflicts_total", Help: "Propose attempts lost to a conflict"},
		[]string{"reason"},
	)
	PartialMatches      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parcel_matching", Name: "partial_matches_total", Help: "Sagas that stopped mid-flight and await recovery"})
	SagaRecoveries      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parcel_matching", Name: "saga_recoveries_total", Help: "Forward-recovery passes completed"})
	DeliveriesConfirmed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parcel_matching", Name: "deliveries_confirmed_total", Help: "Matches confirmed delivered"})
	ReviewsRecorded     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parcel_matching", Name: "reviews_recorded_total", Help: "Reviews accepted by the aggregator"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "parcel_matching", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parcel_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
