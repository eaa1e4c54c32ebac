package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	governanceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "governance",
		Subsystem: "change_requests",
		Name:      "transitions_total",
		Help:      "Total number of change request operations broken down by entity type, transition and result.",
	}, []string{"entity_type", "transition", "result"})

	governanceRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "governance",
		Subsystem: "change_requests",
		Name:      "rejections_total",
		Help:      "Total number of rejected change request operations broken down by reason.",
	}, []string{"reason"})

	governanceApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "governance",
		Name:      "apply_duration_seconds",
		Help:      "Duration of change request apply attempts.",
		Buckets:   prometheus.DefBuckets,
	})
)

func recordTransition(entityType, transition, result string) {
	if entityType == "" {
		entityType = "unknown"
	}
	governanceTransitions.WithLabelValues(entityType, transition, result).Inc()
}

func recordRejection(err error) {
	governanceRejections.WithLabelValues(rejectionReason(err)).Inc()
}
