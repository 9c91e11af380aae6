package config

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CountsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockcount",
		Name:      "counts_submitted_total",
		Help:      "Count submissions accepted, by count slot.",
	}, []string{"count_number"})

	CountSubmissionRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockcount",
		Name:      "count_submissions_rejected_total",
		Help:      "Count submissions rejected, by error code.",
	}, []string{"code"})

	ItemsResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockcount",
		Name:      "items_resolved_total",
		Help:      "Ledger items resolved, by resolution method.",
	}, []string{"method"})

	ItemsFlagged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockcount",
		Name:      "items_flagged_total",
		Help:      "Ledger items flagged, by flag reason.",
	}, []string{"reason"})

	Finalizations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockcount",
		Name:      "finalizations_total",
		Help:      "Finalize attempts, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(CountsSubmitted, CountSubmissionRejected, ItemsResolved, ItemsFlagged, Finalizations)
}
