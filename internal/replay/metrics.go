package replay

import "github.com/prometheus/client_golang/prometheus"

var (
	passCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "setlog",
		Subsystem: "replay",
		Name:      "passes_total",
		Help:      "Number of completed replay passes.",
	})

	passSizeHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "setlog",
		Subsystem: "replay",
		Name:      "pass_items",
		Help:      "Queue items attempted per replay pass.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	})

	passUnresolvedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "setlog",
		Subsystem: "replay",
		Name:      "last_pass_unresolved",
		Help:      "Items the most recent pass left queued or parked as failed.",
	})

	itemOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "setlog",
		Subsystem: "replay",
		Name:      "items_total",
		Help:      "Replayed queue items by operation and outcome.",
	}, []string{"operation", "outcome"})
)

func init() {
	prometheus.MustRegister(passCounter, passSizeHistogram, passUnresolvedGauge, itemOutcomeCounter)
}

func recordPass(report Report) {
	passCounter.Inc()
	passSizeHistogram.Observe(float64(report.Attempted))
	passUnresolvedGauge.Set(float64(report.Transient + report.Permanent))
}

func recordItemOutcome(operation, outcome string) {
	itemOutcomeCounter.WithLabelValues(operation, outcome).Inc()
}
