package queue

import "github.com/prometheus/client_golang/prometheus"

var (
	enqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "setlog",
		Subsystem: "queue",
		Name:      "mutations_enqueued_total",
		Help:      "Number of write intents appended to the mutation queue, by operation.",
	}, []string{"operation"})

	depthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "setlog",
		Subsystem: "queue",
		Name:      "pending_mutations",
		Help:      "Current number of mutations awaiting replay.",
	})
)

func init() {
	prometheus.MustRegister(enqueuedCounter, depthGauge)
}

func recordEnqueued(operation string) {
	enqueuedCounter.WithLabelValues(operation).Inc()
}

func updateDepthGauge(n int) {
	depthGauge.Set(float64(n))
}
