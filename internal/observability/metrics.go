package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	logPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "setlog",
		Subsystem: "persistence",
		Name:      "last_log_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent exercise log persisted to Postgres.",
	})
	logSyncedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "setlog",
		Subsystem: "persistence",
		Name:      "last_log_synced_timestamp_seconds",
		Help:      "Unix timestamp of the most recent exercise log transitioned to synced.",
	})
	duplicateCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "setlog",
		Subsystem: "persistence",
		Name:      "duplicate_submissions_total",
		Help:      "Number of submissions short-circuited by the idempotency ledger.",
	})
)

func init() {
	prometheus.MustRegister(logPersistGauge, logSyncedGauge, duplicateCounter)
}

// RecordLogPersisted updates the persistence watermark gauge.
func RecordLogPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	logPersistGauge.Set(float64(ts.Unix()))
}

// RecordLogSynced updates the synced watermark gauge.
func RecordLogSynced(ts time.Time) {
	if ts.IsZero() {
		return
	}
	logSyncedGauge.Set(float64(ts.Unix()))
}

// RecordDuplicateSubmission counts an idempotent replay.
func RecordDuplicateSubmission() {
	duplicateCounter.Inc()
}
