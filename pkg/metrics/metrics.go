// Package metrics exposes Prometheus metrics for the replicator.
//
//   - replicator_replications_total: replications by result and error kind
//   - replicator_bytes_transferred_total: bytes committed to the destination
//   - replicator_replication_duration_seconds: end-to-end latency histogram
//   - replicator_retries_total: retried backend operations
//   - replicator_recorder_failures_total: failed record appends
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReplicationsTotal counts finished replications.
	ReplicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_replications_total",
			Help: "Total number of replication requests by result",
		},
		[]string{"status", "kind"},
	)

	// BytesTransferred counts bytes written to the destination.
	BytesTransferred = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replicator_bytes_transferred_total",
			Help: "Total bytes written to the destination",
		},
	)

	// ReplicationDuration tracks how long a replication took.
	ReplicationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replicator_replication_duration_seconds",
			Help:    "Replication duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 900, 1800},
		},
		[]string{"status"},
	)

	// RetriesTotal counts operations retried after a transient failure.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_retries_total",
			Help: "Total number of retried backend operations",
		},
		[]string{"backend", "op"},
	)

	// RecorderFailures counts record appends that failed.
	RecorderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replicator_recorder_failures_total",
			Help: "Total number of failed record appends",
		},
		[]string{"recorder"},
	)
)

// RecordReplication records the outcome of one replication. kind is empty
// for successful outcomes.
func RecordReplication(status, kind string, bytes uint64, duration time.Duration) {
	ReplicationsTotal.WithLabelValues(status, kind).Inc()
	ReplicationDuration.WithLabelValues(status).Observe(duration.Seconds())
	if bytes > 0 {
		BytesTransferred.Add(float64(bytes))
	}
}

// RecordRetry records one retried backend operation.
func RecordRetry(backend, op string) {
	RetriesTotal.WithLabelValues(backend, op).Inc()
}

// RecordRecorderFailure records a failed append to the named recorder.
func RecordRecorderFailure(recorder string) {
	RecorderFailures.WithLabelValues(recorder).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
