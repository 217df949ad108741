package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "serverless_elt"

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	ObjectsReceived     prometheus.Counter
	ObjectsSkipped      prometheus.Counter
	RecordsParsed       prometheus.Counter
	RecordsEnqueued     prometheus.Counter
	RecordsDropped      prometheus.Counter
	MessagesReceived    prometheus.Counter
	MessagesFailed      prometheus.Counter
	FilesWritten        prometheus.Counter
	NotificationsFailed prometheus.Counter
	Duration            *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		ObjectsReceived:     counter("objects_received_total", "Raw objects handed to the ingest stage"),
		ObjectsSkipped:      counter("objects_skipped_idempotent_total", "Raw objects skipped because another attempt owns or finished them"),
		RecordsParsed:       counter("records_parsed_total", "Records that passed normalization"),
		RecordsEnqueued:     counter("records_enqueued_total", "Records published to the queue"),
		RecordsDropped:      counter("records_dropped_total", "Records rejected during normalization"),
		MessagesReceived:    counter("messages_received_total", "Queue messages handed to the transform stage"),
		MessagesFailed:      counter("messages_failed_total", "Queue messages reported for redelivery"),
		FilesWritten:        counter("files_written_total", "Parquet files written"),
		NotificationsFailed: counter("notifications_failed_total", "Partition-ready notifications that were not delivered"),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "invocation_duration_seconds",
			Help:      "Duration of one stage invocation",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.ObjectsReceived, m.ObjectsSkipped,
		m.RecordsParsed, m.RecordsEnqueued, m.RecordsDropped,
		m.MessagesReceived, m.MessagesFailed,
		m.FilesWritten, m.NotificationsFailed,
		m.Duration,
	)
	return m
}
