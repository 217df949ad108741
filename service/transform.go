package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/normalize"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/partition"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/pkg/logger"
)

type TransformOptions struct {
	// Bucket and Prefix locate the written files in notifications.
	Bucket     string
	Prefix     string
	Normalizer normalize.Normalizer
}

// TransformOrchestrator turns a batch of queued messages into partitioned
// Parquet files and reports the messages that must be redelivered.
type TransformOrchestrator struct {
	writer     *partition.Writer
	notifier   Notifier
	metrics    *Metrics
	bucket     string
	prefix     string
	normalizer normalize.Normalizer
}

// NewTransformOrchestrator builds an orchestrator. notifier may be nil.
func NewTransformOrchestrator(w *partition.Writer, notifier Notifier, m *Metrics, opts TransformOptions) *TransformOrchestrator {
	return &TransformOrchestrator{
		writer:     w,
		notifier:   notifier,
		metrics:    m,
		bucket:     opts.Bucket,
		prefix:     opts.Prefix,
		normalizer: opts.Normalizer,
	}
}

// Run processes one batch. Per-message and per-chunk failures are reported in
// the result, never as an error; an error means nothing was attempted.
func (o *TransformOrchestrator) Run(ctx context.Context, invocationID string, messages []model.Message) (model.TransformResult, error) {
	if o.writer == nil || o.metrics == nil || o.bucket == "" {
		return model.TransformResult{}, fmt.Errorf("%w: transform needs a sink, an output bucket and metrics", ErrConfiguration)
	}
	if invocationID == "" {
		invocationID = uuid.NewString()
	}
	ctx = logger.With(ctx, logger.InvocationIDKey, invocationID)

	start := time.Now()
	defer func() { o.metrics.Duration.WithLabelValues("transform").Observe(time.Since(start).Seconds()) }()
	o.metrics.MessagesReceived.Add(float64(len(messages)))

	failed := make(map[string]bool)
	items := make([]partition.Item, 0, len(messages))
	for _, m := range messages {
		rec, err := o.decode(m.Body)
		if err != nil {
			logger.Warn(ctx, "transform_bad_message", "message_id", m.ID, "error", err)
			if m.ID != "" {
				failed[m.ID] = true
			}
			continue
		}
		items = append(items, partition.Item{MessageID: m.ID, Record: rec})
	}

	result := model.TransformResult{Partitions: make(map[model.PartitionKey]int)}
	var ready []PartitionReady
	for _, g := range o.writer.Write(ctx, invocationID, items) {
		for _, id := range g.FailedIDs {
			if id != "" {
				failed[id] = true
			}
		}
		if len(g.Files) == 0 {
			continue
		}
		result.FilesWritten += len(g.Files)
		result.Partitions[g.Key] = len(g.Files)
		ready = append(ready, PartitionReady{
			Bucket:       o.bucket,
			Prefix:       o.prefix,
			RecordType:   g.Key.Kind,
			Date:         g.Key.Date,
			FilesWritten: len(g.Files),
		})
	}

	if o.notifier != nil && len(ready) > 0 {
		if err := o.notifier.PartitionsReady(ctx, ready); err != nil {
			n := len(ready)
			var nerr *NotifyError
			if errors.As(err, &nerr) {
				n = nerr.Failed
			}
			o.metrics.NotificationsFailed.Add(float64(n))
			logger.Warn(ctx, "quality_events_emit_error", "error", err)
		}
	}

	// Input order, each id once.
	result.Failures = []model.BatchItemFailure{}
	for _, m := range messages {
		if failed[m.ID] {
			result.Failures = append(result.Failures, model.BatchItemFailure{ItemIdentifier: m.ID})
			delete(failed, m.ID)
		}
	}

	o.metrics.FilesWritten.Add(float64(result.FilesWritten))
	o.metrics.MessagesFailed.Add(float64(len(result.Failures)))
	logger.Info(ctx, "transform_done",
		"messages", len(messages), "files", result.FilesWritten,
		"partitions", len(result.Partitions), "failed", len(result.Failures))
	return result, nil
}

func (o *TransformOrchestrator) decode(body string) (model.Record, error) {
	raw, err := normalize.DecodeObject([]byte(body))
	if err != nil {
		return model.Record{}, err
	}
	return o.normalizer.Normalize(raw)
}
