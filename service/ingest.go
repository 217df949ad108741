package service

import (
	"context"
	"fmt"
	"time"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/ledger"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/normalize"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/pkg/logger"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/queue"
)

// ObjectReader fetches the payload of a raw unit.
type ObjectReader interface {
	Read(ctx context.Context, unit model.RawUnit) ([]byte, error)
}

type IngestOptions struct {
	Lease      time.Duration
	Normalizer normalize.Normalizer
}

// IngestOrchestrator claims raw units, normalizes their records and
// publishes them, at most once per unit identity.
type IngestOrchestrator struct {
	reader     ObjectReader
	ledger     *ledger.Ledger
	publisher  *queue.Publisher
	metrics    *Metrics
	lease      time.Duration
	normalizer normalize.Normalizer
}

func NewIngestOrchestrator(reader ObjectReader, l *ledger.Ledger, pub *queue.Publisher, m *Metrics, opts IngestOptions) *IngestOrchestrator {
	return &IngestOrchestrator{
		reader:     reader,
		ledger:     l,
		publisher:  pub,
		metrics:    m,
		lease:      opts.Lease,
		normalizer: opts.Normalizer,
	}
}

// Run processes units in order. Units owned by another attempt or already
// done are skipped. The first unit that cannot be read, split or published
// is marked failed and ends the invocation with an error; later units are
// left for redelivery.
func (o *IngestOrchestrator) Run(ctx context.Context, units []model.RawUnit) (model.IngestSummary, error) {
	if o.reader == nil || o.ledger == nil || o.publisher == nil || o.metrics == nil {
		return model.IngestSummary{}, fmt.Errorf("%w: ingest needs an object reader, a ledger, a publisher and metrics", ErrConfiguration)
	}
	if o.lease <= 0 {
		return model.IngestSummary{}, fmt.Errorf("%w: ingest lease must be positive", ErrConfiguration)
	}

	start := time.Now()
	defer func() { o.metrics.Duration.WithLabelValues("ingest").Observe(time.Since(start).Seconds()) }()

	summary := model.IngestSummary{Objects: len(units)}
	o.metrics.ObjectsReceived.Add(float64(len(units)))
	logger.Info(ctx, "ingest_start", "objects", len(units))

	for _, unit := range units {
		uctx := logger.With(ctx, logger.UnitKey, unit.Identity)

		claim, err := o.ledger.TryClaim(uctx, unit.Identity, o.lease)
		if err != nil {
			return summary, fmt.Errorf("ingest %s: %w", unit.Identity, err)
		}
		if claim.Outcome != ledger.Claimed {
			summary.Skipped++
			o.metrics.ObjectsSkipped.Inc()
			logger.Info(uctx, "ingest_skip_idempotent", "outcome", claim.Outcome.String())
			continue
		}

		res, err := o.process(uctx, unit)
		if err != nil {
			logger.Error(uctx, "ingest_object_error", "attempt", claim.Attempt, "error", err)
			if ferr := o.ledger.Fail(uctx, claim, err.Error()); ferr != nil {
				logger.Error(uctx, "ingest_ledger_fail_error", "error", ferr)
			}
			return summary, fmt.Errorf("ingest %s: %w", unit.Identity, err)
		}

		summary.Records += res.RecordsParsed
		summary.Enqueued += res.RecordsEnqueued
		summary.Dropped += res.RecordsDropped

		if err := o.ledger.Complete(uctx, claim, res); err != nil {
			return summary, fmt.Errorf("ingest %s: %w", unit.Identity, err)
		}
	}

	logger.Info(ctx, "ingest_done",
		"objects", summary.Objects, "records", summary.Records, "enqueued", summary.Enqueued,
		"dropped", summary.Dropped, "skipped", summary.Skipped)
	return summary, nil
}

func (o *IngestOrchestrator) process(ctx context.Context, unit model.RawUnit) (model.UnitResult, error) {
	data, err := o.reader.Read(ctx, unit)
	if err != nil {
		return model.UnitResult{}, err
	}

	raws, err := normalize.SplitRecords(data)
	if err != nil {
		return model.UnitResult{}, err
	}

	records := make([]model.Record, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		if raw.Err != nil {
			dropped++
			logger.Warn(ctx, "ingest_drop_bad_record", "line_no", raw.LineNo, "error", raw.Err)
			continue
		}
		rec, err := o.normalizer.Normalize(raw.Fields)
		if err != nil {
			dropped++
			logger.Warn(ctx, "ingest_drop_bad_record", "line_no", raw.LineNo, "error", err)
			continue
		}
		rec.Source = &model.Provenance{
			Unit:   unit.Identity,
			Bucket: unit.Bucket,
			Key:    unit.Key,
			ETag:   unit.ETag,
			LineNo: raw.LineNo,
		}
		records = append(records, rec)
	}

	o.metrics.RecordsParsed.Add(float64(len(records)))
	o.metrics.RecordsDropped.Add(float64(dropped))

	sent, err := o.publisher.Publish(ctx, records)
	o.metrics.RecordsEnqueued.Add(float64(sent))
	if err != nil {
		return model.UnitResult{}, fmt.Errorf("publish after %d records: %w", sent, err)
	}

	logger.Info(ctx, "ingest_object_done", "records", len(records), "enqueued", sent, "dropped", dropped)
	return model.UnitResult{
		RecordsParsed:   len(records),
		RecordsEnqueued: sent,
		RecordsDropped:  dropped,
	}, nil
}
