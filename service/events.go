package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/pkg/logger"
)

// ErrMalformedEvent is returned for notification records without a bucket or key.
var ErrMalformedEvent = errors.New("malformed object event")

// UnitsFromNotification converts the object-created records of an S3 or
// MinIO bucket notification into raw units. Keys arrive URL-encoded with
// '+' for spaces.
func UnitsFromNotification(info notification.Info) ([]model.RawUnit, error) {
	units := make([]model.RawUnit, 0, len(info.Records))
	for i, rec := range info.Records {
		if rec.EventName != "" && !strings.Contains(rec.EventName, "ObjectCreated:") {
			continue
		}
		bucket := rec.S3.Bucket.Name
		rawKey := rec.S3.Object.Key
		if bucket == "" || rawKey == "" {
			return nil, fmt.Errorf("%w: record %d has no bucket or key", ErrMalformedEvent, i)
		}
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d key %q: %v", ErrMalformedEvent, i, rawKey, err)
		}
		units = append(units, model.NewRawUnit(bucket, key, strings.Trim(rec.S3.Object.ETag, `"`)))
	}
	return units, nil
}

// UnitFilter keeps units whose key starts with Prefix and ends with one of
// Suffixes. Empty fields match everything.
type UnitFilter struct {
	Prefix   string
	Suffixes []string
}

func (f UnitFilter) Match(u model.RawUnit) bool {
	if !strings.HasPrefix(u.Key, f.Prefix) {
		return false
	}
	if len(f.Suffixes) == 0 {
		return true
	}
	for _, s := range f.Suffixes {
		if strings.HasSuffix(u.Key, s) {
			return true
		}
	}
	return false
}

func (f UnitFilter) Apply(units []model.RawUnit) []model.RawUnit {
	out := units[:0:0]
	for _, u := range units {
		if f.Match(u) {
			out = append(out, u)
		}
	}
	return out
}

// ListenRaw subscribes to object-created notifications on the raw bucket
// and runs ingest for every matching batch until ctx is cancelled. A failed
// ingest is logged; the ledger keeps the unit reclaimable for the next event
// or replay.
func (s *MinioService) ListenRaw(ctx context.Context, filter UnitFilter, ingest *IngestOrchestrator) error {
	events := []string{"s3:ObjectCreated:*"}
	for info := range s.client.ListenBucketNotification(ctx, s.config.RawBucket, filter.Prefix, "", events) {
		if info.Err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bucket notification stream: %w", info.Err)
		}

		units, err := UnitsFromNotification(info)
		if err != nil {
			logger.Warn(ctx, "ingest_bad_notification", "error", err)
			continue
		}
		units = filter.Apply(units)
		if len(units) == 0 {
			continue
		}

		summary, err := ingest.Run(ctx, units)
		if err != nil {
			logger.Error(ctx, "ingest_listen_failed", "objects", len(units), "error", err)
			continue
		}
		logger.Info(ctx, "ingest_listen_done",
			"objects", summary.Objects, "enqueued", summary.Enqueued, "skipped", summary.Skipped)
	}
	return nil
}
