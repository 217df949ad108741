package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/config"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/normalize"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/pkg/logger"
)

type QualityRequest struct {
	RecordType        model.Kind `json:"record_type,omitempty"`
	Since             string     `json:"since,omitempty"`
	MinParquetObjects int        `json:"min_parquet_objects,omitempty"`
}

type QualityResult struct {
	OK          bool    `json:"ok"`
	Found       int     `json:"found"`
	MinRequired int     `json:"min_required"`
	Prefix      string  `json:"prefix"`
	Since       string  `json:"since"`
	Newest      *string `json:"newest"`
}

// QualityProbe checks that recent Parquet output exists for a kind.
type QualityProbe struct {
	store  ObjectStore
	bucket string
	prefix string
	cfg    config.QualityConfig
	now    func() time.Time
}

func NewQualityProbe(store ObjectStore, bucket, silverPrefix string, cfg config.QualityConfig) *QualityProbe {
	return &QualityProbe{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(silverPrefix, "/"),
		cfg:    cfg,
		now:    time.Now,
	}
}

func (q *QualityProbe) Check(ctx context.Context, req QualityRequest) (QualityResult, error) {
	kind := req.RecordType
	if kind == "" {
		kind = model.KindShipments
	}
	if _, ok := model.SchemaFor(kind); !ok {
		return QualityResult{}, fmt.Errorf("%w: unknown record_type %q", ErrInvalidRequest, kind)
	}

	since := q.now().UTC().Add(-time.Duration(q.cfg.LookbackHours) * time.Hour)
	if req.Since != "" {
		t, err := normalize.ParseTimestamp(req.Since)
		if err != nil {
			return QualityResult{}, fmt.Errorf("%w: since: %v", ErrInvalidRequest, err)
		}
		since = t
	}
	minRequired := req.MinParquetObjects
	if minRequired <= 0 {
		minRequired = q.cfg.MinParquetObjects
	}

	res := QualityResult{
		MinRequired: minRequired,
		Prefix:      q.prefix + "/" + string(kind) + "/",
		Since:       normalize.FormatTimestamp(since),
	}
	objects, err := q.store.List(ctx, q.bucket, res.Prefix)
	if err != nil {
		return res, err
	}

	var newest time.Time
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, ".parquet") || obj.LastModified.Before(since) {
			continue
		}
		res.Found++
		if obj.LastModified.After(newest) {
			newest = obj.LastModified
		}
	}
	if res.Found > 0 {
		s := normalize.FormatTimestamp(newest)
		res.Newest = &s
	}
	res.OK = res.Found >= minRequired

	logger.Info(ctx, "quality_check", "ok", res.OK, "found", res.Found, "min_required", minRequired,
		"bucket", q.bucket, "prefix", res.Prefix, "since", res.Since)
	return res, nil
}
