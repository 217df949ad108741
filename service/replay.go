package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/config"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/normalize"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/pkg/logger"
)

// ReplayRequest selects raw objects to feed through ingest again.
type ReplayRequest struct {
	SrcPrefix      string `json:"src_prefix"`
	DestPrefixBase string `json:"dest_prefix_base,omitempty"`
	Execution      string `json:"execution_name,omitempty"`
	Start          string `json:"start,omitempty"`
	End            string `json:"end,omitempty"`
	WindowHours    int    `json:"window_hours,omitempty"`
}

type ReplayResult struct {
	Scanned    int    `json:"scanned"`
	Copied     int    `json:"copied"`
	DestPrefix string `json:"dest_prefix"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

// Replayer copies raw objects to fresh keys under the raw prefix so the
// normal object-created path ingests them again with new unit identities.
type Replayer struct {
	store     ObjectStore
	bucket    string
	rawPrefix string
	cfg       config.ReplayConfig
	now       func() time.Time
}

func NewReplayer(store ObjectStore, bucket, rawPrefix string, cfg config.ReplayConfig) *Replayer {
	return &Replayer{store: store, bucket: bucket, rawPrefix: rawPrefix, cfg: cfg, now: time.Now}
}

func (r *Replayer) Run(ctx context.Context, req ReplayRequest) (ReplayResult, error) {
	if req.SrcPrefix == "" {
		return ReplayResult{}, fmt.Errorf("%w: src_prefix is required", ErrInvalidRequest)
	}
	destBase := req.DestPrefixBase
	if destBase == "" {
		destBase = r.cfg.DestPrefixBase
	}
	if !strings.HasPrefix(destBase, r.rawPrefix) {
		return ReplayResult{}, fmt.Errorf("%w: dest_prefix_base must start with %q to trigger ingest", ErrInvalidRequest, r.rawPrefix)
	}

	now := r.now().UTC()
	window := req.WindowHours
	if window <= 0 {
		window = r.cfg.WindowHours
	}
	start, end := now.Add(-time.Duration(window)*time.Hour), now
	var err error
	if req.Start != "" {
		if start, err = normalize.ParseTimestamp(req.Start); err != nil {
			return ReplayResult{}, fmt.Errorf("%w: start: %v", ErrInvalidRequest, err)
		}
	}
	if req.End != "" {
		if end, err = normalize.ParseTimestamp(req.End); err != nil {
			return ReplayResult{}, fmt.Errorf("%w: end: %v", ErrInvalidRequest, err)
		}
	}
	if end.Before(start) {
		return ReplayResult{}, fmt.Errorf("%w: end is before start", ErrInvalidRequest)
	}

	execution := req.Execution
	if execution == "" {
		execution = "run-" + now.Format("20060102T150405Z")
	}
	destPrefix := strings.TrimRight(destBase, "/") + "/" + execution

	res := ReplayResult{
		DestPrefix: destPrefix,
		Start:      normalize.FormatTimestamp(start),
		End:        normalize.FormatTimestamp(end),
	}
	logger.Info(ctx, "replay_start", "bucket", r.bucket, "src_prefix", req.SrcPrefix,
		"dest_prefix", destPrefix, "start", res.Start, "end", res.End)

	objects, err := r.store.List(ctx, r.bucket, req.SrcPrefix)
	if err != nil {
		return res, err
	}
	for _, obj := range objects {
		res.Scanned++
		if obj.LastModified.Before(start) || obj.LastModified.After(end) {
			continue
		}
		if err := r.store.Copy(ctx, r.bucket, obj.Key, destPrefix+"/"+obj.Key); err != nil {
			return res, err
		}
		res.Copied++
	}

	logger.Info(ctx, "replay_done", "scanned", res.Scanned, "copied", res.Copied)
	return res, nil
}
