// Package partition groups normalized records by (kind, date) and writes each
// group as bounded Parquet files to a Sink.
package partition

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/normalize"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/pkg/logger"
)

const (
	DefaultMaxRecordsPerFile = 5000
	DefaultConcurrency       = 4
)

// Sink stores one encoded file at path.
type Sink interface {
	Put(ctx context.Context, path string, data []byte) error
}

// Item is a normalized record together with the message it came from.
type Item struct {
	MessageID string
	Record    model.Record
}

// Group is the set of items sharing a partition key, in input order.
type Group struct {
	Key   model.PartitionKey
	Items []Item
}

// GroupResult reports what happened to one group.
type GroupResult struct {
	Key       model.PartitionKey
	Files     []string
	Records   int
	FailedIDs []string
}

// Config controls file layout and parallelism.
type Config struct {
	Prefix            string
	MaxRecordsPerFile int
	Concurrency       int
}

// Writer encodes and stores partition groups.
type Writer struct {
	sink  Sink
	cfg   Config
	now   func() time.Time
	newID func() string
}

type Option func(*Writer)

func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithIDGenerator replaces the per-file unique id source.
func WithIDGenerator(f func() string) Option {
	return func(w *Writer) { w.newID = f }
}

func NewWriter(sink Sink, cfg Config, opts ...Option) *Writer {
	if cfg.MaxRecordsPerFile <= 0 {
		cfg.MaxRecordsPerFile = DefaultMaxRecordsPerFile
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	w := &Writer{
		sink:  sink,
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// GroupItems partitions items by kind and the UTC date of event_time, falling
// back to today for records without one. Groups keep first-appearance order.
func GroupItems(items []Item, today string) []Group {
	index := make(map[model.PartitionKey]int)
	var groups []Group
	for _, it := range items {
		key := model.PartitionKey{Kind: it.Record.Kind, Date: today}
		if ts, ok := it.Record.EventTime(); ok {
			if d, ok := normalize.PartitionDate(ts); ok {
				key.Date = d
			}
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

// Write groups items and writes every group, running up to Concurrency groups
// at once. A failed chunk marks all of its message ids failed; other chunks
// and groups are unaffected. Results are in group order.
func (w *Writer) Write(ctx context.Context, invocationID string, items []Item) []GroupResult {
	groups := GroupItems(items, w.now().UTC().Format(time.DateOnly))
	results := make([]GroupResult, len(groups))

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for i := range groups {
		g.Go(func() error {
			results[i] = w.writeGroup(ctx, invocationID, groups[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (w *Writer) writeGroup(ctx context.Context, invocationID string, grp Group) GroupResult {
	res := GroupResult{Key: grp.Key}
	for start := 0; start < len(grp.Items); start += w.cfg.MaxRecordsPerFile {
		chunk := grp.Items[start:min(start+w.cfg.MaxRecordsPerFile, len(grp.Items))]

		path, err := w.writeChunk(ctx, invocationID, grp.Key, chunk)
		if err != nil {
			logger.Error(ctx, "transform_write_failed",
				"record_type", grp.Key.Kind, "dt", grp.Key.Date, "records", len(chunk), "error", err)
			for _, it := range chunk {
				res.FailedIDs = append(res.FailedIDs, it.MessageID)
			}
			continue
		}
		logger.Info(ctx, "transform_write_ok",
			"record_type", grp.Key.Kind, "dt", grp.Key.Date, "records", len(chunk), "path", path)
		res.Files = append(res.Files, path)
		res.Records += len(chunk)
	}
	return res
}

func (w *Writer) writeChunk(ctx context.Context, invocationID string, key model.PartitionKey, chunk []Item) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	records := make([]model.Record, len(chunk))
	for i, it := range chunk {
		records[i] = it.Record
	}
	data, err := EncodeParquet(key.Kind, records)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	path := w.Path(invocationID, key)
	if err := w.sink.Put(ctx, path, data); err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	return path, nil
}

// Path returns a fresh object path for one file of key. Each call yields a
// new name, so a replayed invocation never overwrites earlier output.
func (w *Writer) Path(invocationID string, key model.PartitionKey) string {
	name := fmt.Sprintf("%s/dt=%s/batch_%s_%s.parquet", key.Kind, key.Date, invocationID, w.newID())
	if w.cfg.Prefix == "" {
		return name
	}
	return w.cfg.Prefix + "/" + name
}

// MemorySink keeps written files in memory.
type MemorySink struct {
	mu    sync.Mutex
	files map[string][]byte
	// Fail, when set, is consulted before each Put.
	Fail func(path string) error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{files: make(map[string][]byte)}
}

func (s *MemorySink) Put(_ context.Context, path string, data []byte) error {
	if s.Fail != nil {
		if err := s.Fail(path); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.files[path]; exists {
		return fmt.Errorf("object %s already exists", path)
	}
	s.files[path] = append([]byte(nil), data...)
	return nil
}

// Files returns a copy of the stored files keyed by path.
func (s *MemorySink) Files() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.files))
	for k, v := range s.files {
		out[k] = v
	}
	return out
}
