package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/ledger"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/normalize"
	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/queue"
)

type fakeReader struct {
	objects map[string]string
	err     error
	reads   int
}

func (r *fakeReader) Read(_ context.Context, unit model.RawUnit) ([]byte, error) {
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	data, ok := r.objects[unit.Key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return []byte(data), nil
}

type ingestFixture struct {
	reader    *fakeReader
	ledger    *ledger.Ledger
	transport *queue.MemoryTransport
	metrics   *Metrics
	orch      *IngestOrchestrator
}

func newIngestFixture(objects map[string]string) *ingestFixture {
	f := &ingestFixture{
		reader:    &fakeReader{objects: objects},
		ledger:    ledger.New(ledger.NewMemoryStore()),
		transport: queue.NewMemoryTransport(),
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	f.orch = NewIngestOrchestrator(f.reader, f.ledger, queue.NewPublisher(f.transport), f.metrics,
		IngestOptions{Lease: 15 * time.Minute})
	return f
}

const shipmentsJSONL = `{"record_type":"shipments","shipment_id":"s1","event_time":"2025-01-01T10:00:00Z","weight_kg":1.5}
{"record_type":"shipments","shipment_id":"s2","event_time":"2025-01-01T11:00:00+02:00"}
{"record_type":"shipments","shipment_id":"s3","event_time":"2025-01-02T00:00:00Z","carrier":"ups"}
{"record_type":"shipments",
`

func TestIngest_DropsBadLinesAndCompletes(t *testing.T) {
	f := newIngestFixture(map[string]string{"bronze/a.jsonl": shipmentsJSONL})
	unit := model.NewRawUnit("raw", "bronze/a.jsonl", "e1")
	ctx := context.Background()

	summary, err := f.orch.Run(ctx, []model.RawUnit{unit})
	require.NoError(t, err)
	assert.Equal(t, model.IngestSummary{Objects: 1, Records: 3, Enqueued: 3, Dropped: 1}, summary)

	entry, err := f.ledger.Get(ctx, unit.Identity)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, entry.Status)

	var res model.UnitResult
	require.NoError(t, json.Unmarshal(entry.Result, &res))
	assert.Equal(t, model.UnitResult{RecordsParsed: 3, RecordsEnqueued: 3, RecordsDropped: 1}, res)

	msgs := f.transport.Messages()
	require.Len(t, msgs, 3)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Body), &body))
	assert.Equal(t, "2025-01-01T09:00:00Z", body["event_time"])
	src, ok := body[model.SourceField].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, unit.Identity, src["unit"])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RecordsDropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.RecordsEnqueued))
}

func TestIngest_SecondRunIsSkipped(t *testing.T) {
	f := newIngestFixture(map[string]string{"bronze/a.jsonl": shipmentsJSONL})
	units := []model.RawUnit{model.NewRawUnit("raw", "bronze/a.jsonl", "e1")}
	ctx := context.Background()

	_, err := f.orch.Run(ctx, units)
	require.NoError(t, err)

	summary, err := f.orch.Run(ctx, units)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Enqueued)
	assert.Equal(t, 1, f.reader.reads)
	assert.Len(t, f.transport.Messages(), 3)
}

func TestIngest_NewETagIsANewUnit(t *testing.T) {
	f := newIngestFixture(map[string]string{"bronze/a.jsonl": shipmentsJSONL})
	ctx := context.Background()

	_, err := f.orch.Run(ctx, []model.RawUnit{model.NewRawUnit("raw", "bronze/a.jsonl", "e1")})
	require.NoError(t, err)
	summary, err := f.orch.Run(ctx, []model.RawUnit{model.NewRawUnit("raw", "bronze/a.jsonl", "e2")})
	require.NoError(t, err)
	assert.Zero(t, summary.Skipped)
	assert.Len(t, f.transport.Messages(), 6)
}

func TestIngest_ReadFailureMarksFailed(t *testing.T) {
	f := newIngestFixture(nil)
	f.reader.err = ErrAccessDenied
	unit := model.NewRawUnit("raw", "bronze/a.jsonl", "e1")
	ctx := context.Background()

	_, err := f.orch.Run(ctx, []model.RawUnit{unit})
	require.ErrorIs(t, err, ErrAccessDenied)

	entry, err := f.ledger.Get(ctx, unit.Identity)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, entry.Status)
	assert.Contains(t, entry.Error, "access denied")

	// Failed units are reclaimable.
	f.reader.err = nil
	f.reader.objects = map[string]string{"bronze/a.jsonl": shipmentsJSONL}
	summary, err := f.orch.Run(ctx, []model.RawUnit{unit})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Enqueued)
}

func TestIngest_PublishFailureMarksFailed(t *testing.T) {
	f := newIngestFixture(map[string]string{"bronze/a.jsonl": shipmentsJSONL})
	f.transport.Reject = func(body []byte) string {
		if strings.Contains(string(body), `"s2"`) {
			return "throttled"
		}
		return ""
	}
	unit := model.NewRawUnit("raw", "bronze/a.jsonl", "e1")
	ctx := context.Background()

	_, err := f.orch.Run(ctx, []model.RawUnit{unit})
	var perr *queue.PublishError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Failed)

	entry, err := f.ledger.Get(ctx, unit.Identity)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, entry.Status)
}

func TestIngest_StopsAtFirstFailedUnit(t *testing.T) {
	f := newIngestFixture(map[string]string{"bronze/b.jsonl": shipmentsJSONL})
	ctx := context.Background()
	missing := model.NewRawUnit("raw", "bronze/a.jsonl", "e1")
	later := model.NewRawUnit("raw", "bronze/b.jsonl", "e1")

	_, err := f.orch.Run(ctx, []model.RawUnit{missing, later})
	require.ErrorIs(t, err, ErrObjectNotFound)

	_, err = f.ledger.Get(ctx, later.Identity)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestIngest_RequireEventTime(t *testing.T) {
	f := newIngestFixture(map[string]string{"bronze/a.jsonl": `{"record_type":"shipments","shipment_id":"s1"}`})
	f.orch.normalizer = normalize.Normalizer{RequireEventTime: true}

	summary, err := f.orch.Run(context.Background(), []model.RawUnit{model.NewRawUnit("raw", "bronze/a.jsonl", "e1")})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dropped)
	assert.Zero(t, summary.Enqueued)
}

func TestIngest_ConfigurationErrorBeforeClaim(t *testing.T) {
	f := newIngestFixture(nil)
	unit := model.NewRawUnit("raw", "bronze/a.jsonl", "e1")
	orch := NewIngestOrchestrator(f.reader, f.ledger, nil, f.metrics, IngestOptions{Lease: time.Minute})

	_, err := orch.Run(context.Background(), []model.RawUnit{unit})
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = f.ledger.Get(context.Background(), unit.Identity)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
	assert.Zero(t, f.reader.reads)
}
