package normalize

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

func TestNormalizeProjectsSchema(t *testing.T) {
	rec, err := Normalize(map[string]any{
		"record_type": "shipments",
		"event_time":  "2025-01-01T10:00:00+02:00",
		"shipment_id": "shp_1",
		"weight_kg":   json.Number("12.5"),
		"extra":       "dropped",
	})
	require.NoError(t, err)

	assert.Equal(t, model.KindShipments, rec.Kind)
	assert.Equal(t, "2025-01-01T08:00:00Z", rec.Get("event_time"))
	assert.Equal(t, "shp_1", rec.Get("shipment_id"))
	assert.Equal(t, 12.5, rec.Get("weight_kg"))
	assert.NotContains(t, rec.Fields, "extra")
	assert.Contains(t, rec.Fields, "carrier")
	assert.Nil(t, rec.Get("carrier"))
	assert.Nil(t, rec.Source)
}

func TestNormalizeSchemaTotality(t *testing.T) {
	for _, kind := range model.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			rec, err := Normalize(map[string]any{"record_type": string(kind)})
			require.NoError(t, err)

			schema, _ := model.SchemaFor(kind)
			assert.Len(t, rec.Fields, len(schema.Columns))
			for _, col := range schema.Columns {
				assert.Contains(t, rec.Fields, col.Name)
			}
			assert.Equal(t, string(kind), rec.Get("record_type"))
		})
	}
}

func TestNormalizeRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		err  error
	}{
		{"missing kind", map[string]any{"event_time": "2025-01-01T00:00:00Z"}, ErrUnsupportedKind},
		{"unknown kind", map[string]any{"record_type": "orders"}, ErrUnsupportedKind},
		{"non-string kind", map[string]any{"record_type": json.Number("1")}, ErrUnsupportedKind},
		{"bad timestamp", map[string]any{"record_type": "shipments", "event_time": "yesterday"}, ErrInvalidTimestamp},
		{"numeric timestamp", map[string]any{"record_type": "shipments", "event_time": json.Number("1700000000")}, ErrInvalidTimestamp},
		{"bad float", map[string]any{"record_type": "shipments", "weight_kg": "heavy"}, ErrInvalidField},
		{"fractional int", map[string]any{"record_type": "invoice_lines", "quantity": json.Number("1.5")}, ErrInvalidField},
		{"object as string", map[string]any{"record_type": "tracking_events", "city": map[string]any{}}, ErrInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNormalizeRequireEventTime(t *testing.T) {
	strict := Normalizer{RequireEventTime: true}

	_, err := strict.Normalize(map[string]any{"record_type": "tracking_events"})
	assert.ErrorIs(t, err, ErrInvalidTimestamp)

	_, err = strict.Normalize(map[string]any{"record_type": "tracking_events", "event_time": "2025-01-01T00:00:00Z"})
	assert.NoError(t, err)
}

func TestNormalizeCoercion(t *testing.T) {
	rec, err := Normalize(map[string]any{
		"record_type": "invoice_lines",
		"invoice_id":  json.Number("1001"),
		"sku":         true,
		"quantity":    "3",
		"unit_price":  json.Number("2"),
		"line_total":  "",
	})
	require.NoError(t, err)

	assert.Equal(t, "1001", rec.Get("invoice_id"))
	assert.Equal(t, "true", rec.Get("sku"))
	assert.Equal(t, int64(3), rec.Get("quantity"))
	assert.Equal(t, 2.0, rec.Get("unit_price"))
	assert.Nil(t, rec.Get("line_total"))

	for _, q := range []any{json.Number("9223372036854775808"), float64(1 << 63), -1e19} {
		_, err := Normalize(map[string]any{"record_type": "invoice_lines", "quantity": q})
		assert.ErrorIs(t, err, ErrInvalidField, "%v", q)
	}
	rec, err = Normalize(map[string]any{"record_type": "invoice_lines", "quantity": float64(-(1 << 63))})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), rec.Get("quantity"))
}

func TestNormalizeCarriesProvenance(t *testing.T) {
	rec, err := Normalize(map[string]any{
		"record_type": "tracking_events",
		"_source": map[string]any{
			"unit":    "s3://b/k#e",
			"bucket":  "b",
			"key":     "k",
			"etag":    "e",
			"line_no": json.Number("7"),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, rec.Source)
	assert.Equal(t, model.Provenance{Unit: "s3://b/k#e", Bucket: "b", Key: "k", ETag: "e", LineNo: 7}, *rec.Source)
}

func TestNormalizeRoundTripIsStable(t *testing.T) {
	first, err := Normalize(map[string]any{
		"record_type": "shipments",
		"event_time":  "2025-01-01T00:00:00.5-05:00",
		"weight_kg":   json.Number("3"),
	})
	require.NoError(t, err)

	body, err := json.Marshal(first)
	require.NoError(t, err)
	raw, err := DecodeObject(body)
	require.NoError(t, err)

	second, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, first.Fields, second.Fields)
}
