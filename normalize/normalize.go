package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

var (
	ErrUnsupportedKind  = errors.New("unsupported record_type")
	ErrInvalidTimestamp = errors.New("invalid event_time")
	ErrInvalidField     = errors.New("invalid field value")
)

// Normalizer projects raw objects onto the schema of their kind.
type Normalizer struct {
	// RequireEventTime rejects records whose event_time is absent or null.
	RequireEventTime bool
}

// Normalize uses the default, lenient normalizer.
func Normalize(raw map[string]any) (model.Record, error) {
	return Normalizer{}.Normalize(raw)
}

// Normalize returns a record carrying exactly the columns of raw's kind.
// Absent columns are null and unknown keys are dropped; _source, if well
// formed, becomes the record's provenance.
func (n Normalizer) Normalize(raw map[string]any) (model.Record, error) {
	kind, _ := raw[model.ColumnRecordType].(string)
	schema, ok := model.SchemaFor(model.Kind(kind))
	if !ok {
		return model.Record{}, fmt.Errorf("%w: %v", ErrUnsupportedKind, raw[model.ColumnRecordType])
	}

	fields := make(map[string]any, len(schema.Columns))
	for _, col := range schema.Columns {
		switch col.Name {
		case model.ColumnRecordType:
			fields[col.Name] = kind
		case model.ColumnEventTime:
			v, err := n.eventTime(raw[col.Name])
			if err != nil {
				return model.Record{}, err
			}
			fields[col.Name] = v
		default:
			v, err := coerce(col, raw[col.Name])
			if err != nil {
				return model.Record{}, err
			}
			fields[col.Name] = v
		}
	}

	return model.Record{
		Kind:   schema.Kind,
		Fields: fields,
		Source: provenance(raw[model.SourceField]),
	}, nil
}

func (n Normalizer) eventTime(v any) (any, error) {
	if v == nil {
		if n.RequireEventTime {
			return nil, fmt.Errorf("%w: missing", ErrInvalidTimestamp)
		}
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a string", ErrInvalidTimestamp, v)
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return FormatTimestamp(t), nil
}

func coerce(col model.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var (
		out any
		err error
	)
	switch col.Type {
	case model.TypeString:
		out, err = toString(v)
	case model.TypeFloat64:
		out, err = toFloat(v)
	case model.TypeInt64:
		out, err = toInt(v)
	default:
		err = fmt.Errorf("unknown column type %s", col.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, col.Name, err)
	}
	return out, nil
}

func toString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return nil, fmt.Errorf("cannot use %T as string", v)
}

func toFloat(v any) (any, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil, err
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		f = parsed
	default:
		return nil, fmt.Errorf("cannot use %T as float64", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number")
	}
	return f, nil
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		return integral(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return integral(f)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		return strconv.ParseInt(s, 10, 64)
	}
	return nil, fmt.Errorf("cannot use %T as int64", v)
}

func integral(f float64) (any, error) {
	if f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
		return nil, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

func provenance(v any) *model.Provenance {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	unit, _ := m["unit"].(string)
	if unit == "" {
		return nil
	}
	src := &model.Provenance{Unit: unit}
	src.Bucket, _ = m["bucket"].(string)
	src.Key, _ = m["key"].(string)
	src.ETag, _ = m["etag"].(string)
	if line, err := toInt(m["line_no"]); err == nil && line != nil {
		src.LineNo = int(line.(int64))
	}
	return src
}
