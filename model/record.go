package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SourceField is the top-level key carrying provenance in the record's JSON form.
const SourceField = "_source"

// Provenance ties a record back to the raw unit and position it came from.
type Provenance struct {
	Unit   string `json:"unit"`
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
	ETag   string `json:"etag,omitempty"`
	LineNo int    `json:"line_no"`
}

// Record is a normalized record. Fields holds every column of the kind's
// schema; a nil value is a null.
type Record struct {
	Kind   Kind
	Fields map[string]any
	Source *Provenance
}

// Get returns the value of column name, nil when null or unknown.
func (r Record) Get(name string) any {
	return r.Fields[name]
}

// EventTime returns the canonical event_time string, if present.
func (r Record) EventTime() (string, bool) {
	s, ok := r.Fields[ColumnEventTime].(string)
	return s, ok && s != ""
}

// MarshalJSON writes the columns in schema order followed by _source.
func (r Record) MarshalJSON() ([]byte, error) {
	schema, ok := SchemaFor(r.Kind)
	if !ok {
		return nil, fmt.Errorf("marshal record: unsupported kind %q", r.Kind)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range schema.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(col.Name)
		buf.Write(name)
		buf.WriteByte(':')
		val, err := json.Marshal(r.Fields[col.Name])
		if err != nil {
			return nil, fmt.Errorf("marshal record: column %s: %w", col.Name, err)
		}
		buf.Write(val)
	}
	if r.Source != nil {
		src, err := json.Marshal(r.Source)
		if err != nil {
			return nil, fmt.Errorf("marshal record: source: %w", err)
		}
		buf.WriteString(`,"` + SourceField + `":`)
		buf.Write(src)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
