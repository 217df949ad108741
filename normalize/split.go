package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is reported for a position holding valid JSON that is not an object.
var ErrNotObject = errors.New("not a JSON object")

// RawRecord is one position of a raw payload. Err is set when that position
// could not be decoded into an object.
type RawRecord struct {
	LineNo int
	Fields map[string]any
	Err    error
}

// SplitRecords reads a payload holding either a single JSON array of objects
// or line-delimited JSON objects. Positions are 1-based: the element index for
// arrays, the physical line number otherwise. A malformed line is reported at
// its position; a malformed array fails the whole payload.
func SplitRecords(data []byte) ([]RawRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, fmt.Errorf("decode JSON array: %w", err)
		}
		out := make([]RawRecord, 0, len(elems))
		for i, elem := range elems {
			fields, err := DecodeObject(elem)
			out = append(out, RawRecord{LineNo: i + 1, Fields: fields, Err: err})
		}
		return out, nil
	}

	var out []RawRecord
	for i, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		fields, err := DecodeObject(line)
		out = append(out, RawRecord{LineNo: i + 1, Fields: fields, Err: err})
	}
	return out, nil
}

// DecodeObject decodes a single JSON object, keeping numbers as json.Number.
func DecodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}
