package partition

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

// ArrowSchema returns the fixed columnar schema of kind. Every column is
// nullable so a chunk where a column is entirely null still carries it.
func ArrowSchema(kind model.Kind) (*arrow.Schema, error) {
	s, ok := model.SchemaFor(kind)
	if !ok {
		return nil, fmt.Errorf("unsupported kind %q", kind)
	}

	fields := make([]arrow.Field, len(s.Columns))
	for i, col := range s.Columns {
		var dt arrow.DataType
		switch col.Type {
		case model.TypeString:
			dt = arrow.BinaryTypes.String
		case model.TypeFloat64:
			dt = arrow.PrimitiveTypes.Float64
		case model.TypeInt64:
			dt = arrow.PrimitiveTypes.Int64
		default:
			return nil, fmt.Errorf("column %s: unknown type %s", col.Name, col.Type)
		}
		fields[i] = arrow.Field{Name: col.Name, Type: dt, Nullable: true}
	}
	md := arrow.NewMetadata([]string{"record_type"}, []string{string(kind)})
	return arrow.NewSchema(fields, &md), nil
}

// EncodeParquet writes records of a single kind as one snappy-compressed
// Parquet file.
func EncodeParquet(kind model.Kind, records []model.Record) ([]byte, error) {
	schema, err := ArrowSchema(kind)
	if err != nil {
		return nil, err
	}
	cols, _ := model.SchemaFor(kind)

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	for _, r := range records {
		if r.Kind != kind {
			return nil, fmt.Errorf("record of kind %q in %q batch", r.Kind, kind)
		}
		for i, col := range cols.Columns {
			if err := appendValue(b.Field(i), r.Fields[col.Name]); err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
		parquet.WithCreatedBy("serverless-elt"),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(schema, &buf, props, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch fb := b.(type) {
	case *array.StringBuilder:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		fb.Append(s)
	case *array.Float64Builder:
		switch x := v.(type) {
		case float64:
			fb.Append(x)
		case int64:
			fb.Append(float64(x))
		default:
			return fmt.Errorf("want float64, got %T", v)
		}
	case *array.Int64Builder:
		x, ok := v.(int64)
		if !ok {
			return fmt.Errorf("want int64, got %T", v)
		}
		fb.Append(x)
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}
