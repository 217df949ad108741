package model

import "fmt"

// Kind is the record_type discriminator. The set of kinds is closed.
type Kind string

const (
	KindShipments      Kind = "shipments"
	KindTrackingEvents Kind = "tracking_events"
	KindInvoiceLines   Kind = "invoice_lines"
)

// ColumnType is the typed representation of a schema column.
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeFloat64
	TypeInt64
)

func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeFloat64:
		return "float64"
	case TypeInt64:
		return "int64"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Column is one named, typed field of a kind's schema.
type Column struct {
	Name string
	Type ColumnType
}

// Schema lists the columns of a kind in their canonical order.
type Schema struct {
	Kind    Kind
	Columns []Column
}

const (
	ColumnRecordType = "record_type"
	ColumnEventTime  = "event_time"
)

var schemas = map[Kind]Schema{
	KindShipments: {
		Kind: KindShipments,
		Columns: []Column{
			{ColumnRecordType, TypeString},
			{ColumnEventTime, TypeString},
			{"shipment_id", TypeString},
			{"origin", TypeString},
			{"destination", TypeString},
			{"carrier", TypeString},
			{"weight_kg", TypeFloat64},
		},
	},
	KindTrackingEvents: {
		Kind: KindTrackingEvents,
		Columns: []Column{
			{ColumnRecordType, TypeString},
			{ColumnEventTime, TypeString},
			{"shipment_id", TypeString},
			{"status", TypeString},
			{"city", TypeString},
		},
	},
	KindInvoiceLines: {
		Kind: KindInvoiceLines,
		Columns: []Column{
			{ColumnRecordType, TypeString},
			{ColumnEventTime, TypeString},
			{"invoice_id", TypeString},
			{"sku", TypeString},
			{"quantity", TypeInt64},
			{"unit_price", TypeFloat64},
			{"line_total", TypeFloat64},
		},
	},
}

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindShipments, KindTrackingEvents, KindInvoiceLines}
}

// SchemaFor returns the schema of kind k.
func SchemaFor(k Kind) (Schema, bool) {
	s, ok := schemas[k]
	return s, ok
}
