package redisql

import "strconv"

// ColumnType is the type tag of a result column.
type ColumnType int

const (
	TypeText ColumnType = iota
	TypeInteger
)

// String returns the SQL type name of the column type.
func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "BIGINT"
	default:
		return "VARCHAR"
	}
}

// Column describes one column of a result.
type Column struct {
	Name string
	Type ColumnType
}

// Value is a nullable scalar cell.
type Value struct {
	Type ColumnType
	Null bool
	Str  string
	Int  int64
}

// TextValue returns a non-null text value.
func TextValue(s string) Value {
	return Value{Type: TypeText, Str: s}
}

// IntValue returns a non-null integer value.
func IntValue(n int64) Value {
	return Value{Type: TypeInteger, Int: n}
}

// NullValue returns a null value of the given type.
func NullValue(t ColumnType) Value {
	return Value{Type: t, Null: true}
}

// String renders the value as text. Null renders as the empty string.
func (v Value) String() string {
	if v.Null {
		return ""
	}
	if v.Type == TypeInteger {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Str
}

// Interface returns nil, a string or an int64.
func (v Value) Interface() interface{} {
	if v.Null {
		return nil
	}
	if v.Type == TypeInteger {
		return v.Int
	}
	return v.Str
}

// Result is a materialized table: a fixed column schema and its rows.
type Result struct {
	Columns []Column
	Rows    [][]Value
}

// RowCount returns the number of rows.
func (r *Result) RowCount() int {
	return len(r.Rows)
}

// ColumnNames returns the column names in order.
func (r *Result) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}
