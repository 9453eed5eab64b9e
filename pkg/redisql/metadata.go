package redisql

import (
	"fmt"
	"strings"
)

// Metadata describes the columns of a result. Column indices are 1-based.
type Metadata struct {
	columns []Column
}

// NewMetadata returns metadata for the given columns.
func NewMetadata(columns []Column) *Metadata {
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &Metadata{columns: cols}
}

// ColumnCount returns the number of columns.
func (m *Metadata) ColumnCount() int {
	return len(m.columns)
}

func (m *Metadata) column(i int) (Column, error) {
	if i < 1 || i > len(m.columns) {
		return Column{}, fmt.Errorf("%w: column index %d out of range 1..%d", ErrArgument, i, len(m.columns))
	}
	return m.columns[i-1], nil
}

// ColumnName returns the name of column i.
func (m *Metadata) ColumnName(i int) (string, error) {
	c, err := m.column(i)
	return c.Name, err
}

// ColumnType returns the type tag of column i.
func (m *Metadata) ColumnType(i int) (ColumnType, error) {
	c, err := m.column(i)
	return c.Type, err
}

// ColumnTypeName returns the SQL type name (VARCHAR or BIGINT) of column i.
func (m *Metadata) ColumnTypeName(i int) (string, error) {
	c, err := m.column(i)
	if err != nil {
		return "", err
	}
	return c.Type.String(), nil
}

// IsSigned reports whether column i holds signed numbers.
func (m *Metadata) IsSigned(i int) (bool, error) {
	c, err := m.column(i)
	return c.Type == TypeInteger, err
}

// FindColumn returns the 1-based index of the named column.
func (m *Metadata) FindColumn(name string) (int, error) {
	for i, c := range m.columns {
		if strings.EqualFold(c.Name, name) {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: column %q", ErrNotFound, name)
}

// Columns returns a copy of the column descriptors.
func (m *Metadata) Columns() []Column {
	cols := make([]Column, len(m.columns))
	copy(cols, m.columns)
	return cols
}
