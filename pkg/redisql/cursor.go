package redisql

import (
	"fmt"
	"strconv"
	"strings"
)

// Cursor is a scrollable view over one materialized Result. A Cursor is not
// safe for concurrent use; separate cursors may be read concurrently.
//
// The position is kept as a row index: -1 is before-first, len(rows) is
// after-last, anything in between is on a row.
type Cursor struct {
	res     *Result
	meta    *Metadata
	idx     int
	closed  bool
	wasNull bool
}

// NewCursor wraps res in a cursor positioned before the first row.
func NewCursor(res *Result) (*Cursor, error) {
	if res == nil || len(res.Columns) == 0 {
		return nil, fmt.Errorf("%w: result has no columns", ErrState)
	}
	return &Cursor{res: res, meta: NewMetadata(res.Columns), idx: -1}, nil
}

func (c *Cursor) check() error {
	if c.closed {
		return fmt.Errorf("%w: cursor is closed", ErrState)
	}
	return nil
}

func (c *Cursor) onRow() bool {
	return c.idx >= 0 && c.idx < len(c.res.Rows)
}

// Next advances to the next row and reports whether the cursor is on a row.
func (c *Cursor) Next() (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	if c.idx < len(c.res.Rows) {
		c.idx++
	}
	return c.onRow(), nil
}

// Previous moves back one row and reports whether the cursor is on a row.
func (c *Cursor) Previous() (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	if c.idx >= 0 {
		c.idx--
	}
	return c.onRow(), nil
}

// First moves to the first row.
func (c *Cursor) First() (bool, error) {
	return c.Absolute(1)
}

// Last moves to the last row.
func (c *Cursor) Last() (bool, error) {
	return c.Absolute(-1)
}

// Absolute moves to row n (1-based). Zero moves before the first row, n past
// the end moves after the last row, and negative n counts back from the end.
// On an empty result the cursor does not move.
func (c *Cursor) Absolute(n int) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	count := len(c.res.Rows)
	if count == 0 {
		return false, nil
	}

	switch {
	case n == 0:
		c.idx = -1
	case n > count:
		c.idx = count
	case n > 0:
		c.idx = n - 1
	case -n > count:
		c.idx = -1
	default:
		c.idx = count + n
	}
	return c.onRow(), nil
}

// Relative moves n rows from the current row number.
func (c *Cursor) Relative(n int) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	return c.Absolute(c.Row() + n)
}

// BeforeFirst moves before the first row.
func (c *Cursor) BeforeFirst() error {
	if err := c.check(); err != nil {
		return err
	}
	c.idx = -1
	return nil
}

// AfterLast moves after the last row.
func (c *Cursor) AfterLast() error {
	if err := c.check(); err != nil {
		return err
	}
	c.idx = len(c.res.Rows)
	return nil
}

func (c *Cursor) IsBeforeFirst() bool { return !c.closed && c.idx == -1 }
func (c *Cursor) IsAfterLast() bool { return !c.closed && c.idx == len(c.res.Rows) }
func (c *Cursor) IsFirst() bool { return !c.closed && c.onRow() && c.idx == 0 }
func (c *Cursor) IsLast() bool { return !c.closed && c.onRow() && c.idx == len(c.res.Rows)-1 }

// Row returns the current 1-based row number, or 0 when not on a row.
func (c *Cursor) Row() int {
	if c.closed || !c.onRow() {
		return 0
	}
	return c.idx + 1
}

// RowCount returns the number of rows in the underlying result.
func (c *Cursor) RowCount() int {
	if c.closed {
		return 0
	}
	return len(c.res.Rows)
}

// Metadata describes the cursor's columns.
func (c *Cursor) Metadata() (*Metadata, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.meta, nil
}

// Value returns the cell at the 1-based column index of the current row.
func (c *Cursor) Value(column int) (Value, error) {
	if err := c.check(); err != nil {
		return Value{}, err
	}
	if !c.onRow() {
		return Value{}, fmt.Errorf("%w: no current row", ErrState)
	}
	if column < 1 || column > len(c.res.Columns) {
		return Value{}, fmt.Errorf("%w: column index %d out of range 1..%d", ErrArgument, column, len(c.res.Columns))
	}
	v := c.res.Rows[c.idx][column-1]
	c.wasNull = v.Null
	return v, nil
}

// ValueByName returns the cell of the named column, matched case-insensitively.
func (c *Cursor) ValueByName(name string) (Value, error) {
	if err := c.check(); err != nil {
		return Value{}, err
	}
	i, err := c.meta.FindColumn(name)
	if err != nil {
		return Value{}, err
	}
	return c.Value(i)
}

// WasNull reports whether the last value read was null.
func (c *Cursor) WasNull() bool {
	return c.wasNull
}

// String returns the cell as text; null reads as "".
func (c *Cursor) String(column int) (string, error) {
	v, err := c.Value(column)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// Int64 returns the cell as an integer; null reads as 0.
func (c *Cursor) Int64(column int) (int64, error) {
	v, err := c.Value(column)
	if err != nil || v.Null {
		return 0, err
	}
	if v.Type == TypeInteger {
		return v.Int, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot convert %q to integer", ErrArgument, v.Str)
	}
	return n, nil
}

// Float64 returns the cell as a float; null reads as 0.
func (c *Cursor) Float64(column int) (float64, error) {
	v, err := c.Value(column)
	if err != nil || v.Null {
		return 0, err
	}
	if v.Type == TypeInteger {
		return float64(v.Int), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot convert %q to float", ErrArgument, v.Str)
	}
	return f, nil
}

// Bool returns the cell as a boolean. Non-zero integers and the strings
// "true" and "1" read as true; null reads as false.
func (c *Cursor) Bool(column int) (bool, error) {
	v, err := c.Value(column)
	if err != nil || v.Null {
		return false, err
	}
	if v.Type == TypeInteger {
		return v.Int != 0, nil
	}
	s := strings.TrimSpace(v.Str)
	return strings.EqualFold(s, "true") || s == "1", nil
}

// Bytes returns the cell as bytes; null reads as nil.
func (c *Cursor) Bytes(column int) ([]byte, error) {
	v, err := c.Value(column)
	if err != nil || v.Null {
		return nil, err
	}
	return []byte(v.String()), nil
}

// Close releases the result. Every later call fails with ErrState.
func (c *Cursor) Close() error {
	c.closed = true
	c.res = &Result{}
	c.idx = -1
	return nil
}

// Closed reports whether Close has been called.
func (c *Cursor) Closed() bool {
	return c.closed
}
