// Package table defines the uniform tabular shape every fetch returns:
// an ordered sequence of named, consistently typed columns. Connectors may
// rename or coerce columns after the fact, but the executor always hands
// back this one contract regardless of the upstream wire format.
package table

import (
	"fmt"

	gojson "github.com/goccy/go-json"
	pretty "github.com/jedib0t/go-pretty/v6/table"

	"github.com/KR-Labs/krl-data-connectors-sub000/pkg/errors"
)

// ColumnType is the declared type of one column
type ColumnType string

const (
	// TypeString holds text values
	TypeString ColumnType = "string"
	// TypeInt holds 64-bit integers
	TypeInt ColumnType = "int"
	// TypeFloat holds 64-bit floats
	TypeFloat ColumnType = "float"
	// TypeBool holds booleans
	TypeBool ColumnType = "bool"
)

// Column describes one named, typed column
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Table is an ordered collection of typed columns with rows. A successful
// fetch with no matching data yields an empty Table, never a nil one.
type Table struct {
	columns []Column
	index   map[string]int
	rows    [][]interface{}
}

// New creates a table with the given columns. Column names must be unique.
func New(columns ...Column) (*Table, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return nil, errors.New(errors.ErrorTypeValidation, "column name cannot be empty")
		}
		if _, dup := index[c.Name]; dup {
			return nil, errors.Newf(errors.ErrorTypeValidation, "duplicate column %q", c.Name)
		}
		index[c.Name] = i
	}
	return &Table{
		columns: append([]Column(nil), columns...),
		index:   index,
	}, nil
}

// Empty creates a table with no columns and no rows.
func Empty() *Table {
	t, _ := New()
	return t
}

// AppendRow adds one row. The value count must match the column count and
// each value must be nil or match its column's declared type.
func (t *Table) AppendRow(values ...interface{}) error {
	if len(values) != len(t.columns) {
		return errors.Newf(errors.ErrorTypeValidation,
			"row has %d values, table has %d columns", len(values), len(t.columns))
	}
	for i, v := range values {
		if v == nil {
			continue
		}
		if !typeMatches(t.columns[i].Type, v) {
			return errors.Newf(errors.ErrorTypeValidation,
				"value %T does not match column %q (%s)", v, t.columns[i].Name, t.columns[i].Type)
		}
	}
	t.rows = append(t.rows, append([]interface{}(nil), values...))
	return nil
}

// Columns returns the ordered column descriptors.
func (t *Table) Columns() []Column {
	return append([]Column(nil), t.columns...)
}

// ColumnNames returns the ordered column names.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	return len(t.rows)
}

// NumColumns returns the column count.
func (t *Table) NumColumns() int {
	return len(t.columns)
}

// IsEmpty reports whether the table has no rows.
func (t *Table) IsEmpty() bool {
	return len(t.rows) == 0
}

// Row returns one row by index.
func (t *Table) Row(i int) ([]interface{}, error) {
	if i < 0 || i >= len(t.rows) {
		return nil, errors.Newf(errors.ErrorTypeValidation, "row %d out of range [0,%d)", i, len(t.rows))
	}
	return append([]interface{}(nil), t.rows[i]...), nil
}

// Value returns the value at (row, column name).
func (t *Table) Value(row int, column string) (interface{}, error) {
	idx, ok := t.index[column]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "no column %q", column)
	}
	r, err := t.Row(row)
	if err != nil {
		return nil, err
	}
	return r[idx], nil
}

// ColumnValues returns every value in the named column, in row order.
func (t *Table) ColumnValues(column string) ([]interface{}, error) {
	idx, ok := t.index[column]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "no column %q", column)
	}
	out := make([]interface{}, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[idx]
	}
	return out, nil
}

// jsonTable is the serialized form of a Table.
type jsonTable struct {
	Columns []Column        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// MarshalJSON serializes the table, preserving column order.
func (t *Table) MarshalJSON() ([]byte, error) {
	rows := t.rows
	if rows == nil {
		rows = [][]interface{}{}
	}
	return gojson.Marshal(jsonTable{Columns: t.columns, Rows: rows})
}

// UnmarshalJSON restores a table serialized by MarshalJSON. Numeric values
// are re-coerced to their declared column types, since JSON erases the
// int/float distinction.
func (t *Table) UnmarshalJSON(data []byte) error {
	var jt jsonTable
	if err := gojson.Unmarshal(data, &jt); err != nil {
		return err
	}

	restored, err := New(jt.Columns...)
	if err != nil {
		return err
	}
	for _, row := range jt.Rows {
		for i, v := range row {
			if i < len(jt.Columns) {
				row[i] = coerce(jt.Columns[i].Type, v)
			}
		}
		if err := restored.AppendRow(row...); err != nil {
			return err
		}
	}

	*t = *restored
	return nil
}

// Render formats the table for terminal display.
func (t *Table) Render() string {
	w := pretty.NewWriter()

	header := make(pretty.Row, len(t.columns))
	for i, c := range t.columns {
		header[i] = c.Name
	}
	w.AppendHeader(header)

	for _, row := range t.rows {
		w.AppendRow(pretty.Row(row))
	}

	return w.Render()
}

// String returns a short summary, not the full rendering.
func (t *Table) String() string {
	return fmt.Sprintf("table(%d columns, %d rows)", len(t.columns), len(t.rows))
}

func typeMatches(ct ColumnType, v interface{}) bool {
	switch ct {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInt:
		_, ok := v.(int64)
		return ok
	case TypeFloat:
		_, ok := v.(float64)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}

// coerce maps a decoded JSON value back onto the declared column type.
func coerce(ct ColumnType, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch ct {
	case TypeInt:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	case TypeFloat:
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return v
}
