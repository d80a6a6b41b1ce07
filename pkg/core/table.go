package core

import (
	"fmt"
	"strings"
)

// =============================================================================
// Type
// =============================================================================

// Type is the scalar type of a table column.
type Type int

// Column types.
const (
	// TypeString holds free text and string categories.
	TypeString Type = iota
	// TypeInt holds int64 values.
	TypeInt
	// TypeFloat holds float64 values.
	TypeFloat
	// TypeBool holds bool values.
	TypeBool
)

// String returns the dtype name recorded in registration tags.
func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int64"
	case TypeFloat:
		return "float64"
	case TypeBool:
		return "bool"
	default:
		return "string"
	}
}

// IsNumeric reports whether values of this type can be averaged.
func (t Type) IsNumeric() bool {
	return t == TypeInt || t == TypeFloat
}

// ParseType converts a dtype name back to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "int64", "int":
		return TypeInt, nil
	case "float64", "float":
		return TypeFloat, nil
	case "bool":
		return TypeBool, nil
	case "string", "object":
		return TypeString, nil
	default:
		return TypeString, fmt.Errorf("unknown column type %q", s)
	}
}

// =============================================================================
// Column / Table
// =============================================================================

// Column is a named, typed vector of values. A nil value is null.
//
// Values hold int64, float64, string or bool according to Type.
type Column struct {
	Name   string
	Type   Type
	Values []any
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	return len(c.Values)
}

// NullCount returns the number of null values.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

// Float returns the i-th value as float64. ok is false for nulls and
// non-numeric values.
func (c *Column) Float(i int) (f float64, ok bool) {
	switch v := c.Values[i].(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// Table is an ordered collection of equally long columns.
//
// Name and Version identify the catalog dataset a table was resolved from;
// both are zero for tables derived inside a run.
type Table struct {
	Name    string
	Version int
	Columns []*Column
}

// NewTable creates a table from columns.
func NewTable(name string, columns ...*Column) *Table {
	return &Table{Name: name, Columns: columns}
}

// NumRows returns the number of rows. An empty table has zero rows.
func (t *Table) NumRows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return t.Columns[0].Len()
}

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Dtypes maps each column name to its dtype name.
func (t *Table) Dtypes() map[string]string {
	out := make(map[string]string, len(t.Columns))
	for _, c := range t.Columns {
		out[c.Name] = c.Type.String()
	}
	return out
}

// Ref returns the catalog reference the table was resolved from.
func (t *Table) Ref() DatasetRef {
	return DatasetRef{Name: t.Name, Version: t.Version}
}

// Validate checks that all columns have the same length and unique names.
func (t *Table) Validate() error {
	seen := make(map[string]bool, len(t.Columns))
	n := t.NumRows()
	for _, c := range t.Columns {
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if c.Len() != n {
			return fmt.Errorf("column %q has %d values, expected %d", c.Name, c.Len(), n)
		}
	}
	return nil
}

// Row returns the values of row i in column order.
func (t *Table) Row(i int) []any {
	row := make([]any, len(t.Columns))
	for j, c := range t.Columns {
		row[j] = c.Values[i]
	}
	return row
}

// Select returns a new table holding the given rows in the given order.
func (t *Table) Select(rows []int) *Table {
	out := &Table{Columns: make([]*Column, len(t.Columns))}
	for j, c := range t.Columns {
		vals := make([]any, len(rows))
		for i, r := range rows {
			vals[i] = c.Values[r]
		}
		out.Columns[j] = &Column{Name: c.Name, Type: c.Type, Values: vals}
	}
	return out
}

// Clone returns a deep copy of the column slices.
func (t *Table) Clone() *Table {
	out := &Table{Name: t.Name, Version: t.Version, Columns: make([]*Column, len(t.Columns))}
	for i, c := range t.Columns {
		vals := make([]any, len(c.Values))
		copy(vals, c.Values)
		out.Columns[i] = &Column{Name: c.Name, Type: c.Type, Values: vals}
	}
	return out
}
