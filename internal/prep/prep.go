// Package prep implements the deterministic feature preparation applied to
// loaded feature sets: concatenate, recode categoricals, drop columns, impute
// missing values and check the label.
//
// Preparation is pure: it performs no I/O and never mutates its inputs.
package prep

import (
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/leapstack-labs/featureprep/pkg/core"
)

// Report summarises what a preparation did.
type Report struct {
	InputTables int
	InputRows   int
	OutputRows  int
	Columns     []string
	// Dropped lists the drop columns that were present.
	Dropped []string
	// Imputed holds the fill value of every imputed column that had at
	// least one non-null value.
	Imputed map[string]float64
	// Filled counts the nulls replaced per imputed column.
	Filled map[string]int
	// Nulled counts values set to null by recoding under UnmappedNull.
	Nulled map[string]int
}

// Prepare combines tables and applies opts.
func Prepare(tables []*core.Table, opts Options) (*core.Table, error) {
	t, _, err := PrepareWithReport(tables, opts)
	return t, err
}

// PrepareWithReport is Prepare that also returns a Report.
func PrepareWithReport(tables []*core.Table, opts Options) (*core.Table, *Report, error) {
	if len(tables) == 0 {
		return nil, nil, fmt.Errorf("no tables to prepare")
	}

	report := &Report{
		InputTables: len(tables),
		Imputed:     map[string]float64{},
		Filled:      map[string]int{},
		Nulled:      map[string]int{},
	}
	for _, t := range tables {
		report.InputRows += t.NumRows()
	}

	drop := make(map[string]bool, len(opts.Drop))
	for _, name := range opts.Drop {
		drop[name] = true
	}

	out, err := Concat(tables, drop)
	if err != nil {
		return nil, nil, err
	}

	if err := recode(out, opts, report); err != nil {
		return nil, nil, err
	}

	kept := out.Columns[:0]
	for _, c := range out.Columns {
		if drop[c.Name] {
			report.Dropped = append(report.Dropped, c.Name)
			continue
		}
		kept = append(kept, c)
	}
	out.Columns = kept

	for _, name := range opts.Impute {
		if err := impute(out, name, report); err != nil {
			return nil, nil, err
		}
	}

	if err := checkLabel(out, opts.LabelColumn); err != nil {
		return nil, nil, err
	}

	report.OutputRows = out.NumRows()
	report.Columns = out.ColumnNames()
	return out, report, nil
}

// =============================================================================
// Concat
// =============================================================================

// Concat stacks tables row-wise into a new table. Columns keep the first
// table's order, followed by columns first seen in later tables. A column
// that is not loose must exist in every table with a compatible type; int64
// and float64 widen to float64. Loose columns missing from a table are
// filled with nulls.
func Concat(tables []*core.Table, loose map[string]bool) (*core.Table, error) {
	var order []string
	seen := map[string]bool{}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, &core.SchemaMismatchError{Table: tableLabel(t), Reason: err.Error()}
		}
		for _, c := range t.Columns {
			if !seen[c.Name] {
				seen[c.Name] = true
				order = append(order, c.Name)
			}
		}
	}

	total := 0
	for _, t := range tables {
		total += t.NumRows()
	}

	out := &core.Table{Columns: make([]*core.Column, 0, len(order))}
	for _, name := range order {
		typ, err := unifyType(tables, name, loose[name])
		if err != nil {
			return nil, err
		}

		col := &core.Column{Name: name, Type: typ, Values: make([]any, 0, total)}
		for _, t := range tables {
			src := t.Column(name)
			if src == nil {
				col.Values = append(col.Values, make([]any, t.NumRows())...)
				continue
			}
			for _, v := range src.Values {
				col.Values = append(col.Values, widen(v, typ))
			}
		}
		out.Columns = append(out.Columns, col)
	}
	return out, nil
}

func unifyType(tables []*core.Table, name string, loose bool) (core.Type, error) {
	var typ core.Type
	found := false
	for _, t := range tables {
		c := t.Column(name)
		if c == nil {
			if loose {
				continue
			}
			return 0, &core.SchemaMismatchError{Column: name, Table: tableLabel(t), Reason: "column is missing"}
		}
		switch {
		case !found:
			typ, found = c.Type, true
		case c.Type == typ:
		case c.Type.IsNumeric() && typ.IsNumeric():
			typ = core.TypeFloat
		case loose:
			typ = core.TypeString
		default:
			return 0, &core.SchemaMismatchError{
				Column: name,
				Table:  tableLabel(t),
				Reason: fmt.Sprintf("type %s is incompatible with %s", c.Type, typ),
			}
		}
	}
	return typ, nil
}

func widen(v any, typ core.Type) any {
	switch x := v.(type) {
	case int64:
		switch typ {
		case core.TypeFloat:
			return float64(x)
		case core.TypeString:
			return strconv.FormatInt(x, 10)
		}
	case float64:
		if typ == core.TypeString {
			return strconv.FormatFloat(x, 'g', -1, 64)
		}
	case bool:
		if typ == core.TypeString {
			return strconv.FormatBool(x)
		}
	}
	return v
}

func tableLabel(t *core.Table) string {
	if t.Name == "" {
		return "input table"
	}
	return t.Ref().String()
}

// =============================================================================
// Recode / impute / label
// =============================================================================

func recode(t *core.Table, opts Options, report *Report) error {
	names := make([]string, 0, len(opts.Recode))
	for name := range opts.Recode {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mapping := opts.Recode[name]
		c := t.Column(name)
		if c == nil {
			if slices.Contains(opts.Drop, name) {
				continue
			}
			return &core.SchemaMismatchError{Column: name, Reason: "recode column is missing"}
		}

		values := make([]any, len(c.Values))
		for i, v := range c.Values {
			if v == nil {
				continue
			}
			key := categoryKey(v)
			code, ok := mapping[key]
			if ok {
				values[i] = code
				continue
			}
			if opts.Unmapped == UnmappedError {
				return &core.UnmappedCategoryError{Column: name, Value: key, Row: i}
			}
			report.Nulled[name]++
		}
		c.Values = values
		c.Type = core.TypeInt
	}
	return nil
}

func categoryKey(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func impute(t *core.Table, name string, report *Report) error {
	c := t.Column(name)
	if c == nil {
		return &core.SchemaMismatchError{Column: name, Reason: "impute column is missing"}
	}
	if !c.Type.IsNumeric() {
		return &core.SchemaMismatchError{Column: name, Reason: fmt.Sprintf("cannot impute %s column", c.Type)}
	}

	var sum float64
	n := 0
	for i := range c.Values {
		if f, ok := c.Float(i); ok {
			sum += f
			n++
		}
	}
	if n == 0 || n == len(c.Values) {
		if n > 0 {
			report.Imputed[name] = sum / float64(n)
		}
		return nil
	}

	mean := sum / float64(n)
	report.Imputed[name] = mean

	c.Type = core.TypeFloat
	for i, v := range c.Values {
		switch x := v.(type) {
		case nil:
			c.Values[i] = mean
			report.Filled[name]++
		case int64:
			c.Values[i] = float64(x)
		}
	}
	return nil
}

func checkLabel(t *core.Table, label string) error {
	if label == "" {
		return nil
	}
	c := t.Column(label)
	if c == nil {
		return &core.SchemaMismatchError{Column: label, Reason: "label column is missing"}
	}
	if nulls := c.NullCount(); nulls > 0 {
		return &core.SchemaMismatchError{Column: label, Reason: fmt.Sprintf("label column has %d null value(s)", nulls)}
	}
	return nil
}
