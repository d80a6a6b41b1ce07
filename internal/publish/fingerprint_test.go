package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/featureprep/internal/testutil"
	"github.com/leapstack-labs/featureprep/pkg/core"
)

func TestFingerprint_Deterministic(t *testing.T) {
	a := testutil.TitanicTable("a", 0, 50)
	b := testutil.TitanicTable("b", 0, 50)

	assert.Equal(t, Fingerprint(a), Fingerprint(b), "table name is not part of the content")
	assert.Len(t, Fingerprint(a), 16)
}

func TestFingerprint_Sensitive(t *testing.T) {
	base := func() *core.Table {
		return core.NewTable("t",
			&core.Column{Name: "x", Type: core.TypeInt, Values: []any{int64(1), nil}},
			&core.Column{Name: "s", Type: core.TypeString, Values: []any{"", "a"}},
		)
	}
	want := Fingerprint(base())

	tests := []struct {
		name   string
		mutate func(*core.Table)
	}{
		{"value", func(t *core.Table) { t.Columns[0].Values[0] = int64(2) }},
		{"null vs zero", func(t *core.Table) { t.Columns[0].Values[1] = int64(0) }},
		{"empty vs null", func(t *core.Table) { t.Columns[1].Values[0] = nil }},
		{"type", func(t *core.Table) { t.Columns[0].Type = core.TypeFloat }},
		{"column name", func(t *core.Table) { t.Columns[1].Name = "S" }},
		{"row order", func(t *core.Table) {
			for _, c := range t.Columns {
				c.Values[0], c.Values[1] = c.Values[1], c.Values[0]
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := base()
			tt.mutate(tbl)
			assert.NotEqual(t, want, Fingerprint(tbl))
		})
	}
}
