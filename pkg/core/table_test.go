package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	return NewTable("passengers",
		&Column{Name: "Sex", Type: TypeString, Values: []any{"male", "female", nil}},
		&Column{Name: "Age", Type: TypeFloat, Values: []any{22.0, nil, 35.0}},
		&Column{Name: "Survived", Type: TypeInt, Values: []any{int64(0), int64(1), int64(1)}},
	)
}

func TestTable_Basics(t *testing.T) {
	tbl := sampleTable()

	assert.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, 3, tbl.NumColumns())
	assert.Equal(t, []string{"Sex", "Age", "Survived"}, tbl.ColumnNames())
	assert.Equal(t, 1, tbl.ColumnIndex("Age"))
	assert.Equal(t, -1, tbl.ColumnIndex("Cabin"))
	assert.Nil(t, tbl.Column("Cabin"))
	assert.Equal(t, 1, tbl.Column("Age").NullCount())
	assert.Equal(t, []any{"female", nil, int64(1)}, tbl.Row(1))
	require.NoError(t, tbl.Validate())
}

func TestTable_Dtypes(t *testing.T) {
	assert.Equal(t, map[string]string{
		"Sex":      "string",
		"Age":      "float64",
		"Survived": "int64",
	}, sampleTable().Dtypes())
}

func TestTable_Select(t *testing.T) {
	tbl := sampleTable()
	sub := tbl.Select([]int{2, 0})

	assert.Equal(t, 2, sub.NumRows())
	assert.Equal(t, []any{nil, "male"}, sub.Column("Sex").Values)
	assert.Equal(t, []any{35.0, 22.0}, sub.Column("Age").Values)

	// selecting must not alias the source
	sub.Column("Age").Values[0] = 1.0
	assert.Equal(t, 35.0, tbl.Column("Age").Values[2])
}

func TestTable_Clone(t *testing.T) {
	tbl := sampleTable()
	tbl.Version = 4
	c := tbl.Clone()
	c.Column("Sex").Values[0] = "x"

	assert.Equal(t, "male", tbl.Column("Sex").Values[0])
	assert.Equal(t, DatasetRef{Name: "passengers", Version: 4}, c.Ref())
}

func TestTable_Validate(t *testing.T) {
	tests := []struct {
		name    string
		table   *Table
		wantErr string
	}{
		{
			name: "ragged columns",
			table: NewTable("t",
				&Column{Name: "a", Values: []any{1, 2}},
				&Column{Name: "b", Values: []any{1}},
			),
			wantErr: `column "b" has 1 values, expected 2`,
		},
		{
			name: "duplicate names",
			table: NewTable("t",
				&Column{Name: "a", Values: []any{1}},
				&Column{Name: "a", Values: []any{1}},
			),
			wantErr: `duplicate column "a"`,
		},
		{
			name:  "empty table",
			table: NewTable("t"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestColumn_Float(t *testing.T) {
	c := &Column{Name: "x", Values: []any{int64(3), 2.5, nil, "a"}}

	f, ok := c.Float(0)
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	f, ok = c.Float(1)
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	_, ok = c.Float(2)
	assert.False(t, ok)
	_, ok = c.Float(3)
	assert.False(t, ok)
}

func TestParseType(t *testing.T) {
	for _, typ := range []Type{TypeString, TypeInt, TypeFloat, TypeBool} {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseType("decimal")
	assert.Error(t, err)
}
