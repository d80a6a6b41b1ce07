package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/featureprep/pkg/core"
)

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed this struct in concrete adapter implementations to get standard
// Close, Exec and QueryTable implementations.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    core.AdapterConfig
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	_, err := b.DB.ExecContext(ctx, sqlStr)
	if err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// QueryTable runs a query and materializes the full result as a table.
func (b *BaseSQLAdapter) QueryTable(ctx context.Context, sqlStr string) (*core.Table, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	rows, err := b.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return ScanTable(rows)
}

// ScanTable reads every row of rows into a column-oriented table. Column
// types come from the driver's database type names.
func ScanTable(rows *sql.Rows) (*core.Table, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}

	t := &core.Table{Columns: make([]*core.Column, len(colTypes))}
	for i, ct := range colTypes {
		t.Columns[i] = &core.Column{
			Name:   ct.Name(),
			Type:   TypeFromDatabaseName(ct.DatabaseTypeName()),
			Values: []any{},
		}
	}

	dest := make([]any, len(colTypes))
	ptrs := make([]any, len(colTypes))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, col := range t.Columns {
			v, err := NormalizeValue(dest[i], col.Type)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", col.Name, col.Len(), err)
			}
			col.Values = append(col.Values, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return t, nil
}

// TypeFromDatabaseName maps a driver type name (DuckDB or PostgreSQL
// vocabulary) to a column type. Unknown types are read as strings.
func TypeFromDatabaseName(name string) core.Type {
	n := strings.ToUpper(strings.TrimSpace(name))
	switch {
	case n == "BOOLEAN" || n == "BOOL":
		return core.TypeBool
	case n == "DOUBLE" || n == "FLOAT" || n == "REAL" || n == "FLOAT4" || n == "FLOAT8",
		strings.HasPrefix(n, "DECIMAL"), strings.HasPrefix(n, "NUMERIC"):
		return core.TypeFloat
	case strings.HasSuffix(n, "INT") || strings.HasSuffix(n, "INTEGER"),
		n == "INT2" || n == "INT4" || n == "INT8" || n == "SERIAL" || n == "BIGSERIAL":
		return core.TypeInt
	default:
		return core.TypeString
	}
}

// DatabaseTypeName maps a column type to the DuckDB type used when a table
// is materialized for writing.
func DatabaseTypeName(t core.Type) string {
	switch t {
	case core.TypeInt:
		return "BIGINT"
	case core.TypeFloat:
		return "DOUBLE"
	case core.TypeBool:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

// NormalizeValue converts a driver value to the Go representation used by
// core.Table for a column of type typ: int64, float64, string or bool.
func NormalizeValue(v any, typ core.Type) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return fromInt(x, typ), nil
	case int:
		return fromInt(int64(x), typ), nil
	case int8:
		return fromInt(int64(x), typ), nil
	case int16:
		return fromInt(int64(x), typ), nil
	case int32:
		return fromInt(int64(x), typ), nil
	case uint8:
		return fromInt(int64(x), typ), nil
	case uint16:
		return fromInt(int64(x), typ), nil
	case uint32:
		return fromInt(int64(x), typ), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", x)
		}
		return fromInt(int64(x), typ), nil
	case *big.Int:
		if !x.IsInt64() {
			return nil, fmt.Errorf("value %s overflows int64", x)
		}
		return fromInt(x.Int64(), typ), nil
	case float32:
		return fromFloat(float64(x), typ), nil
	case float64:
		return fromFloat(x, typ), nil
	case bool:
		switch typ {
		case core.TypeBool:
			return x, nil
		case core.TypeInt:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		default:
			return strconv.FormatBool(x), nil
		}
	case []byte:
		return fromString(string(x), typ)
	case string:
		return fromString(x, typ)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case interface{ Float64() float64 }:
		return fromFloat(x.Float64(), typ), nil
	case fmt.Stringer:
		return fromString(x.String(), typ)
	default:
		return fmt.Sprint(x), nil
	}
}

func fromInt(i int64, typ core.Type) any {
	switch typ {
	case core.TypeFloat:
		return float64(i)
	case core.TypeString:
		return strconv.FormatInt(i, 10)
	case core.TypeBool:
		return i != 0
	default:
		return i
	}
}

func fromFloat(f float64, typ core.Type) any {
	if math.IsNaN(f) {
		return nil
	}
	switch typ {
	case core.TypeInt:
		if f == math.Trunc(f) {
			return int64(f)
		}
		return f
	case core.TypeString:
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return f
	}
}

func fromString(s string, typ core.Type) (any, error) {
	switch typ {
	case core.TypeInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return i, nil
	case core.TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", s)
		}
		return f, nil
	case core.TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", s)
		}
		return b, nil
	default:
		return s, nil
	}
}

// QuoteIdent quotes a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
