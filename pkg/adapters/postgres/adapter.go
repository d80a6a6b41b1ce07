// Package postgres provides the PostgreSQL datastore adapter. Datasets on a
// Postgres datastore are tables addressed as schema.table.
//
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/featureprep/pkg/adapters/postgres"
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/featureprep/pkg/adapter"
	"github.com/leapstack-labs/featureprep/pkg/core"
)

// SQLSTATE codes mapped to featureprep errors.
const (
	codeInsufficientPrivilege = "42501"
	codeUndefinedTable        = "42P01"
)

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg core.AdapterConfig) error {
	dsn := buildPostgresDSN(cfg)

	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildPostgresDSN constructs a PostgreSQL connection string.
func buildPostgresDSN(cfg core.AdapterConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, cfg.Database, sslmode)

	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}

	return dsn
}

// splitQualified splits schema.table, defaulting the schema.
func splitQualified(name, defaultSchema string) (schema, table string) {
	if s, t, ok := strings.Cut(name, "."); ok {
		return s, t
	}
	return defaultSchema, name
}

func (a *Adapter) defaultSchema() string {
	if a.Cfg.Schema != "" {
		return a.Cfg.Schema
	}
	return "public"
}

// ReadTable reads every row of a schema.table location.
func (a *Adapter) ReadTable(ctx context.Context, src core.Source) (*core.Table, error) {
	if a.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	if src.Format != "" && src.Format != core.FormatTable {
		return nil, fmt.Errorf("postgres cannot read format %q", src.Format)
	}

	schema, table := splitQualified(src.Location, a.defaultSchema())
	query := "SELECT * FROM " + pgx.Identifier{schema, table}.Sanitize()

	a.Logger.Debug("reading table", slog.String("schema", schema), slog.String("table", table))

	t, err := a.QueryTable(ctx, query)
	if err != nil {
		return nil, mapError(src.Location, err)
	}
	return t, nil
}

// WriteTable creates dst.Location and bulk-loads t into it with COPY, in a
// single transaction. With dst.Overwrite an existing table is dropped first.
func (a *Adapter) WriteTable(ctx context.Context, t *core.Table, dst core.Sink) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if dst.Format != "" && dst.Format != core.FormatTable {
		return fmt.Errorf("postgres cannot write format %q", dst.Format)
	}
	if t.NumColumns() == 0 {
		return fmt.Errorf("cannot write a table without columns")
	}
	if err := t.Validate(); err != nil {
		return err
	}

	schema, table := splitQualified(dst.Location, a.defaultSchema())
	ident := pgx.Identifier{schema, table}

	conn, err := a.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		return copyTable(ctx, sc.Conn(), ident, t, dst.Overwrite)
	})
	if err != nil {
		return mapError(dst.Location, err)
	}

	a.Logger.Debug("wrote table", slog.String("table", ident.Sanitize()), slog.Int("rows", t.NumRows()))
	return nil
}

func copyTable(ctx context.Context, conn *pgx.Conn, ident pgx.Identifier, t *core.Table, overwrite bool) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if overwrite {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+ident.Sanitize()); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, createTableSQL(ident, t)); err != nil {
		return err
	}

	rows := make([][]any, t.NumRows())
	for i := range rows {
		rows[i] = t.Row(i)
	}
	if _, err := tx.CopyFrom(ctx, ident, t.ColumnNames(), pgx.CopyFromRows(rows)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func createTableSQL(ident pgx.Identifier, t *core.Table) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = pgx.Identifier{c.Name}.Sanitize() + " " + pgTypeName(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", ident.Sanitize(), strings.Join(cols, ", "))
}

func pgTypeName(t core.Type) string {
	switch t {
	case core.TypeInt:
		return "BIGINT"
	case core.TypeFloat:
		return "DOUBLE PRECISION"
	case core.TypeBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// Remove drops the table at location if it exists.
func (a *Adapter) Remove(ctx context.Context, location string) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	schema, table := splitQualified(location, a.defaultSchema())
	ident := pgx.Identifier{schema, table}
	if _, err := a.DB.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident.Sanitize()); err != nil {
		return mapError(location, err)
	}
	a.Logger.Debug("dropped table", slog.String("table", ident.Sanitize()))
	return nil
}

// mapError turns permission failures into core.AccessError.
func mapError(location string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeInsufficientPrivilege:
			return &core.AccessError{Location: location, Err: err}
		case codeUndefinedTable:
			return fmt.Errorf("table %s does not exist: %w", location, err)
		}
	}
	return fmt.Errorf("postgres %s: %w", location, err)
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
