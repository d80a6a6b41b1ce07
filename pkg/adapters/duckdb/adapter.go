// Package duckdb provides the DuckDB datastore adapter. DuckDB reads parquet
// and CSV datasets and writes parquet partitions, locally or on object
// storage through the httpfs extension.
//
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/featureprep/pkg/adapters/duckdb"
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/leapstack-labs/featureprep/pkg/adapter"
	"github.com/leapstack-labs/featureprep/pkg/core"
	"github.com/marcboeker/go-duckdb"
)

// partFile is the file name of the single parquet part written per partition.
const partFile = "part-0.parquet"

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
	params *Params
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect opens DuckDB at cfg.Path (":memory:" when empty), applies the
// settings from cfg.Params to every pooled connection and loads the
// extensions and secrets once for the database.
func (a *Adapter) Connect(ctx context.Context, cfg core.AdapterConfig) error {
	params, err := ParseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	settings := settingStatements(params.Settings)
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		for _, stmt := range settings {
			if _, err := execer.ExecContext(context.Background(), stmt, nil); err != nil {
				return fmt.Errorf("failed to apply %q: %w", stmt, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	a.params = params

	if err := a.applyParams(ctx, params); err != nil {
		_ = db.Close()
		a.DB = nil
		return err
	}

	a.Logger.Debug("connected to duckdb", slog.String("path", path), slog.Int("settings", len(settings)))
	return nil
}

// settingStatements renders SET statements in key order. Settings are
// session scoped, so they run on each new connection.
func settingStatements(settings map[string]string) []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stmts := make([]string, len(keys))
	for i, k := range keys {
		stmts[i] = fmt.Sprintf("SET %s = %s", k, adapter.QuoteLiteral(settings[k]))
	}
	return stmts
}

func (a *Adapter) applyParams(ctx context.Context, p *Params) error {
	for _, ext := range p.Extensions {
		if err := a.Exec(ctx, "INSTALL "+ext); err != nil {
			return fmt.Errorf("failed to install extension %s: %w", ext, err)
		}
		if err := a.Exec(ctx, "LOAD "+ext); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", ext, err)
		}
	}

	for i, s := range p.Secrets {
		if err := a.Exec(ctx, buildCreateSecretSQL(s)); err != nil {
			return fmt.Errorf("failed to create secret %d (%s): %w", i, s.Type, err)
		}
	}
	return nil
}

// buildCreateSecretSQL renders a CREATE SECRET statement.
func buildCreateSecretSQL(s SecretConfig) string {
	parts := []string{"TYPE " + s.Type}
	if s.Provider != "" {
		parts = append(parts, "PROVIDER "+s.Provider)
	}
	if s.Region != "" {
		parts = append(parts, "REGION "+adapter.QuoteLiteral(s.Region))
	}
	if s.KeyID != "" {
		parts = append(parts, "KEY_ID "+adapter.QuoteLiteral(s.KeyID))
	}
	if s.Secret != "" {
		parts = append(parts, "SECRET "+adapter.QuoteLiteral(s.Secret))
	}
	if s.Endpoint != "" {
		parts = append(parts, "ENDPOINT "+adapter.QuoteLiteral(s.Endpoint))
	}
	if s.URLStyle != "" {
		parts = append(parts, "URL_STYLE "+adapter.QuoteLiteral(s.URLStyle))
	}
	if s.UseSSL != nil {
		parts = append(parts, fmt.Sprintf("USE_SSL %t", *s.UseSSL))
	}
	if scope := scopeSQL(s.Scope); scope != "" {
		parts = append(parts, "SCOPE "+scope)
	}
	return "CREATE SECRET (\n    " + strings.Join(parts, ",\n    ") + "\n)"
}

func scopeSQL(scope any) string {
	var items []string
	switch v := scope.(type) {
	case nil:
		return ""
	case string:
		return adapter.QuoteLiteral(v)
	case []string:
		items = v
	case []any:
		for _, x := range v {
			items = append(items, fmt.Sprint(x))
		}
	default:
		return adapter.QuoteLiteral(fmt.Sprint(v))
	}
	if len(items) == 0 {
		return ""
	}
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = adapter.QuoteLiteral(it)
	}
	if len(quoted) == 1 {
		return quoted[0]
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// =============================================================================
// Reading
// =============================================================================

// ReadTable reads a parquet directory or glob, a CSV file or a DuckDB table.
func (a *Adapter) ReadTable(ctx context.Context, src core.Source) (*core.Table, error) {
	if a.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	from, err := a.scanExpr(src)
	if err != nil {
		return nil, err
	}

	a.Logger.Debug("reading dataset", slog.String("location", src.Location), slog.String("format", string(src.Format)))

	t, err := a.QueryTable(ctx, "SELECT * FROM "+from)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src.Location, err)
	}
	return t, nil
}

func (a *Adapter) scanExpr(src core.Source) (string, error) {
	loc := src.Location
	if loc == "" {
		return "", fmt.Errorf("source location is empty")
	}

	if !isRemote(loc) && src.Format != core.FormatTable && !strings.ContainsAny(loc, "*?[") {
		info, err := os.Stat(loc)
		switch {
		case errors.Is(err, fs.ErrPermission):
			return "", &core.AccessError{Location: loc, Err: err}
		case err != nil:
			return "", fmt.Errorf("cannot read %s: %w", loc, err)
		case info.IsDir():
			loc = filepath.Join(loc, "*."+string(src.Format))
		}
	}

	switch src.Format {
	case core.FormatParquet, "":
		return fmt.Sprintf("read_parquet(%s)", adapter.QuoteLiteral(loc)), nil
	case core.FormatCSV:
		return fmt.Sprintf("read_csv_auto(%s, header=true)", adapter.QuoteLiteral(loc)), nil
	case core.FormatTable:
		return quoteQualified(loc), nil
	default:
		return "", fmt.Errorf("duckdb cannot read format %q", src.Format)
	}
}

func quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = adapter.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func isRemote(loc string) bool {
	return strings.Contains(loc, "://")
}

// =============================================================================
// Writing
// =============================================================================

// WriteTable persists t at dst.Location. Local parquet partitions are
// written into a staging directory next to the destination and renamed into
// place, so a partially written partition is never visible at the final path.
// An existing destination, local or remote, is an error unless dst.Overwrite
// is set.
func (a *Adapter) WriteTable(ctx context.Context, t *core.Table, dst core.Sink) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if t.NumColumns() == 0 {
		return fmt.Errorf("cannot write a table without columns")
	}
	if err := t.Validate(); err != nil {
		return err
	}

	format := dst.Format
	if format == "" {
		format = core.FormatParquet
	}
	if format != core.FormatParquet && format != core.FormatCSV {
		return fmt.Errorf("duckdb cannot write format %q", format)
	}

	conn, err := a.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stage := "featureprep_stage_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := a.loadTable(ctx, conn, stage, t); err != nil {
		return err
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+adapter.QuoteIdent(stage))
	}()

	if isRemote(dst.Location) {
		target := remoteTarget(dst.Location, format)
		if !dst.Overwrite {
			exists, err := pathExists(ctx, conn, target)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%s: %w", target, fs.ErrExist)
			}
		}
		return a.copyTo(ctx, conn, stage, target, format)
	}
	return a.writeLocal(ctx, conn, stage, dst, format)
}

// loadTable creates table name with t's schema and appends every row.
func (a *Adapter) loadTable(ctx context.Context, conn *sql.Conn, name string, t *core.Table) error {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = adapter.QuoteIdent(c.Name) + " " + adapter.DatabaseTypeName(c.Type)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", adapter.QuoteIdent(name), strings.Join(cols, ", "))
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		app, err := duckdb.NewAppenderFromConn(dc, "", name)
		if err != nil {
			return fmt.Errorf("failed to create appender: %w", err)
		}

		row := make([]driver.Value, len(t.Columns))
		for i := 0; i < t.NumRows(); i++ {
			for j, c := range t.Columns {
				row[j] = c.Values[i]
			}
			if err := app.AppendRow(row...); err != nil {
				_ = app.Close()
				return fmt.Errorf("failed to append row %d: %w", i, err)
			}
		}
		if err := app.Close(); err != nil {
			return fmt.Errorf("failed to flush appender: %w", err)
		}
		return nil
	})
}

func (a *Adapter) writeLocal(ctx context.Context, conn *sql.Conn, table string, dst core.Sink, format core.Format) error {
	final, err := filepath.Abs(dst.Location)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dst.Location, err)
	}

	exists := false
	if _, err := os.Stat(final); err == nil {
		exists = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cannot stat %s: %w", final, err)
	}
	if exists && !dst.Overwrite {
		return fmt.Errorf("%s: %w", final, fs.ErrExist)
	}

	parent := filepath.Dir(final)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}

	staging := filepath.Join(parent, "."+filepath.Base(final)+".staging-"+uuid.NewString())
	target := staging
	if format == core.FormatParquet {
		if err := os.Mkdir(staging, 0o750); err != nil {
			return fmt.Errorf("failed to create staging directory: %w", err)
		}
		target = filepath.Join(staging, partFile)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := a.copyTo(ctx, conn, table, target, format); err != nil {
		return err
	}

	if exists {
		if err := os.RemoveAll(final); err != nil {
			return fmt.Errorf("failed to replace %s: %w", final, err)
		}
	}
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("failed to move partition into %s: %w", final, err)
	}

	a.Logger.Debug("wrote partition", slog.String("path", final), slog.String("format", string(format)))
	return nil
}

func (a *Adapter) copyTo(ctx context.Context, conn *sql.Conn, table, target string, format core.Format) error {
	opts := "FORMAT PARQUET"
	if format == core.FormatCSV {
		opts = "FORMAT CSV, HEADER true"
	}
	stmt := fmt.Sprintf("COPY (SELECT * FROM %s) TO %s (%s)", adapter.QuoteIdent(table), adapter.QuoteLiteral(target), opts)
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to copy to %s: %w", target, err)
	}
	return nil
}

// pathExists asks DuckDB's file system whether target matches any file. It
// works for local paths and for URIs served by a loaded extension.
func pathExists(ctx context.Context, conn *sql.Conn, target string) (bool, error) {
	var n int64
	err := conn.QueryRowContext(ctx, "SELECT count(*) FROM glob("+adapter.QuoteLiteral(target)+")").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", target, err)
	}
	return n > 0, nil
}

func remoteTarget(loc string, format core.Format) string {
	if format == core.FormatParquet {
		return strings.TrimSuffix(loc, "/") + "/" + partFile
	}
	return loc
}

// Remove deletes a local partition directory or file. Object-store
// partitions cannot be deleted through DuckDB and are reported as an error.
func (a *Adapter) Remove(_ context.Context, location string) error {
	if isRemote(location) {
		return fmt.Errorf("cannot remove %s: object-store partitions must be deleted by the store", location)
	}
	final, err := filepath.Abs(location)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", location, err)
	}
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("failed to remove %s: %w", final, err)
	}
	a.Logger.Debug("removed partition", slog.String("path", final))
	return nil
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
