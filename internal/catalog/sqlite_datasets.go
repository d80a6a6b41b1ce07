package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/featureprep/pkg/core"
)

const versionColumns = `id, name, version, datastore, path, format, description, tags, row_count, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(row scanner) (*core.DatasetVersion, error) {
	dv := &core.DatasetVersion{}
	var format, tags string
	if err := row.Scan(&dv.ID, &dv.Name, &dv.Version, &dv.Datastore, &dv.Path, &format,
		&dv.Description, &tags, &dv.RowCount, &dv.CreatedAt); err != nil {
		return nil, err
	}
	dv.Format = core.Format(format)
	if err := json.Unmarshal([]byte(tags), &dv.Tags); err != nil {
		return nil, fmt.Errorf("dataset %s:%d has malformed tags: %w", dv.Name, dv.Version, err)
	}
	return dv, nil
}

// Resolve returns the dataset version ref points to.
func (s *SQLiteStore) Resolve(ctx context.Context, ref core.DatasetRef) (*core.DatasetVersion, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	var row *sql.Row
	if ref.Version == 0 {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+versionColumns+` FROM dataset_versions WHERE name = ? ORDER BY version DESC LIMIT 1`,
			ref.Name)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+versionColumns+` FROM dataset_versions WHERE name = ? AND version = ?`,
			ref.Name, ref.Version)
	}

	dv, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Ref: ref}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dataset %s: %w", ref, err)
	}
	return dv, nil
}

// Register records a new version of req.Name.
func (s *SQLiteStore) Register(ctx context.Context, req core.RegisterRequest) (*core.DatasetVersion, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if req.Name == "" {
		return nil, fmt.Errorf("dataset name is required")
	}
	if req.Path == "" {
		return nil, fmt.Errorf("dataset %s: path is required", req.Name)
	}
	if req.Format == "" {
		req.Format = core.FormatParquet
	}

	tags := req.Tags
	if tags == nil {
		tags = map[string]any{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags for %s: %w", req.Name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM dataset_versions WHERE name = ?`, req.Name,
	).Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to read latest version of %s: %w", req.Name, err)
	}
	if latest.Valid && !req.CreateNewVersion {
		return nil, fmt.Errorf("%w: %s (latest version %d)", ErrDatasetExists, req.Name, latest.Int64)
	}

	dv := &core.DatasetVersion{
		ID:          generateID(),
		Name:        req.Name,
		Version:     int(latest.Int64) + 1,
		Datastore:   req.Datastore,
		Path:        req.Path,
		Format:      req.Format,
		Description: req.Description,
		Tags:        tags,
		RowCount:    req.RowCount,
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dataset_versions (`+versionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dv.ID, dv.Name, dv.Version, dv.Datastore, dv.Path, string(dv.Format),
		dv.Description, string(tagsJSON), dv.RowCount, dv.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert dataset version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("registered dataset",
		slog.String("name", dv.Name),
		slog.Int("version", dv.Version),
		slog.String("path", dv.Path))

	return dv, nil
}

// ListDatasets summarises every dataset name, ordered by name.
func (s *SQLiteStore) ListDatasets(ctx context.Context) ([]*core.Dataset, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.name, v.version, c.cnt, v.created_at
		FROM dataset_versions v
		JOIN (
			SELECT name, MAX(version) AS latest, COUNT(*) AS cnt
			FROM dataset_versions GROUP BY name
		) c ON v.name = c.name AND v.version = c.latest
		ORDER BY v.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var datasets []*core.Dataset
	for rows.Next() {
		d := &core.Dataset{}
		if err := rows.Scan(&d.Name, &d.LatestVersion, &d.VersionCount, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

// ListVersions returns all versions of name, newest first.
func (s *SQLiteStore) ListVersions(ctx context.Context, name string) ([]*core.DatasetVersion, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM dataset_versions WHERE name = ? ORDER BY version DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	var versions []*core.DatasetVersion
	for rows.Next() {
		dv, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset version: %w", err)
		}
		versions = append(versions, dv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, &core.NotFoundError{Ref: core.DatasetRef{Name: name}}
	}
	return versions, nil
}

// VersionsAt returns the versions registered at path on datastore, oldest
// first.
func (s *SQLiteStore) VersionsAt(ctx context.Context, datastore, path string) ([]core.DatasetRef, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version FROM dataset_versions WHERE datastore = ? AND path = ? ORDER BY created_at, name, version`,
		datastore, path)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s on %s: %w", path, datastore, err)
	}
	defer func() { _ = rows.Close() }()

	var refs []core.DatasetRef
	for rows.Next() {
		var ref core.DatasetRef
		if err := rows.Scan(&ref.Name, &ref.Version); err != nil {
			return nil, fmt.Errorf("failed to scan dataset version: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
