// Package catalog provides the dataset catalog backed by SQLite.
// It records immutable, versioned dataset registrations together with the
// runs that produced or consumed them.
package catalog

import (
	"context"
	"errors"

	"github.com/leapstack-labs/featureprep/pkg/core"
)

// ErrDatasetExists is returned by Register when the name is already taken
// and the request does not ask for a new version.
var ErrDatasetExists = errors.New("dataset already exists")

// ErrRunExists is returned by CreateRun for a run id that is running or
// completed. Only failed runs can be restarted.
var ErrRunExists = errors.New("run already exists")

// Store is the catalog contract.
type Store interface {
	// Resolve returns the exact version ref names. Version 0 resolves to
	// the latest version. Unknown names and versions yield *core.NotFoundError.
	Resolve(ctx context.Context, ref core.DatasetRef) (*core.DatasetVersion, error)

	// Register records a new dataset version. The assigned version is one
	// greater than the newest existing version of the name.
	Register(ctx context.Context, req core.RegisterRequest) (*core.DatasetVersion, error)

	// VersionsAt returns the versions registered at path on datastore.
	VersionsAt(ctx context.Context, datastore, path string) ([]core.DatasetRef, error)

	// ListDatasets summarises every dataset name.
	ListDatasets(ctx context.Context) ([]*core.Dataset, error)

	// ListVersions returns all versions of name, newest first.
	ListVersions(ctx context.Context, name string) ([]*core.DatasetVersion, error)

	// CreateRun starts a run record. An empty rc.RunID gets a generated id;
	// the id of a failed run restarts that run.
	CreateRun(ctx context.Context, rc core.RunContext) (*core.Run, error)

	// CompleteRun marks a run as finished.
	CompleteRun(ctx context.Context, id string, status core.RunStatus, errMsg string) error

	// GetRun retrieves a run by id.
	GetRun(ctx context.Context, id string) (*core.Run, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*core.Run, error)

	// LinkRunDataset records that a run consumed or produced a dataset version.
	LinkRunDataset(ctx context.Context, link core.RunDataset) error

	// RunDatasets returns the dataset links of a run.
	RunDatasets(ctx context.Context, runID string) ([]*core.RunDataset, error)

	Close() error
}
