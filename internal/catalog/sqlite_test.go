package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/featureprep/internal/testutil"
	"github.com/leapstack-labs/featureprep/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func register(t *testing.T, store *SQLiteStore, name string, newVersion bool) *core.DatasetVersion {
	t.Helper()
	dv, err := store.Register(context.Background(), core.RegisterRequest{
		Name:             name,
		Datastore:        "local",
		Path:             "raw/" + name + "/*.parquet",
		Format:           core.FormatParquet,
		CreateNewVersion: newVersion,
	})
	require.NoError(t, err)
	return dv
}

func TestSQLiteStore_OpenMigrate(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	version, err := store.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	for _, table := range []string{"dataset_versions", "runs", "run_datasets"} {
		rows, err := store.db.QueryContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1")
		require.NoError(t, err, "table %s should exist", table)
		_ = rows.Close()
	}

	// Migrating twice is a no-op.
	require.NoError(t, store.Migrate(ctx))
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	register(t, store, "titanic", false)
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(nil)

	_, err := store.Resolve(ctx, core.DatasetRef{Name: "x"})
	assert.Error(t, err)
	_, err = store.Register(ctx, core.RegisterRequest{Name: "x", Path: "p"})
	assert.Error(t, err)
	_, err = store.CreateRun(ctx, core.RunContext{})
	assert.Error(t, err)
	assert.Error(t, store.Migrate(ctx))
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_RegisterVersions(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	v1 := register(t, store, "titanic_train", true)
	v2 := register(t, store, "titanic_train", true)
	other := register(t, store, "titanic_test", true)

	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, 1, other.Version)
	assert.NotEqual(t, v1.ID, v2.ID)

	latest, err := store.Resolve(ctx, core.DatasetRef{Name: "titanic_train"})
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	first, err := store.Resolve(ctx, core.DatasetRef{Name: "titanic_train", Version: 1})
	require.NoError(t, err)
	assert.Equal(t, v1.ID, first.ID)
	assert.Equal(t, "local", first.Datastore)
	assert.Equal(t, core.FormatParquet, first.Format)
}

func TestSQLiteStore_RegisterExisting(t *testing.T) {
	store := setupTestStore(t)
	register(t, store, "titanic", false)

	_, err := store.Register(context.Background(), core.RegisterRequest{Name: "titanic", Path: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDatasetExists)
}

func TestSQLiteStore_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	_, err := store.Register(ctx, core.RegisterRequest{Path: "p"})
	assert.Error(t, err)

	_, err = store.Register(ctx, core.RegisterRequest{Name: "n"})
	assert.Error(t, err)
}

func TestSQLiteStore_Tags(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	record := core.RegistrationRecord{
		InputDatasets: []core.DatasetRef{{Name: "a", Version: 1}, {Name: "b", Version: 3}},
		FeaturePath:   "features.titanic_train",
		RunID:         "run-1",
		Dtypes:        map[string]string{"Age": "float64"},
	}
	_, err := store.Register(ctx, core.RegisterRequest{
		Name: "titanic_train", Path: "train/*.parquet", Tags: record.Tags(), CreateNewVersion: true,
	})
	require.NoError(t, err)

	dv, err := store.Resolve(ctx, core.DatasetRef{Name: "titanic_train"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a: 1", "b: 3"}, dv.Tags["input_datasets"])
	assert.Equal(t, "features.titanic_train", dv.Tags["feature_path"])
	assert.Equal(t, "run-1", dv.Tags["run_id"])
	assert.Equal(t, map[string]any{"Age": "float64"}, dv.Tags["dtypes"])
}

func TestSQLiteStore_ResolveNotFound(t *testing.T) {
	store := setupTestStore(t)
	register(t, store, "titanic", false)

	tests := []struct {
		name string
		ref  core.DatasetRef
	}{
		{"unknown name", core.DatasetRef{Name: "nope"}},
		{"unknown version", core.DatasetRef{Name: "titanic", Version: 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Resolve(context.Background(), tt.ref)
			var nf *core.NotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, tt.ref, nf.Ref)
		})
	}
}

func TestSQLiteStore_ListDatasets(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	register(t, store, "b", true)
	register(t, store, "a", true)
	register(t, store, "b", true)

	datasets, err := store.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Equal(t, "a", datasets[0].Name)
	assert.Equal(t, 1, datasets[0].LatestVersion)
	assert.Equal(t, "b", datasets[1].Name)
	assert.Equal(t, 2, datasets[1].LatestVersion)
	assert.Equal(t, 2, datasets[1].VersionCount)

	versions, err := store.ListVersions(ctx, "b")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)

	_, err = store.ListVersions(ctx, "zzz")
	var nf *core.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestSQLiteStore_ConcurrentRegister(t *testing.T) {
	store := setupTestStore(t)

	const n = 8
	var wg sync.WaitGroup
	versions := make([]int, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dv, err := store.Register(context.Background(), core.RegisterRequest{
				Name: "shared", Path: "p", CreateNewVersion: true,
			})
			errs[i] = err
			if dv != nil {
				versions[i] = dv.Version
			}
		}()
	}
	wg.Wait()

	seen := map[int]bool{}
	for i := range n {
		require.NoError(t, errs[i])
		seen[versions[i]] = true
	}
	assert.Len(t, seen, n, "every registration gets a distinct version")
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	run, err := store.CreateRun(ctx, core.RunContext{RunID: "run-1", ParentRunID: "parent-1", Workspace: "ws"})
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusRunning, run.Status)

	generated, err := store.CreateRun(ctx, core.RunContext{})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)

	require.NoError(t, store.LinkRunDataset(ctx, core.RunDataset{RunID: "run-1", Name: "a", Version: 1, Role: core.RoleInput}))
	require.NoError(t, store.LinkRunDataset(ctx, core.RunDataset{RunID: "run-1", Name: "a", Version: 1, Role: core.RoleInput}))
	require.NoError(t, store.LinkRunDataset(ctx, core.RunDataset{RunID: "run-1", Name: "train", Version: 2, Role: core.RoleOutput}))

	links, err := store.RunDatasets(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, core.RoleInput, links[0].Role)
	assert.Equal(t, core.RoleOutput, links[1].Role)

	require.NoError(t, store.CompleteRun(ctx, "run-1", core.RunStatusFailed, "boom"))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusFailed, got.Status)
	assert.Equal(t, "parent-1", got.ParentID)
	assert.Equal(t, "ws", got.Workspace)
	assert.Equal(t, "boom", got.Error)
	require.NotNil(t, got.CompletedAt)

	assert.Error(t, store.CompleteRun(ctx, "missing", core.RunStatusCompleted, ""))
	_, err = store.GetRun(ctx, "missing")
	assert.Error(t, err)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = store.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLiteStore_RegisterInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	boom := errors.New("disk I/O error")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT MAX\\(version\\)").
		WithArgs("titanic").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec("INSERT INTO dataset_versions").WillReturnError(boom)
	mock.ExpectRollback()

	store := NewWithDB(db, nil)
	_, err = store.Register(context.Background(), core.RegisterRequest{Name: "titanic", Path: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_VersionsAt(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	for _, req := range []core.RegisterRequest{
		{Name: "titanic_train", Datastore: "local", Path: "features/train/run-1/*.parquet", CreateNewVersion: true},
		{Name: "titanic_train", Datastore: "local", Path: "features/train/run-2/*.parquet", CreateNewVersion: true},
		{Name: "titanic_train_copy", Datastore: "local", Path: "features/train/run-1/*.parquet"},
		{Name: "remote_train", Datastore: "lake", Path: "features/train/run-1/*.parquet"},
	} {
		_, err := store.Register(ctx, req)
		require.NoError(t, err)
	}

	refs, err := store.VersionsAt(ctx, "local", "features/train/run-1/*.parquet")
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.DatasetRef{
		{Name: "titanic_train", Version: 1},
		{Name: "titanic_train_copy", Version: 1},
	}, refs)

	refs, err = store.VersionsAt(ctx, "local", "features/train/run-3/*.parquet")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestSQLiteStore_RestartFailedRun(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	_, err := store.CreateRun(ctx, core.RunContext{RunID: "run-1"})
	require.NoError(t, err)

	_, err = store.CreateRun(ctx, core.RunContext{RunID: "run-1"})
	require.ErrorIs(t, err, ErrRunExists, "a running run cannot be restarted")

	require.NoError(t, store.LinkRunDataset(ctx, core.RunDataset{RunID: "run-1", Name: "a", Version: 1, Role: core.RoleInput}))
	require.NoError(t, store.CompleteRun(ctx, "run-1", core.RunStatusFailed, "disk full"))

	restarted, err := store.CreateRun(ctx, core.RunContext{RunID: "run-1", ParentRunID: "retry-2"})
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusRunning, restarted.Status)

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusRunning, got.Status)
	assert.Equal(t, "retry-2", got.ParentID)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.CompletedAt)

	links, err := store.RunDatasets(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, links)

	require.NoError(t, store.CompleteRun(ctx, "run-1", core.RunStatusCompleted, ""))
	_, err = store.CreateRun(ctx, core.RunContext{RunID: "run-1"})
	require.ErrorIs(t, err, ErrRunExists, "a completed run cannot be restarted")
}
