package publish

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/featureprep/internal/catalog"
	"github.com/leapstack-labs/featureprep/internal/datastore"
	"github.com/leapstack-labs/featureprep/internal/prep"
	"github.com/leapstack-labs/featureprep/internal/split"
	"github.com/leapstack-labs/featureprep/internal/testutil"
	"github.com/leapstack-labs/featureprep/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/leapstack-labs/featureprep/pkg/adapters/duckdb"
)

type fakeStorage struct {
	mu        sync.Mutex
	failOn    string
	removeErr error
	writes    map[string]int
	removed   []string
}

func (f *fakeStorage) Locate(_, base, key string) (string, string, error) {
	rel := base + "/" + key
	return rel, rel + "/*.parquet", nil
}

func (f *fakeStorage) Write(_ context.Context, _, rel string, t *core.Table, _ bool) (string, core.Format, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rel == f.failOn {
		return "", "", errors.New("quota exceeded")
	}
	if f.writes == nil {
		f.writes = map[string]int{}
	}
	f.writes[rel] = t.NumRows()
	return rel + "/*.parquet", core.FormatParquet, nil
}

func (f *fakeStorage) Remove(_ context.Context, _, rel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, rel)
	delete(f.writes, rel)
	return nil
}

type fakeRegistrar struct {
	failOn string
	calls  []core.RegisterRequest
	paths  map[string][]core.DatasetRef
}

func (f *fakeRegistrar) Register(_ context.Context, req core.RegisterRequest) (*core.DatasetVersion, error) {
	f.calls = append(f.calls, req)
	if req.Name == f.failOn {
		return nil, errors.New("catalog unavailable")
	}
	return &core.DatasetVersion{Name: req.Name, Version: 1, Path: req.Path, Tags: req.Tags}, nil
}

func (f *fakeRegistrar) VersionsAt(_ context.Context, _, path string) ([]core.DatasetRef, error) {
	return f.paths[path], nil
}

var (
	trainTarget = Target{Name: "titanic_train", Path: "features/train"}
	testTarget  = Target{Name: "titanic_test", Path: "features/test"}
	fixedNow    = time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
)

func prepared(t *testing.T) *core.Table {
	t.Helper()
	out, err := prep.Prepare([]*core.Table{
		testutil.TitanicTable("a", 0, 500),
		testutil.TitanicTable("b", 500, 300),
		testutil.TitanicTable("c", 800, 200),
	}, prep.DefaultOptions())
	require.NoError(t, err)
	return out
}

func provenance() Provenance {
	return Provenance{
		Inputs: []core.DatasetRef{{Name: "a", Version: 1}, {Name: "b", Version: 2}, {Name: "c", Version: 1}},
		Run:    core.RunContext{RunID: "run-1", ParentRunID: "pipeline-9"},
	}
}

func TestSplitAndPublish(t *testing.T) {
	storage := &fakeStorage{}
	registrar := &fakeRegistrar{}
	p := New(storage, registrar, Options{Datastore: "local", Now: func() time.Time { return fixedNow }}, testutil.NewTestLogger(t))

	train, test, err := p.SplitAndPublish(context.Background(), prepared(t), split.DefaultOptions(), trainTarget, testTarget, provenance())
	require.NoError(t, err)

	assert.Equal(t, "titanic_train", train.Name)
	assert.Equal(t, "titanic_test", test.Name)
	assert.Equal(t, map[string]int{"features/train/run-1": 800, "features/test/run-1": 200}, storage.writes)
	assert.Empty(t, storage.removed)

	require.Len(t, registrar.calls, 2)
	req := registrar.calls[0]
	assert.Equal(t, "features/train/run-1/*.parquet", req.Path)
	assert.Equal(t, "local", req.Datastore)
	assert.True(t, req.CreateNewVersion)
	assert.Equal(t, int64(800), req.RowCount)
	assert.Equal(t, []any{"a: 1", "b: 2", "c: 1"}, req.Tags["input_datasets"])
	assert.Equal(t, "2024-05-01 09:30:00", req.Tags["registered_at"])
	assert.Equal(t, "features.titanic_train", req.Tags["feature_path"])
	assert.Equal(t, "pipeline-9", req.Tags["run_id"])
	assert.Equal(t, "float64", req.Tags["dtypes"].(map[string]any)["Age"])
	assert.Equal(t, "features.titanic_test", registrar.calls[1].Tags["feature_path"])
	assert.Len(t, req.Tags[ContentHashTag], 16)
	assert.NotEqual(t, req.Tags[ContentHashTag], registrar.calls[1].Tags[ContentHashTag])
}

func TestSplitAndPublish_WriteFailureRegistersNothing(t *testing.T) {
	trainRel, testRel := trainTarget.Path+"/run-1", testTarget.Path+"/run-1"

	tests := []struct {
		failOn  string
		written string
	}{
		{failOn: trainRel, written: testRel},
		{failOn: testRel, written: trainRel},
	}
	for _, tt := range tests {
		t.Run(tt.failOn, func(t *testing.T) {
			storage := &fakeStorage{failOn: tt.failOn}
			registrar := &fakeRegistrar{}
			logs := testutil.NewLogCapture(t)
			p := New(storage, registrar, Options{Datastore: "local"}, logs.Logger)

			_, _, err := p.SplitAndPublish(context.Background(), prepared(t), split.DefaultOptions(), trainTarget, testTarget, provenance())

			var writeErr *core.StorageWriteError
			require.ErrorAs(t, err, &writeErr)
			assert.Equal(t, tt.failOn, writeErr.Path)
			assert.Empty(t, registrar.calls, "no registration after a failed write")
			assert.Equal(t, []string{tt.written}, storage.removed, "the partition that was written is removed")
			assert.Empty(t, storage.writes)
			assert.True(t, logs.Contains("removed unregistered partition", "path="+tt.written))
		})
	}
}

func TestSplitAndPublish_CleanupFailureIsReported(t *testing.T) {
	storage := &fakeStorage{failOn: testTarget.Path + "/run-1", removeErr: errors.New("permission denied")}
	logs := testutil.NewLogCapture(t)
	p := New(storage, &fakeRegistrar{}, Options{Datastore: "local"}, logs.Logger)

	_, _, err := p.SplitAndPublish(context.Background(), prepared(t), split.DefaultOptions(), trainTarget, testTarget, provenance())

	var writeErr *core.StorageWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Contains(t, err.Error(), "remove unregistered partition features/train/run-1")
	assert.Contains(t, err.Error(), "permission denied")
	assert.True(t, logs.Contains("level=WARN", "failed to remove unregistered partition"))
}

func TestSplitAndPublish_OverwriteRefusesRegisteredLocation(t *testing.T) {
	storage := &fakeStorage{}
	registrar := &fakeRegistrar{paths: map[string][]core.DatasetRef{
		"features/test/run-1/*.parquet": {{Name: "titanic_test", Version: 3}},
	}}
	p := New(storage, registrar, Options{Datastore: "local", Overwrite: true}, nil)

	_, _, err := p.SplitAndPublish(context.Background(), prepared(t), split.DefaultOptions(), trainTarget, testTarget, provenance())

	var writeErr *core.StorageWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.ErrorIs(t, err, ErrPathRegistered)
	assert.Equal(t, "features/test/run-1", writeErr.Path)
	assert.Contains(t, err.Error(), "titanic_test:3")
	assert.Empty(t, storage.writes, "nothing is written")
	assert.Empty(t, registrar.calls)
}

func TestSplitAndPublish_GeneratedRunKey(t *testing.T) {
	storage := &fakeStorage{}
	p := New(storage, &fakeRegistrar{}, Options{Datastore: "local"}, nil)

	prov := provenance()
	prov.Run = core.RunContext{}
	train, test, err := p.SplitAndPublish(context.Background(), prepared(t), split.DefaultOptions(), trainTarget, testTarget, prov)
	require.NoError(t, err)

	trainKey := strings.TrimSuffix(strings.TrimPrefix(train.Path, "features/train/"), "/*.parquet")
	testKey := strings.TrimSuffix(strings.TrimPrefix(test.Path, "features/test/"), "/*.parquet")
	assert.Len(t, trainKey, 36)
	assert.Equal(t, trainKey, testKey, "both partitions share the run key")
}

func TestSplitAndPublish_RegistrationFailure(t *testing.T) {
	registrar := &fakeRegistrar{failOn: testTarget.Name}
	p := New(&fakeStorage{}, registrar, Options{Datastore: "local"}, nil)

	_, _, err := p.SplitAndPublish(context.Background(), prepared(t), split.DefaultOptions(), trainTarget, testTarget, provenance())

	var regErr *core.RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "titanic_test", regErr.Dataset)
	assert.Equal(t, "features/test/run-1/*.parquet", regErr.Path)
	assert.Equal(t, []core.DatasetRef{{Name: "titanic_train", Version: 1}}, regErr.Registered)
	assert.Contains(t, err.Error(), "already registered: titanic_train:1")
}

func TestSplitAndPublish_SplitErrorWritesNothing(t *testing.T) {
	storage := &fakeStorage{}
	registrar := &fakeRegistrar{}
	p := New(storage, registrar, Options{Datastore: "local"}, nil)

	tiny := core.NewTable("", &core.Column{Name: "Survived", Type: core.TypeInt, Values: []any{int64(0), int64(1)}})
	_, _, err := p.SplitAndPublish(context.Background(), tiny, split.DefaultOptions(), trainTarget, testTarget, provenance())

	var insufficient *core.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Empty(t, storage.writes)
	assert.Empty(t, registrar.calls)
}

func TestSplitAndPublish_InvalidTargets(t *testing.T) {
	p := New(&fakeStorage{}, &fakeRegistrar{}, Options{}, nil)
	tbl := prepared(t)

	tests := []struct {
		name        string
		train, test Target
	}{
		{"missing name", Target{Path: "a"}, testTarget},
		{"missing path", trainTarget, Target{Name: "x"}},
		{"same name", trainTarget, Target{Name: trainTarget.Name, Path: "other"}},
		{"same path", trainTarget, Target{Name: "other", Path: trainTarget.Path}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := p.SplitAndPublish(context.Background(), tbl, split.DefaultOptions(), tt.train, tt.test, provenance())
			assert.Error(t, err)
		})
	}
}

func setupDuckDB(t *testing.T) (*catalog.SQLiteStore, *datastore.Set, string) {
	t.Helper()
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)
	root := t.TempDir()

	store, err := catalog.OpenSQLite(ctx, filepath.Join(t.TempDir(), "catalog.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	stores := datastore.NewSet([]datastore.Config{{Name: "local", Root: root, Adapter: core.AdapterConfig{Type: "duckdb"}}}, logger)
	t.Cleanup(func() { _ = stores.Close() })

	return store, stores, root
}

func withRun(id string) Provenance {
	prov := provenance()
	prov.Run.RunID = id
	return prov
}

func TestSplitAndPublish_DuckDBAndCatalog(t *testing.T) {
	ctx := context.Background()
	store, stores, _ := setupDuckDB(t)
	logger := testutil.NewTestLogger(t)

	p := New(stores, store, Options{Datastore: "local"}, logger)
	tbl := prepared(t)

	train, test, err := p.SplitAndPublish(ctx, tbl, split.DefaultOptions(), trainTarget, testTarget, provenance())
	require.NoError(t, err)
	assert.Equal(t, 1, train.Version)
	assert.Equal(t, 1, test.Version)
	assert.Equal(t, "features/train/run-1/*.parquet", train.Path)

	readBack, err := stores.Read(ctx, "local", test.Path, test.Format)
	require.NoError(t, err)
	assert.Equal(t, 200, readBack.NumRows())

	// Publishing the same run again fails without Overwrite and leaves the
	// catalog at version 1.
	_, _, err = p.SplitAndPublish(ctx, tbl, split.DefaultOptions(), trainTarget, testTarget, provenance())
	var writeErr *core.StorageWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.ErrorIs(t, err, fs.ErrExist)

	latest, err := store.Resolve(ctx, core.DatasetRef{Name: "titanic_train"})
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)

	// A new run creates version 2 at its own location.
	train, _, err = p.SplitAndPublish(ctx, tbl, split.DefaultOptions(), trainTarget, testTarget, withRun("run-2"))
	require.NoError(t, err)
	assert.Equal(t, 2, train.Version)
	assert.Equal(t, "features/train/run-2/*.parquet", train.Path)
}

func TestSplitAndPublish_OverwriteKeepsRegisteredVersions(t *testing.T) {
	ctx := context.Background()
	store, stores, _ := setupDuckDB(t)
	tbl := prepared(t)

	p := New(stores, store, Options{Datastore: "local"}, nil)
	v1, _, err := p.SplitAndPublish(ctx, tbl, split.Options{LabelColumn: "Survived", TestFraction: 0.2, Seed: 42}, trainTarget, testTarget, provenance())
	require.NoError(t, err)

	// Overwrite may not touch the location version 1 points at.
	p = New(stores, store, Options{Datastore: "local", Overwrite: true}, nil)
	_, _, err = p.SplitAndPublish(ctx, tbl, split.Options{LabelColumn: "Survived", TestFraction: 0.2, Seed: 7}, trainTarget, testTarget, provenance())
	require.ErrorIs(t, err, ErrPathRegistered)

	v2, _, err := p.SplitAndPublish(ctx, tbl, split.Options{LabelColumn: "Survived", TestFraction: 0.2, Seed: 7}, trainTarget, testTarget, withRun("run-2"))
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, v1.Path, v2.Path)

	resolved, err := store.Resolve(ctx, core.DatasetRef{Name: "titanic_train", Version: 1})
	require.NoError(t, err)
	data, err := stores.Read(ctx, "local", resolved.Path, resolved.Format)
	require.NoError(t, err)
	assert.Equal(t, 800, data.NumRows())
	assert.Equal(t, resolved.Tags[ContentHashTag], Fingerprint(data), "version 1 still reads the data it was registered with")
	assert.NotEqual(t, v2.Tags[ContentHashTag], resolved.Tags[ContentHashTag])
}

func TestSplitAndPublish_FailedWriteLeavesNoPartition(t *testing.T) {
	ctx := context.Background()
	store, stores, root := setupDuckDB(t)

	blocked := filepath.Join(root, "features", "train", "run-1")
	require.NoError(t, os.MkdirAll(blocked, 0o750))

	p := New(stores, store, Options{Datastore: "local"}, nil)
	for range 5 {
		_, _, err := p.SplitAndPublish(ctx, prepared(t), split.DefaultOptions(), trainTarget, testTarget, provenance())
		var writeErr *core.StorageWriteError
		require.ErrorAs(t, err, &writeErr)
		assert.Equal(t, "features/train/run-1", writeErr.Path)

		_, statErr := os.Stat(filepath.Join(root, "features", "test", "run-1"))
		assert.ErrorIs(t, statErr, fs.ErrNotExist, "the test partition is not left behind")
	}

	// Once the blocker is gone the same run publishes.
	require.NoError(t, os.Remove(blocked))
	_, test, err := p.SplitAndPublish(ctx, prepared(t), split.DefaultOptions(), trainTarget, testTarget, provenance())
	require.NoError(t, err)
	assert.Equal(t, 1, test.Version)
}
