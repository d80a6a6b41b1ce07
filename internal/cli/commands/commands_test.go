package commands

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/featureprep/internal/cli/output"
	"github.com/leapstack-labs/featureprep/internal/cli/testutil"
	"github.com/leapstack-labs/featureprep/internal/pipeline"
	"github.com/leapstack-labs/featureprep/internal/prep"
	"github.com/leapstack-labs/featureprep/pkg/core"
)

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand()

	assert.Equal(t, "run", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Example)

	flags := []string{
		"feature-set", "output-train", "output-test", "output-train-name", "output-test-name",
		"output-datastore", "test-fraction", "seed", "overwrite", "run-id", "parent-run-id", "workspace",
	}
	for _, flag := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewDatasetsCommand(t *testing.T) {
	cmd := NewDatasetsCommand()

	assert.Equal(t, "datasets", cmd.Use)
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"list", "show", "versions", "register"}, names)

	register, _, err := cmd.Find([]string{"register"})
	require.NoError(t, err)
	for _, flag := range []string{"path", "datastore", "storage-format", "tag", "new-version", "skip-check"} {
		assert.NotNil(t, register.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewRunsCommand(t *testing.T) {
	cmd := NewRunsCommand()

	list, _, err := cmd.Find([]string{"list"})
	require.NoError(t, err)
	f := list.Flags().Lookup("limit")
	require.NotNil(t, f)
	assert.Equal(t, "20", f.DefValue)
}

func TestNewVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("1.2.3", "abc123", "2024-05-01")
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "featureprep v1.2.3")
	assert.Contains(t, buf.String(), "commit abc123")
}

func sampleResult() *pipeline.Result {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &pipeline.Result{
		Run:    &core.Run{ID: "run-1", Status: core.RunStatusCompleted},
		Inputs: []core.DatasetRef{{Name: "titanic_a", Version: 1}, {Name: "titanic_b", Version: 3}},
		Report: &prep.Report{
			InputRows:  10,
			OutputRows: 10,
			Dropped:    []string{"Name", "Cabin"},
			Imputed:    map[string]float64{"Age": 29.5},
		},
		Train: &core.DatasetVersion{Name: "titanic_train", Version: 1, Path: "features/train/*.parquet", RowCount: 8, CreatedAt: created},
		Test:  &core.DatasetVersion{Name: "titanic_test", Version: 1, Path: "features/test/*.parquet", RowCount: 2, CreatedAt: created},
		Duration: 1234 * time.Millisecond,
	}
}

func TestRenderRunResult_Markdown(t *testing.T) {
	tr := testutil.NewTestRenderer(output.ModeMarkdown, false)

	require.NoError(t, renderRunResult(tr.Renderer, sampleResult()))

	out := tr.Output()
	assert.Contains(t, out, "# Run run-1")
	assert.Contains(t, out, "- **Inputs:** titanic_a:1, titanic_b:3")
	assert.Contains(t, out, "- **Imputed:** Age=29.5")
	assert.Contains(t, out, "| train | titanic_train | 1 | 8 | features/train/*.parquet |")
	assert.Contains(t, out, "published titanic_train:1 and titanic_test:1")
	testutil.AssertNoANSI(t, out)
	testutil.AssertValidMarkdown(t, out)
}

func TestRenderRunResult_JSON(t *testing.T) {
	tr := testutil.NewTestRenderer(output.ModeJSON, false)

	require.NoError(t, renderRunResult(tr.Renderer, sampleResult()))

	var rr output.RunResult
	require.NoError(t, json.Unmarshal(tr.Out.Bytes(), &rr))
	assert.Equal(t, "run-1", rr.RunID)
	assert.Equal(t, []string{"titanic_a:1", "titanic_b:3"}, rr.Inputs)
	assert.Equal(t, "1.234s", rr.Duration)
	assert.Equal(t, "2024-05-01T10:00:00Z", rr.Train.CreatedAt)
}

func TestRenderRuns_Text(t *testing.T) {
	tr := testutil.NewTestRenderer(output.ModeText, true)

	runs := []output.RunInfo{
		{ID: "r2", Status: "failed", StartedAt: "2024-05-02T10:00:00Z"},
		{ID: "r1", Status: "completed", StartedAt: "2024-05-01T10:00:00Z", ParentID: "p"},
	}
	require.NoError(t, renderRuns(tr.Renderer, runs))

	out := tr.Output()
	assert.Contains(t, out, "Runs (2 shown)")
	assert.Contains(t, out, "r2")
	assert.Contains(t, out, "failed")
}

func TestRenderRun_NoDatasets(t *testing.T) {
	tr := testutil.NewTestRenderer(output.ModeMarkdown, false)

	require.NoError(t, renderRun(tr.Renderer, output.RunInfo{ID: "r1", Status: "failed", Error: "load: boom"}))

	out := tr.Output()
	assert.Contains(t, out, "- **Error:** load: boom")
	assert.Contains(t, out, "(0 rows)")
}

func TestRenderVersion_Tags(t *testing.T) {
	tr := testutil.NewTestRenderer(output.ModeMarkdown, false)

	v := &core.DatasetVersion{
		Name: "titanic_train", Version: 2, Datastore: "local", Format: core.FormatParquet,
		Tags: map[string]any{"feature_path": "features.titanic_train"},
	}
	require.NoError(t, renderVersion(tr.Renderer, v))

	out := tr.Output()
	assert.Contains(t, out, "# titanic_train:2")
	assert.Contains(t, out, "## Tags")
	assert.Contains(t, out, "feature_path: features.titanic_train")
}

func TestGetConfig_Default(t *testing.T) {
	cfg := getConfig()
	require.NotNil(t, cfg)
	assert.NotEmpty(t, cfg.CatalogPath)
}
