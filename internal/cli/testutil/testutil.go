// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/featureprep/internal/cli/output"
	"github.com/leapstack-labs/featureprep/internal/datastore"
	"github.com/leapstack-labs/featureprep/internal/testutil"
	"github.com/leapstack-labs/featureprep/pkg/core"

	// The project helpers write parquet through the DuckDB adapter.
	_ "github.com/leapstack-labs/featureprep/pkg/adapters/duckdb"
)

// ProjectConfig is the featureprep.yaml written by SetupTestProject.
const ProjectConfig = `catalog: .featureprep/catalog.db
datastores:
  local:
    type: duckdb
    root: data
run:
  datastore: local
split:
  test_fraction: 0.2
  seed: 42
`

// Input is a raw feature set written by SetupTestProject.
type Input struct {
	Name string
	// Path is the catalog path relative to the datastore root.
	Path string
	Rows int
}

// SetupTestProject creates a temporary project with a config file and
// three Titanic partitions under data/raw. The inputs are not registered.
func SetupTestProject(t *testing.T) (string, []Input) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "featureprep.yaml"), []byte(ProjectConfig), 0o600))

	stores := datastore.NewSet([]datastore.Config{{
		Name:    "local",
		Root:    filepath.Join(dir, "data"),
		Adapter: core.AdapterConfig{Type: "duckdb"},
	}}, nil)
	defer func() { _ = stores.Close() }()

	var inputs []Input
	for i, name := range []string{"titanic_a", "titanic_b", "titanic_c"} {
		rows := 100 + 50*i
		tbl := testutil.TitanicTable(name, i*1000, rows)
		path, _, err := stores.Write(context.Background(), "local", filepath.Join("raw", name), tbl, false)
		require.NoError(t, err)
		inputs = append(inputs, Input{Name: name, Path: path, Rows: rows})
	}
	return dir, inputs
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// Output returns the captured stdout.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the captured stderr.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown checks for unclosed code fences and empty headers.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	if n := strings.Count(md, "```"); n%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", n)
	}
	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
