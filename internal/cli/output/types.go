package output

import (
	"time"

	"github.com/leapstack-labs/featureprep/pkg/core"
)

// TimeLayout is used for timestamps in every output mode.
const TimeLayout = time.RFC3339

// DatasetInfo is one row of `datasets list`.
type DatasetInfo struct {
	Name          string `json:"name" yaml:"name"`
	LatestVersion int    `json:"latest_version" yaml:"latest_version"`
	Versions      int    `json:"versions" yaml:"versions"`
	UpdatedAt     string `json:"updated_at" yaml:"updated_at"`
}

// VersionInfo describes a registered dataset version.
type VersionInfo struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Version     int            `json:"version" yaml:"version"`
	Datastore   string         `json:"datastore" yaml:"datastore"`
	Path        string         `json:"path" yaml:"path"`
	Format      string         `json:"format" yaml:"format"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	RowCount    int64          `json:"row_count" yaml:"row_count"`
	CreatedAt   string         `json:"created_at" yaml:"created_at"`
	Tags        map[string]any `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// RunDatasetInfo is a dataset version linked to a run.
type RunDatasetInfo struct {
	Name    string `json:"name" yaml:"name"`
	Version int    `json:"version" yaml:"version"`
	Role    string `json:"role" yaml:"role"`
}

// RunInfo describes a pipeline run.
type RunInfo struct {
	ID          string           `json:"id" yaml:"id"`
	ParentID    string           `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Workspace   string           `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Experiment  string           `json:"experiment,omitempty" yaml:"experiment,omitempty"`
	Status      string           `json:"status" yaml:"status"`
	StartedAt   string           `json:"started_at" yaml:"started_at"`
	CompletedAt string           `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty" yaml:"error,omitempty"`
	Datasets    []RunDatasetInfo `json:"datasets,omitempty" yaml:"datasets,omitempty"`
}

// RunResult is printed after a successful `run`.
type RunResult struct {
	RunID      string             `json:"run_id" yaml:"run_id"`
	Inputs     []string           `json:"inputs" yaml:"inputs"`
	InputRows  int                `json:"input_rows" yaml:"input_rows"`
	OutputRows int                `json:"output_rows" yaml:"output_rows"`
	Dropped    []string           `json:"dropped" yaml:"dropped"`
	Imputed    map[string]float64 `json:"imputed,omitempty" yaml:"imputed,omitempty"`
	Train      VersionInfo        `json:"train" yaml:"train"`
	Test       VersionInfo        `json:"test" yaml:"test"`
	Duration   string             `json:"duration" yaml:"duration"`
}

// NewDatasetInfo converts a catalog summary.
func NewDatasetInfo(d *core.Dataset) DatasetInfo {
	return DatasetInfo{
		Name:          d.Name,
		LatestVersion: d.LatestVersion,
		Versions:      d.VersionCount,
		UpdatedAt:     formatTime(d.UpdatedAt),
	}
}

// NewVersionInfo converts a catalog version.
func NewVersionInfo(v *core.DatasetVersion) VersionInfo {
	if v == nil {
		return VersionInfo{}
	}
	return VersionInfo{
		ID:          v.ID,
		Name:        v.Name,
		Version:     v.Version,
		Datastore:   v.Datastore,
		Path:        v.Path,
		Format:      string(v.Format),
		Description: v.Description,
		RowCount:    v.RowCount,
		CreatedAt:   formatTime(v.CreatedAt),
		Tags:        v.Tags,
	}
}

// NewRunInfo converts a run and its dataset links.
func NewRunInfo(r *core.Run, links []*core.RunDataset) RunInfo {
	info := RunInfo{
		ID:         r.ID,
		ParentID:   r.ParentID,
		Workspace:  r.Workspace,
		Experiment: r.Experiment,
		Status:     string(r.Status),
		StartedAt:  formatTime(r.StartedAt),
		Error:      r.Error,
	}
	if r.CompletedAt != nil {
		info.CompletedAt = formatTime(*r.CompletedAt)
	}
	for _, l := range links {
		info.Datasets = append(info.Datasets, RunDatasetInfo{Name: l.Name, Version: l.Version, Role: string(l.Role)})
	}
	return info
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}
