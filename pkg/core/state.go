package core

import "time"

// RunStatus represents the status of a pipeline run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunContext carries the identity of the execution a pipeline step runs in.
// It is passed explicitly to every component that needs it.
type RunContext struct {
	RunID       string
	ParentRunID string
	Workspace   string
	Experiment  string
}

// ProvenanceRunID is the id recorded in registration tags: the parent run
// when the step runs inside a larger pipeline, otherwise the run itself.
func (rc RunContext) ProvenanceRunID() string {
	if rc.ParentRunID != "" {
		return rc.ParentRunID
	}
	return rc.RunID
}

// Run represents one execution of the pipeline step.
type Run struct {
	ID          string
	ParentID    string
	Workspace   string
	Experiment  string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// DatasetRole says whether a run read or wrote a dataset version.
type DatasetRole string

// Dataset roles.
const (
	RoleInput  DatasetRole = "input"
	RoleOutput DatasetRole = "output"
)

// RunDataset links a run to a dataset version it consumed or produced.
type RunDataset struct {
	RunID   string
	Name    string
	Version int
	Role    DatasetRole
}
