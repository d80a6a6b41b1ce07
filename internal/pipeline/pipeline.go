// Package pipeline runs the feature preparation step end to end: load the
// feature sets, prepare them, split and publish the partitions, and record
// the run in the catalog.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/featureprep/internal/loader"
	"github.com/leapstack-labs/featureprep/internal/prep"
	"github.com/leapstack-labs/featureprep/internal/publish"
	"github.com/leapstack-labs/featureprep/internal/split"
	"github.com/leapstack-labs/featureprep/pkg/core"
)

// Catalog is the catalog surface the pipeline needs.
type Catalog interface {
	loader.Resolver
	publish.Registrar
	CreateRun(ctx context.Context, rc core.RunContext) (*core.Run, error)
	CompleteRun(ctx context.Context, id string, status core.RunStatus, errMsg string) error
	LinkRunDataset(ctx context.Context, link core.RunDataset) error
}

// Storage reads inputs and writes outputs on named datastores.
type Storage interface {
	loader.Reader
	publish.Storage
}

// Config describes one pipeline run.
type Config struct {
	FeatureSets []core.DatasetRef
	Prep        prep.Options
	Split       split.Options
	Datastore   string
	Train       publish.Target
	Test        publish.Target
	Overwrite   bool
	Run         core.RunContext
}

// Result is the outcome of a successful run.
type Result struct {
	Run      *core.Run
	Inputs   []core.DatasetRef
	Report   *prep.Report
	Train    *core.DatasetVersion
	Test     *core.DatasetVersion
	Duration time.Duration
}

// Pipeline composes loader, preparer and publisher.
type Pipeline struct {
	catalog Catalog
	storage Storage
	cfg     Config
	logger  *slog.Logger
}

// New creates a pipeline. If logger is nil, a discard logger is used.
func New(catalog Catalog, storage Storage, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{catalog: catalog, storage: storage, cfg: cfg, logger: logger}
}

// Run executes the pipeline once. The run is recorded as completed or
// failed; errors from each stage are returned wrapped but still match their
// typed errors with errors.As.
func (p *Pipeline) Run(ctx context.Context) (res *Result, err error) {
	start := time.Now()

	run, err := p.catalog.CreateRun(ctx, p.cfg.Run)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	rc := p.cfg.Run
	rc.RunID = run.ID
	logger := p.logger.With(slog.String("run_id", run.ID))
	logger.Info("starting feature preparation", slog.Int("feature_sets", len(p.cfg.FeatureSets)))

	defer func() {
		status, msg := core.RunStatusCompleted, ""
		if err != nil {
			status, msg = core.RunStatusFailed, err.Error()
		}
		if cerr := p.catalog.CompleteRun(context.WithoutCancel(ctx), run.ID, status, msg); cerr != nil {
			logger.Error("failed to record run status", slog.String("error", cerr.Error()))
			err = errors.Join(err, cerr)
		}
		if err == nil {
			run.Status = status
		}
	}()

	tables, err := loader.New(p.catalog, p.storage, logger).Load(ctx, p.cfg.FeatureSets)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	inputs := make([]core.DatasetRef, len(tables))
	for i, t := range tables {
		inputs[i] = t.Ref()
		if err := p.link(ctx, run.ID, inputs[i], core.RoleInput); err != nil {
			return nil, err
		}
	}

	prepared, report, err := prep.PrepareWithReport(tables, p.cfg.Prep)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}

	attrs := []any{
		slog.Int("input_rows", report.InputRows),
		slog.Int("output_rows", report.OutputRows),
		slog.Any("dropped", report.Dropped),
	}
	for col, mean := range report.Imputed {
		attrs = append(attrs, slog.Float64("mean_"+col, mean))
	}
	logger.Info("prepared features", attrs...)

	pub := publish.New(p.storage, p.catalog, publish.Options{
		Datastore: p.cfg.Datastore,
		Overwrite: p.cfg.Overwrite,
	}, logger)

	train, test, err := pub.SplitAndPublish(ctx, prepared, p.cfg.Split, p.cfg.Train, p.cfg.Test, publish.Provenance{
		Inputs: inputs,
		Run:    rc,
	})
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}

	for _, dv := range []*core.DatasetVersion{train, test} {
		if err := p.link(ctx, run.ID, dv.Ref(), core.RoleOutput); err != nil {
			return nil, err
		}
	}

	res = &Result{
		Run:      run,
		Inputs:   inputs,
		Report:   report,
		Train:    train,
		Test:     test,
		Duration: time.Since(start),
	}

	logger.Info("feature preparation completed",
		slog.String("train", train.Ref().String()),
		slog.String("test", test.Ref().String()),
		slog.Duration("duration", res.Duration))

	return res, nil
}

func (p *Pipeline) link(ctx context.Context, runID string, ref core.DatasetRef, role core.DatasetRole) error {
	return p.catalog.LinkRunDataset(ctx, core.RunDataset{RunID: runID, Name: ref.Name, Version: ref.Version, Role: role})
}
