// Package publish splits a prepared table and publishes both partitions:
// each is written to storage and then registered as a new dataset version.
//
// Every publish writes below its own run key, so a registered version's data
// is never replaced by a later publish.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/featureprep/internal/split"
	"github.com/leapstack-labs/featureprep/pkg/core"
	"golang.org/x/sync/errgroup"
)

// ErrPathRegistered is wrapped in a StorageWriteError when a write would
// replace data that a registered dataset version points at.
var ErrPathRegistered = errors.New("location is referenced by a registered dataset version")

// Storage persists partitions on named datastores.
type Storage interface {
	// Locate maps a target base path and a run key to the location to
	// write and the path that location is registered under.
	Locate(datastore, base, key string) (rel, catalogPath string, err error)
	// Write persists t at rel and returns the path and format to register.
	Write(ctx context.Context, datastore, rel string, t *core.Table, overwrite bool) (string, core.Format, error)
	// Remove deletes a partition written at rel.
	Remove(ctx context.Context, datastore, rel string) error
}

// Registrar records dataset versions.
type Registrar interface {
	Register(ctx context.Context, req core.RegisterRequest) (*core.DatasetVersion, error)
	VersionsAt(ctx context.Context, datastore, path string) ([]core.DatasetRef, error)
}

// Target says where one partition is written and under which name it is
// registered. Path is a base: the partition of a run lands below it under
// the run key.
type Target struct {
	Name        string
	Path        string
	Description string
}

// Provenance is the lineage recorded in registration tags.
type Provenance struct {
	Inputs []core.DatasetRef
	Run    core.RunContext
}

// Options configures a Publisher.
type Options struct {
	// Datastore receives both partitions.
	Datastore string
	// Overwrite replaces a partition left at the run's location by an
	// earlier, unregistered attempt. Registered locations are never replaced.
	Overwrite bool
	// Now stamps registered_at. Defaults to time.Now.
	Now func() time.Time
}

// Publisher writes and registers split partitions.
type Publisher struct {
	storage   Storage
	registrar Registrar
	opts      Options
	logger    *slog.Logger
}

// New creates a Publisher. If logger is nil, a discard logger is used.
func New(storage Storage, registrar Registrar, opts Options, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{storage: storage, registrar: registrar, opts: opts, logger: logger}
}

type partition struct {
	target      Target
	table       *core.Table
	rel         string
	catalogPath string
	path        string
	format      core.Format
}

// SplitAndPublish splits t, writes both partitions concurrently and, once
// both writes have succeeded, registers the train partition and then the
// test partition. A failed write leaves the catalog untouched and removes the
// partition that did get written. Partitions are written below
// prov.Run.RunID, or a generated key when it is empty.
func (p *Publisher) SplitAndPublish(ctx context.Context, t *core.Table, splitOpts split.Options, train, test Target, prov Provenance) (*core.DatasetVersion, *core.DatasetVersion, error) {
	if err := validateTargets(train, test); err != nil {
		return nil, nil, err
	}

	res, err := split.Stratified(t, splitOpts)
	if err != nil {
		return nil, nil, err
	}

	p.logger.Info("split prepared table",
		slog.Int("train_rows", res.Train.NumRows()),
		slog.Int("test_rows", res.Test.NumRows()),
		slog.Float64("test_fraction", splitOpts.TestFraction),
		slog.Int64("seed", splitOpts.Seed))

	parts := []*partition{
		{target: train, table: res.Train},
		{target: test, table: res.Test},
	}

	key := prov.Run.RunID
	if key == "" {
		key = uuid.NewString()
	}
	if err := p.locate(ctx, parts, key); err != nil {
		return nil, nil, err
	}

	if err := p.writeAll(ctx, parts); err != nil {
		if cerr := p.discard(ctx, parts); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, nil, err
	}

	handles, err := p.registerAll(ctx, parts, t.Dtypes(), prov)
	if err != nil {
		return nil, nil, err
	}
	return handles[0], handles[1], nil
}

func validateTargets(train, test Target) error {
	for _, tg := range []Target{train, test} {
		if tg.Name == "" {
			return fmt.Errorf("output dataset name is required")
		}
		if tg.Path == "" {
			return fmt.Errorf("output path for %s is required", tg.Name)
		}
	}
	if train.Name == test.Name {
		return fmt.Errorf("train and test outputs must have different names, both are %q", train.Name)
	}
	if train.Path == test.Path {
		return fmt.Errorf("train and test outputs must have different paths, both are %q", train.Path)
	}
	return nil
}

// locate resolves the run's location of every partition. With Overwrite it
// also refuses locations that a registered version already points at.
func (p *Publisher) locate(ctx context.Context, parts []*partition, key string) error {
	for _, part := range parts {
		rel, catalogPath, err := p.storage.Locate(p.opts.Datastore, part.target.Path, key)
		if err != nil {
			return &core.StorageWriteError{Dataset: part.target.Name, Path: part.target.Path, Err: err}
		}
		part.rel, part.catalogPath = rel, catalogPath

		if !p.opts.Overwrite {
			continue
		}
		refs, err := p.registrar.VersionsAt(ctx, p.opts.Datastore, catalogPath)
		if err != nil {
			return fmt.Errorf("failed to check registrations at %s: %w", catalogPath, err)
		}
		if len(refs) > 0 {
			names := make([]string, len(refs))
			for i, r := range refs {
				names[i] = r.String()
			}
			return &core.StorageWriteError{
				Dataset: part.target.Name,
				Path:    rel,
				Err:     fmt.Errorf("%w: %s", ErrPathRegistered, strings.Join(names, ", ")),
			}
		}
	}
	return nil
}

func (p *Publisher) writeAll(ctx context.Context, parts []*partition) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, part := range parts {
		g.Go(func() error {
			start := time.Now()
			path, format, err := p.storage.Write(gctx, p.opts.Datastore, part.rel, part.table, p.opts.Overwrite)
			if err != nil {
				return &core.StorageWriteError{Dataset: part.target.Name, Path: part.rel, Err: err}
			}
			part.path, part.format = path, format

			p.logger.Info("wrote partition",
				slog.String("dataset", part.target.Name),
				slog.String("path", path),
				slog.Int("rows", part.table.NumRows()),
				slog.Duration("duration", time.Since(start)))
			return nil
		})
	}
	return g.Wait()
}

// discard removes the partitions written before a sibling write failed, so a
// retry of the run finds its locations empty.
func (p *Publisher) discard(ctx context.Context, parts []*partition) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, part := range parts {
		if part.path == "" {
			continue
		}
		if err := p.storage.Remove(ctx, p.opts.Datastore, part.rel); err != nil {
			p.logger.Warn("failed to remove unregistered partition",
				slog.String("dataset", part.target.Name),
				slog.String("path", part.rel),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("remove unregistered partition %s: %w", part.rel, err))
			continue
		}
		p.logger.Info("removed unregistered partition",
			slog.String("dataset", part.target.Name),
			slog.String("path", part.rel))
		part.path = ""
	}
	return errors.Join(errs...)
}

func (p *Publisher) registerAll(ctx context.Context, parts []*partition, dtypes map[string]string, prov Provenance) ([]*core.DatasetVersion, error) {
	handles := make([]*core.DatasetVersion, 0, len(parts))
	var registered []core.DatasetRef

	for _, part := range parts {
		record := core.RegistrationRecord{
			InputDatasets: prov.Inputs,
			RegisteredAt:  p.opts.Now(),
			FeaturePath:   "features." + part.target.Name,
			RunID:         prov.Run.ProvenanceRunID(),
			Dtypes:        dtypes,
		}

		tags := record.Tags()
		tags[ContentHashTag] = Fingerprint(part.table)

		dv, err := p.registrar.Register(ctx, core.RegisterRequest{
			Name:             part.target.Name,
			Datastore:        p.opts.Datastore,
			Path:             part.path,
			Format:           part.format,
			Description:      part.target.Description,
			Tags:             tags,
			RowCount:         int64(part.table.NumRows()),
			CreateNewVersion: true,
		})
		if err != nil {
			return nil, &core.RegistrationError{
				Dataset:    part.target.Name,
				Path:       part.path,
				Registered: registered,
				Err:        err,
			}
		}

		p.logger.Info("registered dataset",
			slog.String("name", dv.Name),
			slog.Int("version", dv.Version),
			slog.String("path", dv.Path))

		registered = append(registered, dv.Ref())
		handles = append(handles, dv)
	}
	return handles, nil
}
