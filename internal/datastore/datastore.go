// Package datastore maps named datastores to connected storage adapters and
// translates catalog paths into adapter locations.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/featureprep/pkg/adapter"
	"github.com/leapstack-labs/featureprep/pkg/core"
)

// Config describes one named datastore.
type Config struct {
	Name string
	// Root is the local directory or object-store URI that catalog paths
	// are relative to. Unused for database datastores.
	Root    string
	Adapter core.AdapterConfig
}

// IsFileStore reports whether datasets are files under Root.
func (c Config) IsFileStore() bool {
	return c.Adapter.Type != "postgres"
}

// Location turns a catalog path into an adapter location.
func (c Config) Location(p string) string {
	if !c.IsFileStore() || c.Root == "" {
		return p
	}
	if strings.Contains(c.Root, "://") {
		return strings.TrimSuffix(c.Root, "/") + "/" + strings.TrimPrefix(p, "/")
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, filepath.FromSlash(p))
}

// WriteFormat is the format partitions are written in.
func (c Config) WriteFormat() core.Format {
	if c.IsFileStore() {
		return core.FormatParquet
	}
	return core.FormatTable
}

// CatalogPath is the path registered for a partition written to rel.
// File partitions are directories of parquet files and register as a glob.
func (c Config) CatalogPath(rel string) string {
	if c.WriteFormat() == core.FormatParquet {
		return path.Join(filepath.ToSlash(rel), "*.parquet")
	}
	return rel
}

// PartitionPath is the datastore-relative location of the partition that
// run key writes under base. File stores nest it in a directory named after
// the key; table stores suffix the table name.
func (c Config) PartitionPath(base, key string) string {
	if c.IsFileStore() {
		return path.Join(filepath.ToSlash(base), key)
	}
	return base + "_" + tableSuffix(key)
}

func tableSuffix(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}

// UnknownDatastoreError is returned for a datastore name with no config.
type UnknownDatastoreError struct {
	Name      string
	Available []string
}

func (e *UnknownDatastoreError) Error() string {
	return fmt.Sprintf("unknown datastore %q (configured: %s)", e.Name, strings.Join(e.Available, ", "))
}

// Set holds the configured datastores and their connected adapters.
// Adapters are connected on first use and kept until Close.
type Set struct {
	mu       sync.Mutex
	configs  map[string]Config
	adapters map[string]adapter.Adapter
	logger   *slog.Logger
}

// NewSet creates a set from configs. If logger is nil, a discard logger is used.
func NewSet(configs []Config, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Set{
		configs:  make(map[string]Config, len(configs)),
		adapters: make(map[string]adapter.Adapter),
		logger:   logger,
	}
	for _, c := range configs {
		s.configs[c.Name] = c
	}
	return s
}

// Names returns the configured datastore names (sorted).
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.configs))
	for n := range s.configs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the config of a datastore.
func (s *Set) Get(name string) (Config, error) {
	c, ok := s.configs[name]
	if !ok {
		return Config{}, &UnknownDatastoreError{Name: name, Available: s.Names()}
	}
	return c, nil
}

// Adapter returns the connected adapter for a datastore.
func (s *Set) Adapter(ctx context.Context, name string) (adapter.Adapter, error) {
	cfg, err := s.Get(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.adapters[name]; ok {
		return a, nil
	}

	s.logger.Debug("connecting datastore", slog.String("datastore", name), slog.String("type", cfg.Adapter.Type))

	a, err := adapter.Open(ctx, cfg.Adapter, s.logger.With(slog.String("datastore", name)))
	if err != nil {
		return nil, fmt.Errorf("datastore %s: %w", name, err)
	}
	s.adapters[name] = a
	return a, nil
}

// Read loads the dataset stored at the catalog path p.
func (s *Set) Read(ctx context.Context, datastore, p string, format core.Format) (*core.Table, error) {
	cfg, err := s.Get(datastore)
	if err != nil {
		return nil, err
	}
	a, err := s.Adapter(ctx, datastore)
	if err != nil {
		return nil, err
	}
	return a.ReadTable(ctx, core.Source{Location: cfg.Location(p), Format: format})
}

// Write persists t at the datastore-relative path rel and returns the path
// and format to register in the catalog.
func (s *Set) Write(ctx context.Context, datastore, rel string, t *core.Table, overwrite bool) (string, core.Format, error) {
	cfg, err := s.Get(datastore)
	if err != nil {
		return "", "", err
	}
	a, err := s.Adapter(ctx, datastore)
	if err != nil {
		return "", "", err
	}

	sink := core.Sink{Location: cfg.Location(rel), Format: cfg.WriteFormat(), Overwrite: overwrite}
	if err := a.WriteTable(ctx, t, sink); err != nil {
		return "", "", err
	}
	return cfg.CatalogPath(rel), sink.Format, nil
}

// Locate returns the datastore-relative location a run key writes under
// base, together with the path that location is registered under.
func (s *Set) Locate(datastore, base, key string) (rel, catalogPath string, err error) {
	cfg, err := s.Get(datastore)
	if err != nil {
		return "", "", err
	}
	rel = cfg.PartitionPath(base, key)
	return rel, cfg.CatalogPath(rel), nil
}

// Remove deletes the partition written at rel.
func (s *Set) Remove(ctx context.Context, datastore, rel string) error {
	cfg, err := s.Get(datastore)
	if err != nil {
		return err
	}
	a, err := s.Adapter(ctx, datastore)
	if err != nil {
		return err
	}
	return a.Remove(ctx, cfg.Location(rel))
}

// Close closes every connected adapter.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, a := range s.adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("datastore %s: %w", name, err))
		}
		delete(s.adapters, name)
	}
	return errors.Join(errs...)
}
