package core

import (
	"context"
)

// Adapter defines the interface that all storage adapters must implement.
type Adapter interface {
	// Connect establishes a connection to the engine or database.
	Connect(ctx context.Context, cfg AdapterConfig) error

	// Close closes the connection.
	Close() error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// ReadTable materializes a stored dataset as an in-memory table.
	ReadTable(ctx context.Context, src Source) (*Table, error)

	// WriteTable persists a table at dst. It returns only after the data is
	// durable at its final location.
	WriteTable(ctx context.Context, t *Table, dst Sink) error

	// Remove deletes a partition written by WriteTable. A missing location
	// is not an error.
	Remove(ctx context.Context, location string) error
}

// AdapterConfig holds configuration for connecting to a datastore.
type AdapterConfig struct {
	Type     string
	Path     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Schema   string
	Options  map[string]string
	Params   map[string]any
}

// Source locates stored data to read.
type Source struct {
	// Location is an absolute path, glob, URI or schema.table.
	Location string
	Format   Format
}

// Sink locates where a table is written.
type Sink struct {
	// Location is the final directory (or URI) of the partition.
	Location string
	Format   Format
	// Overwrite replaces an existing location instead of failing.
	Overwrite bool
}
