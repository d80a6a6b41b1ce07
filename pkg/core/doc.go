// Package core defines the shared language of featureprep.
//
// This package contains:
//   - Tabular data (Table, Column, Type)
//   - Catalog entities (DatasetRef, DatasetVersion, Run, RunContext)
//   - The typed error taxonomy shared by every pipeline stage
//   - Adapter configuration (AdapterConfig)
//
// pkg/core imports only the standard library.
// All other packages depend on core, not the reverse.
package core
