package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RegisteredAtLayout is the timestamp layout used in registration tags.
const RegisteredAtLayout = "2006-01-02 15:04:05"

// Format describes how a dataset version is stored on its datastore.
type Format string

// Dataset formats.
const (
	// FormatParquet is a directory (or glob) of parquet files.
	FormatParquet Format = "parquet"
	// FormatCSV is a single CSV file with a header row.
	FormatCSV Format = "csv"
	// FormatTable is a table in a database datastore (schema.table).
	FormatTable Format = "table"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatParquet, FormatCSV, FormatTable:
		return f, nil
	default:
		return "", fmt.Errorf("unknown dataset format %q (expected parquet, csv or table)", s)
	}
}

// DatasetRef identifies a dataset in the catalog. Version 0 means latest.
type DatasetRef struct {
	Name    string
	Version int
}

// ParseDatasetRef parses "name" or "name:version".
func ParseDatasetRef(s string) (DatasetRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DatasetRef{}, fmt.Errorf("empty dataset reference")
	}
	name, ver, found := strings.Cut(s, ":")
	if name == "" {
		return DatasetRef{}, fmt.Errorf("dataset reference %q has no name", s)
	}
	if !found {
		return DatasetRef{Name: name}, nil
	}
	v, err := strconv.Atoi(ver)
	if err != nil || v <= 0 {
		return DatasetRef{}, fmt.Errorf("dataset reference %q has invalid version %q", s, ver)
	}
	return DatasetRef{Name: name, Version: v}, nil
}

// ParseDatasetRefs parses a list of references, failing on the first bad one.
func ParseDatasetRefs(ss []string) ([]DatasetRef, error) {
	refs := make([]DatasetRef, 0, len(ss))
	for _, s := range ss {
		ref, err := ParseDatasetRef(s)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// String returns "name" for latest or "name:version".
func (r DatasetRef) String() string {
	if r.Version == 0 {
		return r.Name
	}
	return fmt.Sprintf("%s:%d", r.Name, r.Version)
}

// DatasetVersion is one immutable version of a named dataset in the catalog.
type DatasetVersion struct {
	ID          string
	Name        string
	Version     int
	Datastore   string
	Path        string
	Format      Format
	Description string
	Tags        map[string]any
	RowCount    int64
	CreatedAt   time.Time
}

// Ref returns the exact reference of this version.
func (d *DatasetVersion) Ref() DatasetRef {
	return DatasetRef{Name: d.Name, Version: d.Version}
}

// Dataset summarises a dataset name and its newest version.
type Dataset struct {
	Name          string
	LatestVersion int
	VersionCount  int
	UpdatedAt     time.Time
}

// RegisterRequest asks the catalog to record a persisted dataset.
type RegisterRequest struct {
	Name        string
	Datastore   string
	Path        string
	Format      Format
	Description string
	Tags        map[string]any
	RowCount    int64

	// CreateNewVersion permits registering a name that already exists.
	// When false, an existing name is rejected.
	CreateNewVersion bool
}

// RegistrationRecord is the provenance attached to a published partition.
type RegistrationRecord struct {
	InputDatasets []DatasetRef
	RegisteredAt  time.Time
	FeaturePath   string
	RunID         string
	Dtypes        map[string]string
}

// Tags renders the record as catalog tags.
func (r RegistrationRecord) Tags() map[string]any {
	inputs := make([]any, len(r.InputDatasets))
	for i, ref := range r.InputDatasets {
		inputs[i] = fmt.Sprintf("%s: %d", ref.Name, ref.Version)
	}
	dtypes := make(map[string]any, len(r.Dtypes))
	for k, v := range r.Dtypes {
		dtypes[k] = v
	}
	return map[string]any{
		"input_datasets": inputs,
		"registered_at":  r.RegisteredAt.Format(RegisteredAtLayout),
		"feature_path":   r.FeaturePath,
		"run_id":         r.RunID,
		"dtypes":         dtypes,
	}
}

// SortedTagKeys returns tag keys in a stable order for display.
func SortedTagKeys(tags map[string]any) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
