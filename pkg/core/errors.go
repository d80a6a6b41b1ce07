package core

import (
	"fmt"
	"strings"
)

// =============================================================================
// Resolution stage
// =============================================================================

// NotFoundError is returned when a dataset reference does not exist in the
// catalog at resolution time.
type NotFoundError struct {
	Ref DatasetRef
}

func (e *NotFoundError) Error() string {
	if e.Ref.Version == 0 {
		return fmt.Sprintf("dataset %q not found", e.Ref.Name)
	}
	return fmt.Sprintf("dataset %q version %d not found", e.Ref.Name, e.Ref.Version)
}

// AccessError is returned when the caller cannot read a dataset's data.
type AccessError struct {
	Ref      DatasetRef
	Location string
	Err      error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access denied reading dataset %s at %s: %v", e.Ref, e.Location, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// =============================================================================
// Preparation stage
// =============================================================================

// SchemaMismatchError is returned when input tables cannot be combined or a
// prepared table violates a column constraint.
type SchemaMismatchError struct {
	Column string
	Table  string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	var b strings.Builder
	b.WriteString("schema mismatch")
	if e.Table != "" {
		fmt.Fprintf(&b, " in %s", e.Table)
	}
	if e.Column != "" {
		fmt.Fprintf(&b, " on column %q", e.Column)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// UnmappedCategoryError is returned by recoding under the error policy when a
// value has no entry in the mapping.
type UnmappedCategoryError struct {
	Column string
	Value  string
	Row    int
}

func (e *UnmappedCategoryError) Error() string {
	return fmt.Sprintf("column %q row %d: value %q has no recoding", e.Column, e.Row, e.Value)
}

// =============================================================================
// Split & publish stage
// =============================================================================

// InsufficientDataError is returned when a stratified split cannot place at
// least one row of every class in each partition.
type InsufficientDataError struct {
	Label  string
	Class  string
	Rows   int
	Reason string
}

func (e *InsufficientDataError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("insufficient data for stratified split on %q: class %s has %d row(s), need at least 2", e.Label, e.Class, e.Rows)
	}
	return fmt.Sprintf("insufficient data for stratified split on %q: %s", e.Label, e.Reason)
}

// StorageWriteError is returned when a partition cannot be persisted.
// Writes are not retried.
type StorageWriteError struct {
	Dataset string
	Path    string
	Err     error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("failed to write %s to %s: %v", e.Dataset, e.Path, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// RegistrationError is returned when the catalog rejects a registration.
//
// Path has already been written when this error is returned. Registered lists
// datasets registered earlier in the same publish call, so an operator can
// reconcile the catalog with storage.
type RegistrationError struct {
	Dataset    string
	Path       string
	Registered []DatasetRef
	Err        error
}

func (e *RegistrationError) Error() string {
	msg := fmt.Sprintf("failed to register %s (data written at %s): %v", e.Dataset, e.Path, e.Err)
	if len(e.Registered) > 0 {
		refs := make([]string, len(e.Registered))
		for i, r := range e.Registered {
			refs[i] = r.String()
		}
		msg += fmt.Sprintf(" (already registered: %s)", strings.Join(refs, ", "))
	}
	return msg
}

func (e *RegistrationError) Unwrap() error { return e.Err }
