package prep

import (
	"fmt"
	"strings"
)

// UnmappedPolicy decides what recoding does with a value that has no entry
// in the column's mapping.
type UnmappedPolicy int

// Unmapped value policies.
const (
	// UnmappedNull replaces the value with null and keeps the row.
	UnmappedNull UnmappedPolicy = iota
	// UnmappedError fails preparation with *core.UnmappedCategoryError.
	UnmappedError
)

func (p UnmappedPolicy) String() string {
	if p == UnmappedError {
		return "error"
	}
	return "null"
}

// ParseUnmappedPolicy parses "null" or "error".
func ParseUnmappedPolicy(s string) (UnmappedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null":
		return UnmappedNull, nil
	case "error":
		return UnmappedError, nil
	default:
		return UnmappedNull, fmt.Errorf("unknown unmapped policy %q (expected null or error)", s)
	}
}

// Options configures preparation.
type Options struct {
	// Recode maps column -> category -> code.
	Recode map[string]map[string]int64
	// Drop lists columns removed after recoding. Missing columns are ignored.
	Drop []string
	// Impute lists numeric columns whose nulls are replaced by the column mean.
	Impute []string
	// LabelColumn must be present and non-null in the result. Empty skips
	// the check.
	LabelColumn string
	Unmapped    UnmappedPolicy
}

// DefaultOptions returns the Titanic feature preparation.
func DefaultOptions() Options {
	return Options{
		Recode:      map[string]map[string]int64{"Sex": {"male": 0, "female": 1}},
		Drop:        []string{"Name", "Ticket", "Cabin", "Embarked"},
		Impute:      []string{"Age"},
		LabelColumn: "Survived",
		Unmapped:    UnmappedNull,
	}
}
