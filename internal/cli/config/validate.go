package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/leapstack-labs/featureprep/internal/cli/output"
	"github.com/leapstack-labs/featureprep/internal/prep"
	"github.com/leapstack-labs/featureprep/pkg/adapter"
	"github.com/leapstack-labs/featureprep/pkg/core"
)

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.CatalogPath == "" {
		errs = append(errs, fmt.Errorf("catalog is required"))
	}
	if _, err := output.ParseMode(c.OutputFormat); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q (expected text or json)", c.LogFormat))
	}
	for _, name := range c.DatastoreNames() {
		if err := validateDatastore(name, c.Datastores[name]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateDatastore(name string, ds DatastoreConfig) error {
	if ds.Type == "" {
		return fmt.Errorf("datastore %q: type is required", name)
	}
	if !adapter.IsRegistered(ds.Type) {
		return fmt.Errorf("datastore %q: %w", name, &adapter.UnknownAdapterError{
			Type:      ds.Type,
			Available: adapter.ListAdapters(),
		})
	}
	if ds.Type == "postgres" && ds.Host == "" {
		return fmt.Errorf("datastore %q: host is required for postgres", name)
	}
	return nil
}

// ValidateRun checks the run section before a pipeline starts.
func (c *Config) ValidateRun() error {
	var errs []error
	if len(c.Run.FeatureSets) == 0 {
		errs = append(errs, fmt.Errorf("at least one feature set is required (--feature-set)"))
	} else if _, err := core.ParseDatasetRefs(c.Run.FeatureSets); err != nil {
		errs = append(errs, err)
	}
	if c.Split.TestFraction <= 0 || c.Split.TestFraction >= 1 {
		errs = append(errs, fmt.Errorf("test fraction must be between 0 and 1, got %v", c.Split.TestFraction))
	}
	if c.Run.Train.Name == "" || c.Run.Test.Name == "" {
		errs = append(errs, fmt.Errorf("train and test output names are required"))
	} else if c.Run.Train.Name == c.Run.Test.Name {
		errs = append(errs, fmt.Errorf("train and test output names must differ, both are %q", c.Run.Train.Name))
	}
	if c.Run.Train.Path == "" || c.Run.Test.Path == "" {
		errs = append(errs, fmt.Errorf("train and test output paths are required"))
	} else if c.Run.Train.Path == c.Run.Test.Path {
		errs = append(errs, fmt.Errorf("train and test output paths must differ, both are %q", c.Run.Train.Path))
	}
	if _, ok := c.Datastores[c.Run.Datastore]; !ok {
		errs = append(errs, fmt.Errorf("output datastore %q is not configured", c.Run.Datastore))
	}
	if _, err := prep.ParseUnmappedPolicy(c.Prep.Unmapped); err != nil {
		errs = append(errs, err)
	}
	if c.Prep.LabelColumn == "" {
		errs = append(errs, fmt.Errorf("label column is required"))
	}
	return errors.Join(errs...)
}

// DatastoreNames returns the configured datastore names in sorted order.
func (c *Config) DatastoreNames() []string {
	names := make([]string, 0, len(c.Datastores))
	for name := range c.Datastores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
