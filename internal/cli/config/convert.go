package config

import (
	"github.com/leapstack-labs/featureprep/internal/datastore"
	"github.com/leapstack-labs/featureprep/internal/pipeline"
	"github.com/leapstack-labs/featureprep/internal/prep"
	"github.com/leapstack-labs/featureprep/internal/publish"
	"github.com/leapstack-labs/featureprep/internal/split"
	"github.com/leapstack-labs/featureprep/pkg/core"
)

// DatastoreConfigs converts the datastores section, sorted by name.
func (c *Config) DatastoreConfigs() []datastore.Config {
	out := make([]datastore.Config, 0, len(c.Datastores))
	for _, name := range c.DatastoreNames() {
		ds := c.Datastores[name]
		out = append(out, datastore.Config{
			Name: name,
			Root: ds.Root,
			Adapter: core.AdapterConfig{
				Type:     ds.Type,
				Path:     ds.Database,
				Host:     ds.Host,
				Port:     ds.Port,
				Database: ds.Database,
				Username: ds.User,
				Password: ds.Password,
				Schema:   ds.Schema,
				Options:  ds.Options,
				Params:   ds.Params,
			},
		})
	}
	return out
}

// PrepOptions converts the prep section.
func (c *Config) PrepOptions() (prep.Options, error) {
	policy, err := prep.ParseUnmappedPolicy(c.Prep.Unmapped)
	if err != nil {
		return prep.Options{}, err
	}
	return prep.Options{
		Recode:      c.Prep.Recode,
		Drop:        c.Prep.Drop,
		Impute:      c.Prep.Impute,
		LabelColumn: c.Prep.LabelColumn,
		Unmapped:    policy,
	}, nil
}

// SplitOptions converts the split section. The split is stratified on the
// prepared label column.
func (c *Config) SplitOptions() split.Options {
	return split.Options{
		LabelColumn:  c.Prep.LabelColumn,
		TestFraction: c.Split.TestFraction,
		Seed:         c.Split.Seed,
	}
}

// PipelineConfig builds the configuration of one pipeline run.
func (c *Config) PipelineConfig(rc core.RunContext) (pipeline.Config, error) {
	refs, err := core.ParseDatasetRefs(c.Run.FeatureSets)
	if err != nil {
		return pipeline.Config{}, err
	}
	po, err := c.PrepOptions()
	if err != nil {
		return pipeline.Config{}, err
	}
	if rc.Workspace == "" {
		rc.Workspace = c.Run.Workspace
	}
	if rc.Experiment == "" {
		rc.Experiment = c.Run.Experiment
	}
	return pipeline.Config{
		FeatureSets: refs,
		Prep:        po,
		Split:       c.SplitOptions(),
		Datastore:   c.Run.Datastore,
		Train:       publish.Target{Name: c.Run.Train.Name, Path: c.Run.Train.Path, Description: c.Run.Train.Description},
		Test:        publish.Target{Name: c.Run.Test.Name, Path: c.Run.Test.Path, Description: c.Run.Test.Description},
		Overwrite:   c.Run.Overwrite,
		Run:         rc,
	}, nil
}
