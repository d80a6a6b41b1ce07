// Package config provides configuration management for the featureprep CLI.
//
// Values are layered with koanf: built-in defaults, then featureprep.yaml,
// then FEATUREPREP_* environment variables, then explicitly set flags.
package config

import (
	"github.com/leapstack-labs/featureprep/internal/prep"
	"github.com/leapstack-labs/featureprep/internal/split"
)

// Config holds all CLI configuration options.
type Config struct {
	CatalogPath  string                     `koanf:"catalog"`
	Verbose      bool                       `koanf:"verbose"`
	OutputFormat string                     `koanf:"format"`
	LogFormat    string                     `koanf:"log_format"`
	Datastores   map[string]DatastoreConfig `koanf:"datastores"`
	Run          RunConfig                  `koanf:"run"`
	Prep         PrepConfig                 `koanf:"prep"`
	Split        SplitConfig                `koanf:"split"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
}

// DatastoreConfig describes a named datastore in featureprep.yaml.
type DatastoreConfig struct {
	Type     string            `koanf:"type"`
	Root     string            `koanf:"root"`
	Database string            `koanf:"database"`
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Schema   string            `koanf:"schema"`
	Options  map[string]string `koanf:"options"`
	Params   map[string]any    `koanf:"params"`
}

// RunConfig holds the inputs and outputs of `featureprep run`.
type RunConfig struct {
	FeatureSets []string     `koanf:"feature_sets"`
	Datastore   string       `koanf:"datastore"`
	Train       OutputConfig `koanf:"train"`
	Test        OutputConfig `koanf:"test"`
	Overwrite   bool         `koanf:"overwrite"`
	Workspace   string       `koanf:"workspace"`
	Experiment  string       `koanf:"experiment"`
}

// OutputConfig names one published partition.
type OutputConfig struct {
	Name        string `koanf:"name"`
	Path        string `koanf:"path"`
	Description string `koanf:"description"`
}

// PrepConfig mirrors prep.Options in configuration form.
type PrepConfig struct {
	Recode      map[string]map[string]int64 `koanf:"recode"`
	Drop        []string                    `koanf:"drop"`
	Impute      []string                    `koanf:"impute"`
	LabelColumn string                      `koanf:"label_column"`
	Unmapped    string                      `koanf:"unmapped"`
}

// SplitConfig mirrors split.Options in configuration form.
type SplitConfig struct {
	TestFraction float64 `koanf:"test_fraction"`
	Seed         int64   `koanf:"seed"`
}

// Default configuration values.
const (
	ConfigFileName     = "featureprep.yaml"
	DefaultCatalogPath = ".featureprep/catalog.db"
	DefaultOutput      = "auto" // TTY=text, otherwise markdown
	DefaultLogFormat   = "text"
	DefaultDatastore   = "local"
	DefaultDataRoot    = "data"
	EnvPrefix          = "FEATUREPREP_"
)

// Default returns the configuration used when nothing is set.
func Default() *Config {
	po := prep.DefaultOptions()
	so := split.DefaultOptions()
	return &Config{
		CatalogPath:  DefaultCatalogPath,
		OutputFormat: DefaultOutput,
		LogFormat:    DefaultLogFormat,
		Datastores: map[string]DatastoreConfig{
			DefaultDatastore: {Type: "duckdb", Root: DefaultDataRoot},
		},
		Run: RunConfig{Datastore: DefaultDatastore},
		Prep: PrepConfig{
			Recode:      po.Recode,
			Drop:        po.Drop,
			Impute:      po.Impute,
			LabelColumn: po.LabelColumn,
			Unmapped:    po.Unmapped.String(),
		},
		Split: SplitConfig{TestFraction: so.TestFraction, Seed: so.Seed},
	}
}
