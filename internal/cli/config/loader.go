package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// loggerKey is used to store the logger in the command context.
type loggerKey struct{}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps flag names to config keys. Flags not listed here are
// read by their commands directly and never reach koanf.
var flagKeys = map[string]string{
	"catalog":           "catalog",
	"verbose":           "verbose",
	"format":            "format",
	"log-format":        "log_format",
	"feature-set":       "run.feature_sets",
	"output-datastore":  "run.datastore",
	"output-train":      "run.train.path",
	"output-test":       "run.test.path",
	"output-train-name": "run.train.name",
	"output-test-name":  "run.test.name",
	"overwrite":         "run.overwrite",
	"workspace":         "run.workspace",
	"experiment":        "run.experiment",
	"test-fraction":     "split.test_fraction",
	"seed":              "split.seed",
	"label-column":      "prep.label_column",
	"unmapped":          "prep.unmapped",
}

// Package-level config file tracking
var (
	configFileUsed string
	currentConfig  *Config // Stores the loaded config for access by commands
)

// configFileIn returns the config file in dir, if any.
func configFileIn(dir string) string {
	for _, name := range []string{ConfigFileName, "featureprep.yml"} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findConfigUpward searches upward from startDir for a config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findConfigUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if f := configFileIn(dir); f != "" {
			return f
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Empty paths, absolute paths, URIs and :memory: are returned unchanged.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) || strings.Contains(path, "://") {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig clears the loaded configuration. Used for testing.
func ResetConfig() {
	configFileUsed = ""
	currentConfig = nil
}

// LoadConfig loads configuration from defaults, the config file,
// environment variables and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	// The project root is the directory of the config file, found upward
	// from the working directory unless given explicitly.
	configFileUsed = ""
	projectRoot := cwd
	if cfgFile != "" {
		configFileUsed = cfgFile
		if abs, err := filepath.Abs(cfgFile); err == nil {
			projectRoot = filepath.Dir(abs)
		}
	} else if found := findConfigUpward(cwd); found != "" {
		configFileUsed = found
		projectRoot = filepath.Dir(found)
	}

	// A --catalog flag is relative to the working directory, not the project.
	var flagCatalog string
	if flags != nil && flags.Changed("catalog") {
		if v, _ := flags.GetString("catalog"); v != "" {
			flagCatalog = resolvePathRelativeTo(v, cwd)
		}
	}

	// 1. Load defaults
	def := Default()
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"catalog":             def.CatalogPath,
		"verbose":             false,
		"format":              def.OutputFormat,
		"log_format":          def.LogFormat,
		"run.datastore":       def.Run.Datastore,
		"prep.drop":           def.Prep.Drop,
		"prep.impute":         def.Prep.Impute,
		"prep.label_column":   def.Prep.LabelColumn,
		"prep.unmapped":       def.Prep.Unmapped,
		"split.test_fraction": def.Split.TestFraction,
		"split.seed":          def.Split.Seed,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Environment variables (FEATUREPREP_ prefix)
	// Transform: FEATUREPREP_LOG_FORMAT -> log_format, FEATUREPREP_SPLIT__SEED -> split.seed
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Maps are merged across layers, so their defaults only apply when no
	// layer sets the key at all.
	if !k.Exists("prep.recode") {
		cfg.Prep.Recode = def.Prep.Recode
	}
	if !k.Exists("datastores") {
		cfg.Datastores = def.Datastores
	}

	cfg.Run.FeatureSets = splitList(cfg.Run.FeatureSets)

	// 6. Resolve paths against the project root
	cfg.ProjectRoot = projectRoot
	if flagCatalog != "" {
		cfg.CatalogPath = flagCatalog
	} else {
		cfg.CatalogPath = resolvePathRelativeTo(expandEnvVars(cfg.CatalogPath), projectRoot)
	}
	for name, ds := range cfg.Datastores {
		expandDatastoreEnvVars(&ds)
		ds.Type = strings.ToLower(ds.Type)
		ds.Root = resolvePathRelativeTo(ds.Root, projectRoot)
		if ds.Type == "duckdb" {
			ds.Database = resolvePathRelativeTo(ds.Database, projectRoot)
		}
		cfg.Datastores[name] = ds
	}

	currentConfig = &cfg
	return &cfg, nil
}

// splitList splits comma separated entries so that a list can be given
// as repeated flags, a YAML list or a single "a,b,c" string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the configuration loaded by the last LoadConfig.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns with environment variable values.
// Unset variables are left as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}

// expandDatastoreEnvVars expands environment variables in connection fields.
func expandDatastoreEnvVars(ds *DatastoreConfig) {
	ds.Root = expandEnvVars(ds.Root)
	ds.Database = expandEnvVars(ds.Database)
	ds.Host = expandEnvVars(ds.Host)
	ds.User = expandEnvVars(ds.User)
	ds.Password = expandEnvVars(ds.Password)
	for k, v := range ds.Options {
		ds.Options[k] = expandEnvVars(v)
	}
	for k, v := range ds.Params {
		ds.Params[k] = expandAny(v)
	}
}

// expandAny expands strings nested in decoded YAML values.
func expandAny(v any) any {
	switch x := v.(type) {
	case string:
		return expandEnvVars(x)
	case map[string]any:
		for k, e := range x {
			x[k] = expandAny(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = expandAny(e)
		}
		return x
	default:
		return v
	}
}
