package commands

import (
	"log/slog"

	"github.com/leapstack-labs/featureprep/internal/catalog"
	"github.com/leapstack-labs/featureprep/internal/cli/config"
	"github.com/leapstack-labs/featureprep/internal/cli/output"
	"github.com/leapstack-labs/featureprep/internal/datastore"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Catalog  *catalog.SQLiteStore
	Renderer *output.Renderer
}

// NewCommandContext opens the catalog and creates a renderer.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc := NewCommandContextWithoutCatalog(cmd)

	store, err := catalog.OpenSQLite(cmd.Context(), cc.Cfg.CatalogPath, cc.Logger)
	if err != nil {
		return nil, nil, err
	}
	cc.Catalog = store

	cleanup := func() {
		_ = store.Close()
	}
	return cc, cleanup, nil
}

// NewCommandContextWithoutCatalog creates a CommandContext without a catalog.
// Useful for commands that don't need the catalog database.
func NewCommandContextWithoutCatalog(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	mode, err := output.ParseMode(cfg.OutputFormat)
	if err != nil {
		mode = output.ModeAuto
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}
}

// Datastores returns the configured datastores. Close it when done.
func (cc *CommandContext) Datastores() *datastore.Set {
	return datastore.NewSet(cc.Cfg.DatastoreConfigs(), cc.Logger)
}

// getConfig returns the configuration loaded by the root command, or the
// defaults when a command runs on its own.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return config.Default()
}
