package commands

import (
	"fmt"
	"strconv"

	"github.com/leapstack-labs/featureprep/internal/cli/output"
	"github.com/leapstack-labs/featureprep/pkg/core"
	"github.com/spf13/cobra"
)

// NewDatasetsCommand creates the datasets command group.
func NewDatasetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datasets",
		Aliases: []string{"ds"},
		Short:   "Inspect and register catalog datasets",
		Long: `Inspect and register dataset versions in the catalog.

Registered versions are immutable. Registering an existing name with
--new-version records the next version number.`,
	}
	cmd.AddCommand(newDatasetsListCommand())
	cmd.AddCommand(newDatasetsShowCommand())
	cmd.AddCommand(newDatasetsVersionsCommand())
	cmd.AddCommand(newDatasetsRegisterCommand())
	return cmd
}

func newDatasetsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dataset names with their latest version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			datasets, err := cmdCtx.Catalog.ListDatasets(cmd.Context())
			if err != nil {
				return err
			}
			return renderDatasets(cmdCtx.Renderer, datasets)
		},
	}
}

func renderDatasets(r *output.Renderer, datasets []*core.Dataset) error {
	infos := make([]output.DatasetInfo, len(datasets))
	for i, d := range datasets {
		infos[i] = output.NewDatasetInfo(d)
	}
	if handled, err := r.Data(infos); handled {
		return err
	}

	r.Header(1, fmt.Sprintf("Datasets (%d total)", len(infos)))
	rows := make([][]string, len(infos))
	for i, d := range infos {
		rows[i] = []string{d.Name, strconv.Itoa(d.LatestVersion), strconv.Itoa(d.Versions), d.UpdatedAt}
	}
	r.Table([]string{"name", "latest", "versions", "updated"}, rows)
	return nil
}

func newDatasetsShowCommand() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Show one dataset version with its tags",
		Long:  "Show a dataset version. Without --version the latest version is shown.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if version < 0 {
				return fmt.Errorf("--version must be positive")
			}
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			v, err := cmdCtx.Catalog.Resolve(cmd.Context(), core.DatasetRef{Name: args[0], Version: version})
			if err != nil {
				return err
			}
			return renderVersion(cmdCtx.Renderer, v)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "Version to show (default latest)")
	return cmd
}

func renderVersion(r *output.Renderer, v *core.DatasetVersion) error {
	info := output.NewVersionInfo(v)
	if handled, err := r.Data(info); handled {
		return err
	}

	r.Header(1, fmt.Sprintf("%s:%d", info.Name, info.Version))
	r.KeyValue("ID", info.ID)
	r.KeyValue("Datastore", info.Datastore)
	r.KeyValue("Path", info.Path)
	r.KeyValue("Format", info.Format)
	r.KeyValue("Rows", strconv.FormatInt(info.RowCount, 10))
	r.KeyValue("Created", info.CreatedAt)
	if info.Description != "" {
		r.KeyValue("Description", info.Description)
	}
	if len(info.Tags) == 0 {
		return nil
	}
	r.Println("")
	r.Header(2, "Tags")
	return r.YAML(info.Tags)
}

func newDatasetsVersionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions NAME",
		Short: "List all versions of a dataset, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			versions, err := cmdCtx.Catalog.ListVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderVersions(cmdCtx.Renderer, args[0], versions)
		},
	}
}

func renderVersions(r *output.Renderer, name string, versions []*core.DatasetVersion) error {
	infos := make([]output.VersionInfo, len(versions))
	for i, v := range versions {
		infos[i] = output.NewVersionInfo(v)
	}
	if handled, err := r.Data(infos); handled {
		return err
	}

	r.Header(1, fmt.Sprintf("%s (%d versions)", name, len(infos)))
	rows := make([][]string, len(infos))
	for i, v := range infos {
		rows[i] = []string{strconv.Itoa(v.Version), v.Datastore, v.Path, strconv.FormatInt(v.RowCount, 10), v.CreatedAt}
	}
	r.Table([]string{"version", "datastore", "path", "rows", "created"}, rows)
	return nil
}

func newDatasetsRegisterCommand() *cobra.Command {
	var (
		path, store, format, description string
		tags                             map[string]string
		newVersion, skipCheck            bool
	)
	cmd := &cobra.Command{
		Use:   "register NAME",
		Short: "Register an existing dataset in the catalog",
		Long: `Register data that already exists on a datastore.

The dataset is read once to verify it and to record its row count,
unless --skip-check is given.`,
		Example: `  featureprep datasets register titanic_a --path raw/titanic_a.csv --storage-format csv
  featureprep datasets register passengers --datastore warehouse --path raw.passengers --storage-format table`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := core.ParseFormat(format)
			if err != nil {
				return err
			}
			if path == "" {
				return fmt.Errorf("--path is required")
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if store == "" {
				store = cmdCtx.Cfg.Run.Datastore
			}
			stores := cmdCtx.Datastores()
			defer func() { _ = stores.Close() }()
			if _, err := stores.Get(store); err != nil {
				return err
			}

			var rows int64
			if !skipCheck {
				t, err := stores.Read(cmd.Context(), store, path, f)
				if err != nil {
					return fmt.Errorf("failed to read %s on %s: %w", path, store, err)
				}
				rows = int64(t.NumRows())
			}

			req := core.RegisterRequest{
				Name:             args[0],
				Datastore:        store,
				Path:             path,
				Format:           f,
				Description:      description,
				RowCount:         rows,
				CreateNewVersion: newVersion,
			}
			if len(tags) > 0 {
				req.Tags = make(map[string]any, len(tags))
				for k, v := range tags {
					req.Tags[k] = v
				}
			}
			v, err := cmdCtx.Catalog.Register(cmd.Context(), req)
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if handled, err := r.Data(output.NewVersionInfo(v)); handled {
				return err
			}
			r.Success(fmt.Sprintf("registered %s:%d (%d rows)", v.Name, v.Version, v.RowCount))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Path relative to the datastore root, or schema.table")
	cmd.Flags().StringVar(&store, "datastore", "", "Datastore holding the data (default run.datastore)")
	cmd.Flags().StringVar(&format, "storage-format", string(core.FormatParquet), "Storage format: parquet, csv or table")
	cmd.Flags().StringVar(&description, "description", "", "Free-form description")
	cmd.Flags().StringToStringVar(&tags, "tag", nil, "Tag as key=value (repeatable)")
	cmd.Flags().BoolVar(&newVersion, "new-version", false, "Add a version when the name already exists")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Register without reading the data")
	return cmd
}
