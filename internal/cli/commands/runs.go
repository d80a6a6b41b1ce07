package commands

import (
	"fmt"
	"strconv"

	"github.com/leapstack-labs/featureprep/internal/cli/output"
	"github.com/spf13/cobra"
)

// NewRunsCommand creates the runs command group.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded pipeline runs",
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := cmdCtx.Catalog.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			infos := make([]output.RunInfo, len(runs))
			for i, run := range runs {
				infos[i] = output.NewRunInfo(run, nil)
			}
			return renderRuns(cmdCtx.Renderer, infos)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs (0 for all)")
	return cmd
}

func renderRuns(r *output.Renderer, runs []output.RunInfo) error {
	if handled, err := r.Data(runs); handled {
		return err
	}

	r.Header(1, fmt.Sprintf("Runs (%d shown)", len(runs)))
	rows := make([][]string, len(runs))
	for i, run := range runs {
		status := run.Status
		if r.EffectiveMode() == output.ModeText {
			status = r.Styles().StatusStyle(run.Status).Render(run.Status)
		}
		rows[i] = []string{run.ID, status, run.StartedAt, run.CompletedAt, run.ParentID}
	}
	r.Table([]string{"id", "status", "started", "completed", "parent"}, rows)
	return nil
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run with the datasets it read and wrote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			run, err := cmdCtx.Catalog.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			links, err := cmdCtx.Catalog.RunDatasets(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			return renderRun(cmdCtx.Renderer, output.NewRunInfo(run, links))
		},
	}
}

func renderRun(r *output.Renderer, run output.RunInfo) error {
	if handled, err := r.Data(run); handled {
		return err
	}

	r.Header(1, "Run "+run.ID)
	r.KeyValue("Status", run.Status)
	r.KeyValue("Started", run.StartedAt)
	if run.CompletedAt != "" {
		r.KeyValue("Completed", run.CompletedAt)
	}
	if run.ParentID != "" {
		r.KeyValue("Parent", run.ParentID)
	}
	if run.Workspace != "" {
		r.KeyValue("Workspace", run.Workspace)
	}
	if run.Experiment != "" {
		r.KeyValue("Experiment", run.Experiment)
	}
	if run.Error != "" {
		r.KeyValue("Error", run.Error)
	}
	r.Println("")

	rows := make([][]string, len(run.Datasets))
	for i, d := range run.Datasets {
		rows[i] = []string{d.Role, d.Name, strconv.Itoa(d.Version)}
	}
	r.Table([]string{"role", "name", "version"}, rows)
	return nil
}
