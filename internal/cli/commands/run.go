package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/featureprep/internal/cli/output"
	"github.com/leapstack-labs/featureprep/internal/pipeline"
	"github.com/leapstack-labs/featureprep/pkg/core"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Prepare feature sets and publish train/test partitions",
		Long: `Load one or more registered feature sets, concatenate and clean them,
split the result into stratified train and test partitions, write both to
the output datastore and register them as new dataset versions.

Each run writes below its run id (features/train/<run id>/ on file
datastores), so earlier versions keep their data. Running again with the id
of a failed run retries it.

Inputs, outputs and preparation settings can be given as flags or in the
run, prep and split sections of featureprep.yaml.`,
		Example: `  # Prepare three raw sets into features/train and features/test
  featureprep run --feature-set titanic_a,titanic_b,titanic_c \
    --output-train features/train --output-train-name titanic_train \
    --output-test features/test --output-test-name titanic_test

  # Retry a failed run, replacing a partition it left behind
  featureprep run --run-id 7f3c... --feature-set titanic_a:3 --overwrite ...

  # Record the step under an orchestrating run
  featureprep run --parent-run-id 7f3c... ...`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd)
		},
	}

	cmd.Flags().StringSlice("feature-set", nil, "Input dataset name or name:version (repeatable, comma separated)")
	cmd.Flags().String("output-train", "", "Datastore-relative base path of the train partition")
	cmd.Flags().String("output-test", "", "Datastore-relative base path of the test partition")
	cmd.Flags().String("output-train-name", "", "Catalog name of the train partition")
	cmd.Flags().String("output-test-name", "", "Catalog name of the test partition")
	cmd.Flags().String("output-datastore", "", "Datastore receiving both partitions")
	cmd.Flags().Float64("test-fraction", 0, "Fraction of rows in the test partition (default 0.2)")
	cmd.Flags().Int64("seed", 0, "Shuffle seed (default 42)")
	cmd.Flags().String("label-column", "", "Label column to validate and stratify on (default Survived)")
	cmd.Flags().String("unmapped", "", "Unmapped category policy: null or error")
	cmd.Flags().Bool("overwrite", false, "Replace an unregistered partition left at this run's location")
	cmd.Flags().String("run-id", "", "Run id (generated when empty)")
	cmd.Flags().String("parent-run-id", "", "Id of the orchestrating run recorded as provenance")
	cmd.Flags().String("workspace", "", "Workspace recorded with the run")
	cmd.Flags().String("experiment", "", "Experiment recorded with the run")

	_ = cmd.RegisterFlagCompletionFunc("unmapped", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"null", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runPipeline(cmd *cobra.Command) error {
	cfg := getConfig()
	if err := cfg.ValidateRun(); err != nil {
		return fmt.Errorf("invalid run configuration:\n%w", err)
	}

	runID, _ := cmd.Flags().GetString("run-id")
	parentRunID, _ := cmd.Flags().GetString("parent-run-id")
	pc, err := cfg.PipelineConfig(core.RunContext{RunID: runID, ParentRunID: parentRunID})
	if err != nil {
		return err
	}

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	stores := cmdCtx.Datastores()
	defer func() { _ = stores.Close() }()

	res, err := pipeline.New(cmdCtx.Catalog, stores, pc, cmdCtx.Logger).Run(cmd.Context())
	if err != nil {
		return err
	}
	return renderRunResult(cmdCtx.Renderer, res)
}

func newRunResult(res *pipeline.Result) output.RunResult {
	out := output.RunResult{
		RunID:    res.Run.ID,
		Train:    output.NewVersionInfo(res.Train),
		Test:     output.NewVersionInfo(res.Test),
		Duration: res.Duration.Round(time.Millisecond).String(),
	}
	for _, ref := range res.Inputs {
		out.Inputs = append(out.Inputs, ref.String())
	}
	if res.Report != nil {
		out.InputRows = res.Report.InputRows
		out.OutputRows = res.Report.OutputRows
		out.Dropped = res.Report.Dropped
		out.Imputed = res.Report.Imputed
	}
	return out
}

func renderRunResult(r *output.Renderer, res *pipeline.Result) error {
	rr := newRunResult(res)
	if handled, err := r.Data(rr); handled {
		return err
	}

	r.Header(1, "Run "+rr.RunID)
	r.KeyValue("Inputs", strings.Join(rr.Inputs, ", "))
	r.KeyValue("Rows", fmt.Sprintf("%d in, %d prepared", rr.InputRows, rr.OutputRows))
	if len(rr.Dropped) > 0 {
		r.KeyValue("Dropped", strings.Join(rr.Dropped, ", "))
	}
	if len(rr.Imputed) > 0 {
		r.KeyValue("Imputed", formatImputed(rr.Imputed))
	}
	r.KeyValue("Duration", rr.Duration)
	r.Println("")

	r.Table([]string{"partition", "name", "version", "rows", "path"}, [][]string{
		{"train", rr.Train.Name, strconv.Itoa(rr.Train.Version), strconv.FormatInt(rr.Train.RowCount, 10), rr.Train.Path},
		{"test", rr.Test.Name, strconv.Itoa(rr.Test.Version), strconv.FormatInt(rr.Test.RowCount, 10), rr.Test.Path},
	})
	r.Success(fmt.Sprintf("published %s:%d and %s:%d", rr.Train.Name, rr.Train.Version, rr.Test.Name, rr.Test.Version))
	return nil
}

func formatImputed(m map[string]float64) string {
	cols := make([]string, 0, len(m))
	for c := range m {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s=%.4g", c, m[c])
	}
	return strings.Join(parts, ", ")
}
