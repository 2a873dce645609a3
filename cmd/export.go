package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prompt-optimizer/internal/model"
	"github.com/sells-group/prompt-optimizer/internal/report"
	"github.com/sells-group/prompt-optimizer/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a stored run as a JSON, YAML or XLSX report",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return cfg.Validate("runs")
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = fmt.Sprintf("%s.%s", args[0], format)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := buildReport(ctx, st, args[0])
		if err != nil {
			return err
		}

		switch format {
		case "json":
			err = rep.WriteJSON(out)
		case "yaml":
			err = rep.WriteYAML(out)
		case "xlsx":
			err = rep.WriteXLSX(out)
		default:
			return eris.Errorf("export: unsupported format %q", format)
		}
		if err != nil {
			return err
		}

		zap.L().Info("export: report written", zap.String("run_id", args[0]), zap.String("path", out))
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "json", "report format (json, yaml, xlsx)")
	exportCmd.Flags().String("out", "", "output path (default <run-id>.<format>)")
	rootCmd.AddCommand(exportCmd)
}

// buildReport assembles a report from a stored run and its iterations.
// Failures come from the last stored iteration.
func buildReport(ctx context.Context, st store.Store, runID string) (*report.Report, error) {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "export")
	}
	iters, err := st.ListIterations(ctx, run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "export")
	}

	results := make([]model.OptimizationResult, len(iters))
	var failures []model.FailedPrediction
	for i, it := range iters {
		results[i] = it.Result
		failures = it.FailedPredictions
	}

	rep := report.New(run.ID, results, failures)
	rep.Timestamp = run.UpdatedAt
	return rep, nil
}
