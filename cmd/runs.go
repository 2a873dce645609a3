package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prompt-optimizer/internal/model"
	"github.com/sells-group/prompt-optimizer/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect optimization run history",
	Long:  "Commands for listing and viewing stored optimization runs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("runs")
	},
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List optimization runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's iterations and best prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		iters, err := st.ListIterations(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		formatRunDetail(os.Stdout, run, iters)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDATASET\tSTATUS\tITERS\tBEST\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t-----\t----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		iters, best := "-", "-"
		if r.Summary != nil {
			iters = fmt.Sprintf("%d", r.Summary.Iterations)
			best = fmt.Sprintf("%.2f%%", r.Summary.BestAccuracy*100)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			truncate(r.Spec.Dataset, 30),
			r.Status,
			iters,
			best,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunDetail writes a run header, its iteration table and the best
// prompt to w.
func formatRunDetail(out io.Writer, run *model.Run, iters []model.IterationRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", run.ID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", run.Status)
	_, _ = fmt.Fprintf(w, "Dataset:\t%s (%d samples)\n", run.Spec.Dataset, run.Spec.Samples)
	_, _ = fmt.Fprintf(w, "Models:\tagent=%s mentor=%s\n", run.Spec.AgentModel, run.Spec.MentorModel)
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", run.Error)
	}
	if run.Summary != nil {
		_, _ = fmt.Fprintf(w, "Cost:\t$%.4f (%d calls)\n", run.Summary.TokenUsage.Cost, run.Summary.TokenUsage.Calls)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ITER\tACCURACY\tCORRECT\tERRORS\tPROMPT")
	for _, it := range iters {
		_, _ = fmt.Fprintf(w, "%d\t%.2f%%\t%d/%d\t%s\t%s\n",
			it.Result.Iteration,
			it.Result.Accuracy*100,
			it.Result.CorrectSamples,
			it.Result.TotalSamples,
			topErrors(it.ErrorSummary, 3),
			truncate(oneLine(it.Result.Prompt), 50),
		)
	}
	_ = w.Flush()

	if run.Summary != nil && run.Summary.BestPrompt != "" {
		_, _ = fmt.Fprintf(out, "\nBest prompt (iteration %d, %.2f%%):\n%s\n",
			run.Summary.BestIteration, run.Summary.BestAccuracy*100, run.Summary.BestPrompt)
	}
}

// topErrors returns the n most frequent error keys, ties broken by name.
func topErrors(summary map[string]int, n int) string {
	if len(summary) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if summary[keys[i]] != summary[keys[j]] {
			return summary[keys[i]] > summary[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%d", k, summary[k])
	}
	return strings.Join(parts, ", ")
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
