package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prompt-optimizer/internal/agent"
	"github.com/sells-group/prompt-optimizer/internal/config"
	"github.com/sells-group/prompt-optimizer/internal/cost"
	"github.com/sells-group/prompt-optimizer/internal/dataset"
	"github.com/sells-group/prompt-optimizer/internal/llm"
	"github.com/sells-group/prompt-optimizer/internal/mentor"
	"github.com/sells-group/prompt-optimizer/internal/model"
	"github.com/sells-group/prompt-optimizer/internal/optimizer"
	"github.com/sells-group/prompt-optimizer/internal/report"
	"github.com/sells-group/prompt-optimizer/internal/store"
	"github.com/sells-group/prompt-optimizer/internal/tracing"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Optimize an extraction prompt against a labeled dataset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := applyOptimizeFlags(cmd, cfg); err != nil {
			return err
		}
		noStore, _ := cmd.Flags().GetBool("no-store")
		output, _ := cmd.Flags().GetString("output")

		if err := cfg.Validate("optimize"); err != nil {
			return err
		}

		prompt, err := resolvePrompt(cmd)
		if err != nil {
			return err
		}

		shutdown, err := tracing.Init(ctx, cfg.Tracing)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				zap.L().Warn("tracing: shutdown failed", zap.Error(err))
			}
		}()

		samples, err := dataset.Load(cfg.Dataset.Path, cfg.Dataset.Limit)
		if err != nil {
			return err
		}

		optCfg := optimizerConfig(cfg)
		if err := optCfg.Validate(); err != nil {
			return err
		}

		var (
			st      store.Store
			runID   string
			optOpts []optimizer.Option
		)
		if !noStore {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			run, err := st.CreateRun(ctx, runSpec(cfg, len(samples), prompt))
			if err != nil {
				return eris.Wrap(err, "optimize: create run")
			}
			runID = run.ID
			optOpts = append(optOpts, optimizer.WithObserver(&store.Recorder{Store: st, RunID: runID}))
		}

		tracker := llm.NewUsageTracker(cost.NewCalculator(cfg.Pricing))
		opt, err := buildOptimizer(cfg, tracker, optOpts...)
		if err != nil {
			return err
		}

		results, runErr := opt.Run(ctx, samples, prompt)
		tracker.Log()

		if runErr != nil {
			if st != nil {
				// The run context may already be cancelled.
				if err := st.FailRun(context.Background(), runID, runErr.Error()); err != nil {
					zap.L().Error("optimize: mark run failed", zap.String("run_id", runID), zap.Error(err))
				}
			}
			return eris.Wrap(runErr, "optimize")
		}

		printSummary(os.Stdout, results)

		summary := runSummary(results, tracker.Total())
		if st != nil {
			if err := st.CompleteRun(ctx, runID, summary); err != nil {
				return eris.Wrap(err, "optimize: complete run")
			}
		}

		if output != "" {
			var failures []model.FailedPrediction
			if hist := opt.History(); len(hist) > 0 {
				failures = hist[len(hist)-1].FailedPredictions
			}
			if err := report.New(runID, results, failures).Write(output); err != nil {
				return err
			}
			zap.L().Info("optimize: report written", zap.String("path", output))
		}
		return nil
	},
}

func init() {
	f := optimizeCmd.Flags()
	f.String("data", "", "dataset path (.jsonl or .json)")
	f.Int("samples", 0, "number of samples to load (0 keeps config)")
	f.String("prompt", "", "initial prompt (seeded by the mentor when empty)")
	f.String("prompt-file", "", "read the initial prompt from a file")
	f.Int("window-size", 0, "history entries shown to the mentor")
	f.Int("loops", 0, "maximum optimization rounds")
	f.Int("concurrency", 0, "parallel extraction calls per round")
	f.String("output", "", "write a report (.json, .yaml, .yml or .xlsx)")
	f.Bool("no-store", false, "do not persist the run")
	rootCmd.AddCommand(optimizeCmd)
}

// applyOptimizeFlags copies explicitly set flags over the loaded config.
func applyOptimizeFlags(cmd *cobra.Command, c *config.Config) error {
	f := cmd.Flags()
	if f.Changed("data") {
		c.Dataset.Path, _ = f.GetString("data")
	}
	if f.Changed("samples") {
		c.Dataset.Limit, _ = f.GetInt("samples")
	}
	if f.Changed("window-size") {
		c.Optimizer.WindowSize, _ = f.GetInt("window-size")
	}
	if f.Changed("loops") {
		c.Optimizer.LoopCount, _ = f.GetInt("loops")
	}
	if f.Changed("concurrency") {
		c.Optimizer.Concurrency, _ = f.GetInt("concurrency")
	}
	if f.Changed("prompt") && f.Changed("prompt-file") {
		return eris.New("optimize: --prompt and --prompt-file are mutually exclusive")
	}
	return nil
}

func resolvePrompt(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("prompt-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", eris.Wrapf(err, "optimize: read prompt file %s", path)
		}
		return strings.TrimSpace(string(data)), nil
	}
	prompt, _ := cmd.Flags().GetString("prompt")
	return strings.TrimSpace(prompt), nil
}

func optimizerConfig(c *config.Config) optimizer.Config {
	return optimizer.Config{
		MaxRounds:     c.Optimizer.LoopCount,
		WindowSize:    c.Optimizer.WindowSize,
		Concurrency:   c.Optimizer.Concurrency,
		MaxFailures:   c.Optimizer.MaxFailures,
		CaseSensitive: c.Optimizer.CaseSensitive,
	}
}

func buildOptimizer(c *config.Config, tracker *llm.UsageTracker, opts ...optimizer.Option) (*optimizer.Optimizer, error) {
	agentClient, err := newChatClient(c, c.Agent.Provider, c.Agent.Model, tracker)
	if err != nil {
		return nil, eris.Wrap(err, "optimize: agent client")
	}
	mentorClient, err := newChatClient(c, c.Mentor.Provider, c.Mentor.Model, tracker)
	if err != nil {
		return nil, eris.Wrap(err, "optimize: mentor client")
	}

	ag := agent.New(agentClient,
		agent.WithModel(c.Agent.Model),
		agent.WithTemperature(c.Agent.Temperature),
		agent.WithMaxTokens(c.Agent.MaxTokens),
		agent.WithFields(c.Agent.Fields),
	)
	mt := mentor.New(mentorClient,
		mentor.WithModel(c.Mentor.Model),
		mentor.WithTemperature(c.Mentor.Temperature),
		mentor.WithMaxTokens(c.Mentor.MaxTokens),
		mentor.WithMaxFailures(c.Mentor.MaxFailures),
		mentor.WithSourceTokens(c.Mentor.SourceTokens),
		mentor.WithTokenizer(llm.NewTokenizer(c.Mentor.Encoding)),
	)
	return optimizer.New(ag, mt, optimizerConfig(c), opts...)
}

func runSpec(c *config.Config, samples int, prompt string) model.RunSpec {
	return model.RunSpec{
		Dataset:       c.Dataset.Path,
		Samples:       samples,
		InitialPrompt: prompt,
		MaxRounds:     c.Optimizer.LoopCount,
		WindowSize:    c.Optimizer.WindowSize,
		AgentModel:    c.Agent.Model,
		MentorModel:   c.Mentor.Model,
	}
}

func runSummary(results []model.OptimizationResult, usage model.TokenUsage) model.RunSummary {
	s := model.RunSummary{Iterations: len(results), TokenUsage: usage}
	if m, ok := report.Summarize(results); ok {
		s.BestAccuracy = m.BestAccuracy
		s.BestIteration = m.BestIteration
		s.FinalAccuracy = m.FinalAccuracy
		s.BestPrompt, _ = report.BestPrompt(results)
	}
	return s
}

func printSummary(w io.Writer, results []model.OptimizationResult) {
	m, ok := report.Summarize(results)
	if !ok {
		_, _ = fmt.Fprintln(w, "No iterations completed.")
		return
	}
	_, _ = fmt.Fprint(w, report.FormatMetrics(m))
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprint(w, report.FormatProgression(results))
	best, _ := report.BestPrompt(results)
	_, _ = fmt.Fprintf(w, "\nBest prompt (iteration %d):\n%s\n", m.BestIteration, best)
}
