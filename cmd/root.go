package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prompt-optimizer/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "prompt-optimizer",
	Short: "Iterative prompt optimizer for structured extraction",
	Long:  "Runs an extraction prompt over labeled samples, scores the predictions, and asks a mentor model to rewrite the prompt from its failures.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
