package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "school-intel",
	Short: "School contact and competitor enrichment",
	Long: "Finds a school's website, extracts senior staff contacts with tiered Claude models under a monthly budget, " +
		"verifies them independently and reports competitor agency activity.",
	SilenceUsage: true,
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
