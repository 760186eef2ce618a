package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/config"
	"github.com/garyjia/approval-engine/pkg/utils"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "approval-engine",
	Short:         "Multi-step approval workflow engine",
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `approval-engine routes business requests through administrator-defined
approval flows: it resolves the flow, materializes approvers from the org
directory, records decisions and escalates steps that time out.

Running without a subcommand starts the HTTP server.`,
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml",
		"path to the YAML config file (empty to use defaults and environment)")
}

// setup loads configuration and builds the logger shared by every command
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "approval-engine",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
