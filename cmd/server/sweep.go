package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-engine/internal/container"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one escalation pass and exit",
	Long: `sweep escalates every in-progress step past its timeout once, then exits.
Use it from cron when the server runs with engine.sweep_interval set to 0.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Start(cmd.Context(), false); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	result, err := c.WorkflowEngine().EscalateOverdue(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
