package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-engine/internal/container"
)

var seedCmd = &cobra.Command{
	Use:   "seed <flows.yaml>...",
	Short: "Load flow definitions and directory entries from YAML files",
	Long: `seed applies one or more YAML seed files. Directory entries are upserted;
flow definitions that already exist are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
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

	seeder := c.Seeder()
	for _, path := range args {
		res, err := seeder.SeedFile(cmd.Context(), path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d flow(s) created, %d skipped, %d unit(s), %d user(s), %d grant(s)\n",
			path, res.FlowsCreated, res.FlowsSkipped, res.Units, res.Users, res.Grants)
	}
	return nil
}
