package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hoonjeong/menualic/internal/config"
	"github.com/hoonjeong/menualic/internal/store"
)

func versionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "Manage stored manual versions",
	}
	cmd.AddCommand(versionsPruneCmd())
	return cmd
}

func versionsPruneCmd() *cobra.Command {
	var olderThan time.Duration
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete versions older than the retention window",
		Long: `Delete manual versions created before now minus --older-than.
Defaults to the configured version retention.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.VersionRetention
			}
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			cutoff := time.Now().Add(-olderThan)
			logger := cliLogger(cfg)

			if dryRun {
				fmt.Printf("%s would delete versions created before %s\n",
					color.New(color.FgYellow).Sprint("dry run:"), cutoff.Format(time.RFC3339))
				return nil
			}

			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			deleted, err := store.NewPostgresStore(db).PruneVersions(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("versions pruned")
			fmt.Printf("%s %d versions older than %s\n", color.New(color.FgGreen).Sprint("pruned"), deleted, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete versions older than this duration (e.g. 720h)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the cutoff without deleting")
	return cmd
}
