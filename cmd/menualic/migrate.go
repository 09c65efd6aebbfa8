package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hoonjeong/menualic/internal/config"
	"github.com/hoonjeong/menualic/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			names, err := store.MigrationFiles()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Printf("  %s %s\n", color.New(color.FgGreen).Sprint("applied"), name)
			}
			fmt.Printf("Schema is up to date (%d migrations)\n", len(names))
			return nil
		},
	}
}
