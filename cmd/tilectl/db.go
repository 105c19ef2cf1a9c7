package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long:  "Creates the users, job_sheets and jobs tables if they do not exist. Safe to run repeatedly.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			store, closeDB, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema applied to %s\n", cfg.Database.Database)
			return nil
		},
	}
}
