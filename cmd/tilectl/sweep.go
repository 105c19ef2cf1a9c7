package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/tile-allocator/internal/sweeper"
)

func newSweepCmd(configPath *string) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale upload files once",
		Long:  "Deletes upload files older than --max-age (default: upload.sweep_max_age) from the configured upload directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			age := cfg.Upload.SweepMaxAge
			if cmd.Flags().Changed("max-age") {
				age = maxAge
			}
			if age <= cfg.Upload.IngestTimeout {
				return fmt.Errorf("--max-age %s must be longer than upload.ingest_timeout %s", age, cfg.Upload.IngestTimeout)
			}

			s, err := sweeper.New(&sweeper.Config{
				Dir:      cfg.Upload.Dir,
				MaxAge:   age,
				Schedule: cfg.Upload.SweepSchedule,
				Logger:   newCLILogger(),
			})
			if err != nil {
				return err
			}

			removed, err := s.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale upload(s) from %s\n", removed, cfg.Upload.Dir)
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "remove uploads older than this")
	return cmd
}
