package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const defaultConfigPath = "configs/api-service/config.yaml"

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "tilectl",
		Short:        "Administer the tile allocation service",
		Long:         "tilectl applies the database schema, manages users and cleans the upload directory.",
		SilenceUsage: true,
	}

	envPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if envPath == "" {
		envPath = defaultConfigPath
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", envPath, "path to service config file")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCmd(&configPath))
	cmd.AddCommand(newUsersCmd(&configPath))
	cmd.AddCommand(newSweepCmd(&configPath))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tilectl %s (commit: %s)\n", Version, Commit)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
