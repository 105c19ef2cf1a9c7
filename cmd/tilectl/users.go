package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newUsersCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users that tiles can be assigned to",
	}

	cmd.AddCommand(newUsersAddCmd(configPath))
	cmd.AddCommand(newUsersListCmd(configPath))
	return cmd
}

func newUsersAddCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add <full name>",
		Short: "Add a user",
		Example: `  tilectl users add "Alice Nguyen"
  tilectl users add Alice Nguyen`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fullName := strings.TrimSpace(strings.Join(args, " "))
			if fullName == "" {
				return fmt.Errorf("full name must not be blank")
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			store, closeDB, err := openStorage(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			user, err := store.CreateUser(cmd.Context(), fullName)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %d: %s\n", user.ID, user.FullName)
			return nil
		},
	}
}

func newUsersListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all users",
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

			users, err := store.ListUsers(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFULL NAME")
			for _, u := range users {
				fmt.Fprintf(w, "%d\t%s\n", u.ID, u.FullName)
			}
			return w.Flush()
		},
	}
}
