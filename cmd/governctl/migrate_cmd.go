package main

import (
	"github.com/spf13/cobra"

	"github.com/voltgrid/opsconsole/migrations"
)

type migrationRow struct {
	Version  int64  `json:"version"`
	Source   string `json:"source"`
	State    string `json:"state"`
	Duration string `json:"duration,omitempty"`
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the governance schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := connectDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			results, err := migrations.Up(cmd.Context(), pool)
			if err != nil {
				return withCode(exitDB, err)
			}
			rows := make([]migrationRow, 0, len(results))
			for _, r := range results {
				rows = append(rows, migrationRow{
					Version:  r.Source.Version,
					Source:   r.Source.Path,
					State:    "applied",
					Duration: r.Duration.String(),
				})
			}
			return writeJSON(cmd.OutOrStdout(), rows)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := connectDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := migrations.Status(cmd.Context(), pool)
			if err != nil {
				return withCode(exitDB, err)
			}
			rows := make([]migrationRow, 0, len(statuses))
			for _, s := range statuses {
				rows = append(rows, migrationRow{
					Version: s.Source.Version,
					Source:  s.Source.Path,
					State:   string(s.State),
				})
			}
			return writeJSON(cmd.OutOrStdout(), rows)
		},
	})
	return cmd
}
