package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		s, err := openStore(cmd.Context(), p)
		if err != nil {
			return err
		}
		defer s.Close()
		slog.Info("database migrated", slog.String("driver", p.Driver))
		return nil
	},
}
