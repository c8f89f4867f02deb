package main

import (
	"activation_backend/platform/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := db.RunMigrations(cmd.Context(), e.pool, e.log); err != nil {
			return err
		}
		e.log.Info("database migrations complete")
		return nil
	},
}
