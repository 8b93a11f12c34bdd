package main

import (
	"github.com/spf13/cobra"

	"github.com/victornm/quiztaker/internal/migrations"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			m := migrations.NewMigrator(c.Postgres.DSN())
			defer func() {
				if cerr := m.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			if down {
				return m.Down(cmd.Context())
			}
			return m.Up(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll back the last applied group instead")
	return cmd
}
