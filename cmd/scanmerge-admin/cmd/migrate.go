package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/scanmerge/internal/infra/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		applied, err := postgres.Migrate(ctx, e.db)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Println("database is up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Printf("applied %s\n", name)
		}
		return nil
	},
}
