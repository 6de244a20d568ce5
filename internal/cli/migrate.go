package cli

import (
	"github.com/spf13/cobra"

	"nexora-analytics/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Manage the database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{app.MigrateUp, app.MigrateDown, app.MigrateVersion},
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(args[0])
	},
}
