package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"newsletter/internal/database"
)

var withSeed bool

// migrateCmd applies pending migrations
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending migrations to update the database schema.

Examples:
  newsletter migrate          # Apply all pending migrations
  newsletter migrate --seed   # Also seed development data into an empty database`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if withSeed {
			if err := database.Seed(db); err != nil {
				return err
			}
		}
		slog.Info("database is up to date")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&withSeed, "seed", false, "Seed development data when the database is empty")
}
