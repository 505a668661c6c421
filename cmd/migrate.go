package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending schema migrations to the configured account store
and list every applied version. Migrations also run automatically when
the server or any other command opens the database.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()

	backend, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer backend.Close()

	versions, err := backend.Migrations(ctx)
	if err != nil {
		return err
	}
	if versions == nil {
		fmt.Printf("Driver %s has no schema\n", backend.Driver)
		return nil
	}

	fmt.Printf("Applied migrations (%s):\n", backend.Driver)
	for _, v := range versions {
		fmt.Printf("  %s\n", v)
	}
	return nil
}
