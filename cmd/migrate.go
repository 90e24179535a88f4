package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/akemora/Granter-2.0-sub001/database"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the schema file and verify the required tables exist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		schema, _ := cmd.Flags().GetString("schema")
		if schema == "" {
			schema = cfg.SchemaPath
		}

		if err := database.ConnectWithConfig(cfg.DatabaseURL, &cfg.Unified().Database); err != nil {
			return err
		}
		defer database.Close()

		if err := database.Migrate(schema); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		missing, err := database.MissingTables(ctx, database.DB, database.RequiredTables)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("schema incomplete, missing tables: %s", strings.Join(missing, ", "))
		}

		logrus.WithField("tables", database.RequiredTables).Info("Schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().String("schema", "", "Schema file (default SCHEMA_PATH)")
}
