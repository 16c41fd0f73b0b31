package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/match9393/ContextForge/config"
	srv "github.com/match9393/ContextForge/internal/server"
)

func migrateCMD() *cobra.Command {
	var migDir string
	var migDirDefault = "file://migrations"
	var direction string
	var steps int
	var cfgPath string

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			var dsn string
			if cfg.Storage.Postgres.URL != "" {
				dsn = cfg.Storage.Postgres.URL
			} else {
				if cfg.Storage.Postgres.Host == "" || cfg.Storage.Postgres.DBName == "" {
					return fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
				}
				dsn = cfg.Storage.Postgres.DSN()
			}
			if migDir == "" {
				migDir = migDirDefault
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", migDirDefault, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return migrate
}
