package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-eventual/pkg/config"
	"github.com/zoff-tech/go-eventual/pkg/logger"
	"github.com/zoff-tech/go-eventual/pkg/store"
	"github.com/zoff-tech/go-eventual/schema"
)

func newMigrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the pending eventual table migrations to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(*cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logger.New(cfg.Log.Level)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			m, err := newMigrator(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer func() {
				if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
					log.Warn("Close migrator", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
				}
			}()

			applied, err := schema.Up(m)
			if err != nil {
				return err
			}

			version, dirty, err := m.Version()
			if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
				return fmt.Errorf("read migration version: %w", err)
			}
			log.Info("Migration complete",
				zap.String("database", cfg.Database.Type),
				zap.Bool("applied", applied),
				zap.Uint("version", version),
				zap.Bool("dirty", dirty))
			return nil
		},
	}
}

func newMigrator(ctx context.Context, cfg config.DbSettings) (*migrate.Migrate, error) {
	if cfg.Type == "spanner" {
		return schema.NewSpannerMigrator(cfg.URI)
	}

	cfg, err := migrationSettings(cfg)
	if err != nil {
		return nil, err
	}
	db, err := store.OpenSQL(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m, err := schema.NewSQLMigrator(db.DB, cfg.Type)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// migrationSettings lets a MySQL connection run a migration file holding several
// statements.
func migrationSettings(cfg config.DbSettings) (config.DbSettings, error) {
	if cfg.Type != "mysql" {
		return cfg, nil
	}
	parsed, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return cfg, fmt.Errorf("parse mysql DSN: %w", err)
	}
	parsed.MultiStatements = true
	cfg.DSN = parsed.FormatDSN()
	return cfg, nil
}
