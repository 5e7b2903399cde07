package database

import (
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"
)

func RunMigrations(db *dbpg.DB, dir string) error {
	if db == nil || db.Master == nil {
		return fmt.Errorf("run migrations: no master connection")
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db.Master, dir); err != nil {
		return fmt.Errorf("apply migrations from %s: %w", dir, err)
	}

	version, err := goose.GetDBVersion(db.Master)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	zlog.Logger.Info().Int64("version", version).Str("dir", dir).Msg("database migrations applied")
	return nil
}
