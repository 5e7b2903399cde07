package database

import (
	"fmt"
	"time"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/config"
	"github.com/yokitheyo/batchflow/internal/helpers"
)

// Connect opens the master and replica pools described by cfg and pings the
// master until it answers or cfg.ConnectRetries attempts are used up.
func Connect(cfg *config.DatabaseConfig) (*dbpg.DB, error) {
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSec) * time.Second,
	}
	return ConnectWithRetries(cfg.DSN, helpers.SplitList(cfg.Slaves, ","), opts, cfg.ConnectRetries, cfg.ConnectRetryDelaySec)
}

func ConnectWithRetries(masterDSN string, slaves []string, opts *dbpg.Options, retries int, delaySec int) (*dbpg.DB, error) {
	if retries <= 0 {
		retries = 1
	}
	if delaySec <= 0 {
		delaySec = 1
	}

	var (
		database *dbpg.DB
		err      error
	)
	for i := 0; i < retries; i++ {
		database, err = open(masterDSN, slaves, opts)
		if err == nil {
			zlog.Logger.Info().Int("attempt", i+1).Int("replicas", len(slaves)).Msg("Database connection established")
			return database, nil
		}
		zlog.Logger.Warn().Err(err).Msgf("Database connection attempt %d/%d failed", i+1, retries)

		if i < retries-1 {
			time.Sleep(time.Duration(delaySec) * time.Second)
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d retries: %w", retries, err)
}

func open(masterDSN string, slaves []string, opts *dbpg.Options) (*dbpg.DB, error) {
	database, err := dbpg.New(masterDSN, slaves, opts)
	if err != nil {
		return nil, fmt.Errorf("dbpg.New: %w", err)
	}
	if database.Master == nil {
		return nil, fmt.Errorf("database.Master is nil")
	}
	if err := database.Master.Ping(); err != nil {
		Close(database)
		return nil, fmt.Errorf("ping master: %w", err)
	}
	return database, nil
}

// Close closes the master and every replica pool.
func Close(database *dbpg.DB) {
	if database == nil {
		return
	}
	if database.Master != nil {
		if err := database.Master.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("closing db master failed")
		}
	}
	for i, s := range database.Slaves {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			zlog.Logger.Error().Err(err).Int("slave_index", i).Msg("closing db slave failed")
		}
	}
}
