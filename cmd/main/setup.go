package main

import (
	"context"
	"errors"
	"time"

	"vote-spin/src/dispatch"
	"vote-spin/src/interfaces"
	"vote-spin/src/logger"
	"vote-spin/src/models"
	"vote-spin/src/relay"
	"vote-spin/src/storage"

	"github.com/jonboulle/clockwork"
)

const relayRestartDelay = 5 * time.Second

// -----------------------------------------------------------------------------

// setupDatabase opens the configured store and creates the schema
func setupDatabase(ctx context.Context, config *models.MConfig, clock clockwork.Clock, appLogger *logger.Logger) (interfaces.IStateStore, error) {
	var db interfaces.IStateStore
	var err error

	switch config.Storage.DBType {
	case "postgres":
		db, err = storage.NewPostgresDB(config, appLogger.Named("PostgresDB"), clock)
	default:
		// Default to SQLite
		db, err = storage.NewAsyncSQLiteDB(config, appLogger.Named("SQLiteDB"), clock)
	}

	if err != nil {
		appLogger.Error("Failed to init db: %v", err)
		return nil, err
	}
	if err := db.Initialize(ctx); err != nil {
		appLogger.Error("Failed to migrate db: %v", err)
		return nil, err
	}
	return db, nil
}

// -----------------------------------------------------------------------------

// setupRelay connects to Redis when a relay URL is configured. An unreachable
// Redis at startup is only a warning; runRelay keeps resubscribing.
func setupRelay(ctx context.Context, config *models.MConfig, appLogger *logger.Logger) *relay.RedisRelay {
	if config.Relay.RedisURL == "" {
		appLogger.Info("No relay configured; running as a single instance")
		return nil
	}

	r, err := relay.NewRedisRelay(config.Relay, appLogger.Named("Relay"))
	if err != nil {
		appLogger.Error("Invalid relay config: %v", err)
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		appLogger.Warning("Relay unreachable at startup: %v", err)
	}
	return r
}

// relayOrNil keeps a nil *RedisRelay from becoming a non-nil interface.
func relayOrNil(r *relay.RedisRelay) interfaces.ISnapshotRelay {
	if r == nil {
		return nil
	}
	return r
}

// -----------------------------------------------------------------------------

// runRelay rebroadcasts snapshots announced by other instances, resubscribing
// after connection loss until ctx ends.
func runRelay(ctx context.Context, r *relay.RedisRelay, service *dispatch.Service, appLogger *logger.Logger) {
	onChange := func(version int64) {
		if _, err := service.Refresh(ctx); err != nil {
			appLogger.Warning("Refresh after relay version %d failed: %v", version, err)
		}
	}

	for {
		err := r.Run(ctx, onChange)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Warning("Relay subscription ended: %v. Retrying in %v", err, relayRestartDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(relayRestartDelay):
		}
	}
}
