// Package store selects and opens the configured record store backend.
package store

import (
	"context"
	"log/slog"

	"datachange/internal/changetrack/service"
	"datachange/internal/changetrack/store/memory"
	"datachange/internal/changetrack/store/postgres"
	"datachange/internal/changetrack/store/redisstream"
	"datachange/internal/platform/config"
	platformredis "datachange/internal/platform/redis"
)

// Open connects the backend named by cfg.Store. The returned close function
// releases its connections and is never nil.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (service.Store, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, func() {}, err
		}
		closeFn := func() { _ = db.Close() }
		if err := postgres.Migrate(ctx, db); err != nil {
			closeFn()
			return nil, func() {}, err
		}
		log.Info("using postgres record store", "driver", cfg.DatabaseDriver)
		return postgres.New(db), closeFn, nil
	case config.StoreRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, func() {}, err
		}
		log.Info("using redis record store")
		return redisstream.New(client.Client, redisstream.WithKeyPrefix(cfg.Redis.KeyPrefix)),
			func() { _ = client.Close() }, nil
	default:
		log.Warn("using in-memory record store; records are lost on restart")
		return memory.NewInMemoryStore(), func() {}, nil
	}
}
