package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datachange/internal/changetrack/store/memory"
	"datachange/internal/platform/config"
)

func TestOpen_Memory(t *testing.T) {
	s, closeFn, err := Open(context.Background(), &config.Config{Store: config.StoreMemory}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &memory.InMemoryStore{}, s)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	cfg := &config.Config{Store: config.StorePostgres, DatabaseDriver: "mysql", DatabaseURL: "x"}
	_, closeFn, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
	assert.NotNil(t, closeFn)
}

func TestOpen_InvalidRedisURL(t *testing.T) {
	cfg := &config.Config{Store: config.StoreRedis, Redis: config.RedisConfig{URL: "http://nope"}}
	_, _, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
