// Package redis mirrors presence snapshots into redis for external
// dashboards. The mirror is write-only and optional: the in-process engine
// stays the single source of truth for liveness, and nothing is ever read
// back from here.
package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neochat/roulette/config"
)

const (
	statsKey = "presence:stats"
	statsTTL = time.Minute
)

var client *redis.Client
var ctx = context.Background()

// Connect initializes the mirror client. With an empty address the mirror
// stays disabled and every MirrorStats call is a no-op.
func Connect(cfg config.RedisConfig) error {
	if cfg.Addr == "" {
		return nil
	}
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		return err
	}
	client = c
	return nil
}

// Close closes the mirror connection.
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// Enabled reports whether snapshots are being mirrored.
func Enabled() bool { return client != nil }

// MirrorStats writes one presence snapshot. Failures are logged and
// swallowed; the mirror is best-effort by contract.
func MirrorStats(data []byte) {
	if client == nil {
		return
	}
	if err := client.Set(ctx, statsKey, data, statsTTL).Err(); err != nil {
		slog.Warn("failed to mirror presence snapshot", "err", err)
	}
}
