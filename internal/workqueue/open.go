package workqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"inkwell/internal/config"
	"inkwell/internal/services"
)

// Open returns the backend selected by [workqueue] backend.
func Open(ctx context.Context, cfg *config.Config) (Queue, error) {
	maxAttempts := cfg.Workflow.MaxUnitAttempts
	switch strings.ToLower(strings.TrimSpace(cfg.WorkQueue.Backend)) {
	case "", "sqlite":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(cfg.WorkQueuePath(), maxAttempts)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: time.Duration(cfg.Redis.DialTimeoutSeconds) * time.Second,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, services.Wrap(services.ErrConfiguration, "workqueue", "redis ping",
				fmt.Sprintf("cannot reach redis at %s", cfg.Redis.Addr), err)
		}
		return NewRedisQueue(client, cfg.Redis.KeyPrefix, maxAttempts), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "workqueue", "open",
			fmt.Sprintf("unknown backend %q", cfg.WorkQueue.Backend), nil)
	}
}
