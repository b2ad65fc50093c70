package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/erp/bcsync/internal/domain/customersync"
	"github.com/erp/bcsync/internal/infrastructure/config"
)

// RunGuardFactory creates run guards based on configuration
type RunGuardFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
	pingTimeout           time.Duration
}

// RunGuardFactoryOption is a functional option for configuring the factory
type RunGuardFactoryOption func(*RunGuardFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) RunGuardFactoryOption {
	return func(f *RunGuardFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to an in-memory guard when Redis is unavailable.
// Default is true.
func WithInMemoryFallback(allow bool) RunGuardFactoryOption {
	return func(f *RunGuardFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewRunGuardFactory creates a new factory
func NewRunGuardFactory(cfg config.RedisConfig, opts ...RunGuardFactoryOption) *RunGuardFactory {
	f := &RunGuardFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
		pingTimeout:           5 * time.Second,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedisGuard connects to Redis and returns a guard plus a close func
// for the client.
func (f *RunGuardFactory) CreateRedisGuard(ctx context.Context) (*RedisRunGuard, func() error, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     f.redisConfig.Addr(),
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, f.pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", f.redisConfig.Addr(), err)
	}

	return NewRedisRunGuard(client), client.Close, nil
}

// CreateGuard returns a Redis guard when Redis is enabled and reachable.
// Otherwise it returns an in-memory guard if fallback is allowed.
// In-memory guards do not coordinate across instances.
func (f *RunGuardFactory) CreateGuard(ctx context.Context) (customersync.RunGuard, func() error, error) {
	noop := func() error { return nil }

	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory run guard")
		return NewInMemoryRunGuard(), noop, nil
	}

	guard, closeFn, err := f.CreateRedisGuard(ctx)
	if err == nil {
		f.logger.Info("Using Redis run guard", zap.String("addr", f.redisConfig.Addr()))
		return guard, closeFn, nil
	}

	if !f.allowInMemoryFallback {
		return nil, nil, fmt.Errorf("redis required for run guard but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory run guard. "+
		"Concurrent runs on other instances will not be detected.",
		zap.Error(err),
	)
	return NewInMemoryRunGuard(), noop, nil
}
