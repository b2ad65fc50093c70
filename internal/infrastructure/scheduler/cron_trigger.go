// Package scheduler runs customer sync batches on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	syncapp "github.com/erp/bcsync/internal/application/customersync"
	"github.com/erp/bcsync/internal/domain/customersync"
	"github.com/erp/bcsync/internal/infrastructure/telemetry"
)

var scheduledBatchLabels = telemetry.OperationLabels("customer_sync.batch", map[string]string{
	telemetry.ProfilingLabelTrigger: "schedule",
})

// BatchRunner runs one customer sync batch
type BatchRunner interface {
	RunBatch(ctx context.Context, req syncapp.BatchRequest) (*syncapp.BatchResult, error)
}

// SyncTriggerConfig holds configuration for the sync trigger
type SyncTriggerConfig struct {
	// Interval between batch starts. Must be positive.
	Interval time.Duration
	// Items is the number of default items per scheduled batch
	Items int
	// RunOnStart runs a batch immediately instead of waiting one interval
	RunOnStart bool
}

// CustomerSyncTrigger starts a batch every Interval until stopped.
// A tick that fires while a batch is still running is skipped.
type CustomerSyncTrigger struct {
	config SyncTriggerConfig
	runner BatchRunner
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	inFlight  bool
	lastRun   time.Time
}

// NewCustomerSyncTrigger creates a new sync trigger
func NewCustomerSyncTrigger(config SyncTriggerConfig, runner BatchRunner, logger *zap.Logger) (*CustomerSyncTrigger, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if config.Items <= 0 {
		config.Items = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustomerSyncTrigger{
		config: config,
		runner: runner,
		logger: logger,
	}, nil
}

// Start starts the trigger loop
func (c *CustomerSyncTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Customer sync trigger started",
		zap.Duration("interval", c.config.Interval),
		zap.Int("items", c.config.Items),
	)
	return nil
}

// Stop cancels the loop and waits for an in-flight batch to return
func (c *CustomerSyncTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Customer sync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastRun returns when the last scheduled batch started
func (c *CustomerSyncTrigger) LastRun() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

func (c *CustomerSyncTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	if c.config.RunOnStart {
		c.trigger(ctx)
	}

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.trigger(ctx)
		}
	}
}

func (c *CustomerSyncTrigger) trigger(ctx context.Context) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		c.logger.Warn("Previous customer sync batch still running, skipping tick")
		return
	}
	c.inFlight = true
	c.lastRun = time.Now()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	var (
		result *syncapp.BatchResult
		err    error
	)
	items := make([]syncapp.ItemRequest, c.config.Items)
	telemetry.WithProfilingLabels(ctx, scheduledBatchLabels, func(ctx context.Context) {
		result, err = c.runner.RunBatch(ctx, syncapp.BatchRequest{Items: items})
	})
	switch {
	case errors.Is(err, customersync.ErrSyncInProgress):
		c.logger.Info("Customer sync already running elsewhere, skipping scheduled batch")
	case err != nil:
		c.logger.Error("Scheduled customer sync batch failed", zap.Error(err))
	default:
		succeeded := 0
		for _, item := range result.Items {
			if item.Success() {
				succeeded++
			}
		}
		c.logger.Info("Scheduled customer sync batch finished",
			zap.String("run_id", result.RunID.String()),
			zap.Int("items", len(result.Items)),
			zap.Int("succeeded", succeeded),
		)
	}
}
