package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig configures NewDBMetrics.
type DBMetricsConfig struct {
	// PoolStatsInterval defaults to 15s.
	PoolStatsInterval time.Duration
	// SlowQueryThreshold counts longer statements in db_slow_query_total.
	// Zero disables the counter.
	SlowQueryThreshold time.Duration
}

// DBMetrics records statement counts and latency plus connection pool gauges.
type DBMetrics struct {
	config DBMetricsConfig
	logger *zap.Logger

	queryTotal     *Counter
	slowQueryTotal *Counter
	queryDuration  *Histogram
	poolConns      *Gauge
	poolMaxConns   *Gauge

	stop     chan struct{}
	stopOnce sync.Once
}

// NewDBMetrics creates the instruments on meter.
func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PoolStatsInterval <= 0 {
		cfg.PoolStatsInterval = 15 * time.Second
	}

	m := &DBMetrics{config: cfg, logger: logger, stop: make(chan struct{})}
	var err error
	if m.queryTotal, err = NewCounter(meter, "db_query_total", "Total number of SQL statements", "{queries}"); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = NewCounter(meter, "db_slow_query_total", "SQL statements slower than the threshold", "{queries}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "SQL statement latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.poolConns, err = NewGauge(meter, "db_pool_connections", "Connections by pool state", "{connections}"); err != nil {
		return nil, err
	}
	if m.poolMaxConns, err = NewGauge(meter, "db_pool_connections_max", "Maximum open connections", "{connections}"); err != nil {
		return nil, err
	}
	return m, nil
}

// Register hooks the statement instruments into db.
func (m *DBMetrics) Register(db *gorm.DB) error {
	hooks := dbHooks{prefix: "bcsync_metrics", after: m.recordStatement}
	if err := hooks.register(db); err != nil {
		return fmt.Errorf("failed to register metrics callbacks: %w", err)
	}
	return nil
}

func (m *DBMetrics) recordStatement(tx *gorm.DB, verb string, elapsed time.Duration) {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	op := AttrDBOperation.String(verb)
	table := AttrDBTable.String(tx.Statement.Table)

	m.queryTotal.Inc(ctx, op, table)
	m.queryDuration.RecordDuration(ctx, elapsed, op, table)
	if m.config.SlowQueryThreshold > 0 && elapsed > m.config.SlowQueryThreshold {
		m.slowQueryTotal.Inc(ctx, op, table)
	}
}

// StartPoolStatsCollection samples db.Stats until ctx ends or Stop is called.
func (m *DBMetrics) StartPoolStatsCollection(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(m.config.PoolStatsInterval)
		defer ticker.Stop()

		m.recordPoolStats(ctx, db.Stats())
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.recordPoolStats(ctx, db.Stats())
			}
		}
	}()
}

func (m *DBMetrics) recordPoolStats(ctx context.Context, stats sql.DBStats) {
	m.poolConns.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	m.poolConns.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	m.poolConns.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
	m.poolMaxConns.Record(ctx, int64(stats.MaxOpenConnections))
}

// Stop ends pool stats collection.
func (m *DBMetrics) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}
