package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// DBTracingConfig configures InstrumentDBTracing.
type DBTracingConfig struct {
	DBName string
	// LogFullSQL keeps bound variables in the db.statement attribute.
	LogFullSQL bool
	// SlowQueryThreshold flags longer statements on their span. Zero disables it.
	SlowQueryThreshold time.Duration
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// InstrumentDBTracing creates a span per statement through otelgorm and
// annotates it with the table, affected rows and a slow flag.
func InstrumentDBTracing(db *gorm.DB, cfg DBTracingConfig) error {
	opts := []otelgorm.Option{}
	if cfg.DBName != "" {
		opts = append(opts, otelgorm.WithDBName(cfg.DBName))
	}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if cfg.TracerProvider != nil {
		opts = append(opts, otelgorm.WithTracerProvider(cfg.TracerProvider))
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return fmt.Errorf("failed to register otelgorm: %w", err)
	}

	hooks := dbHooks{
		prefix: "bcsync_tracing",
		after: func(tx *gorm.DB, verb string, elapsed time.Duration) {
			annotateStatementSpan(tx, elapsed, cfg.SlowQueryThreshold)
		},
	}
	if err := hooks.register(db); err != nil {
		return fmt.Errorf("failed to register tracing callbacks: %w", err)
	}
	return nil
}

func annotateStatementSpan(tx *gorm.DB, elapsed, slow time.Duration) {
	span := trace.SpanFromContext(tx.Statement.Context)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{attribute.Int64("db.rows_affected", tx.Statement.RowsAffected)}
	if tx.Statement.Table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", tx.Statement.Table))
	}
	if slow > 0 && elapsed > slow {
		attrs = append(attrs, attribute.Bool("db.slow_query", true))
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", slow.Milliseconds()),
		))
	}
	span.SetAttributes(attrs...)

	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		RecordError(span, tx.Error)
	}
}
