package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ItemOutcome labels how a batch item ended.
type ItemOutcome string

const (
	ItemOutcomeSuccess       ItemOutcome = "success"
	ItemOutcomeNoData        ItemOutcome = "no_data"
	ItemOutcomeWorkflowError ItemOutcome = "workflow_error"
	ItemOutcomeUnhandled     ItemOutcome = "unhandled"
)

// SyncMetrics tracks customer sync activity. A nil *SyncMetrics records nothing.
type SyncMetrics struct {
	logger *zap.Logger

	itemsTotal        *Counter
	recordsTotal      *Counter
	pushFailuresTotal *Counter
	itemDuration      *Histogram
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewSyncMetrics creates the sync instruments on the given meter.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{logger: logger}

	var err error
	sm.itemsTotal, err = NewCounter(
		cfg.Meter,
		"bcsync_items_total",
		"Total number of batch items processed",
		"{items}",
	)
	if err != nil {
		return nil, err
	}

	sm.recordsTotal, err = NewCounter(
		cfg.Meter,
		"bcsync_records_total",
		"Total number of customer records sent to Business Central",
		"{records}",
	)
	if err != nil {
		return nil, err
	}

	sm.pushFailuresTotal, err = NewCounter(
		cfg.Meter,
		"bcsync_push_failures_total",
		"Total number of failed push-back acknowledgments",
		"{pushes}",
	)
	if err != nil {
		return nil, err
	}

	sm.itemDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "bcsync_item_duration_seconds",
		Description: "Duration of a single batch item",
		Unit:        "s",
		Boundaries:  ItemDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	return sm, nil
}

// RecordItem records a finished item and its duration.
func (sm *SyncMetrics) RecordItem(ctx context.Context, endpointCode string, outcome ItemOutcome, d time.Duration) {
	if sm == nil {
		return
	}
	sm.itemsTotal.Inc(ctx,
		AttrEndpointCode.String(endpointCode),
		AttrItemOutcome.String(string(outcome)),
	)
	sm.itemDuration.RecordDuration(ctx, d,
		AttrEndpointCode.String(endpointCode),
		AttrItemOutcome.String(string(outcome)),
	)
}

// RecordRecords records the per-record create results of an item.
func (sm *SyncMetrics) RecordRecords(ctx context.Context, endpointCode string, succeeded, failed int) {
	if sm == nil {
		return
	}
	if succeeded > 0 {
		sm.recordsTotal.Add(ctx, int64(succeeded),
			AttrEndpointCode.String(endpointCode),
			AttrRecordResult.String("success"),
		)
	}
	if failed > 0 {
		sm.recordsTotal.Add(ctx, int64(failed),
			AttrEndpointCode.String(endpointCode),
			AttrRecordResult.String("failure"),
		)
	}
}

// RecordPushFailure records a failed acknowledgment.
func (sm *SyncMetrics) RecordPushFailure(ctx context.Context, endpointCode string) {
	if sm == nil {
		return
	}
	sm.pushFailuresTotal.Inc(ctx, AttrEndpointCode.String(endpointCode))
}

// ErrMeterNil is returned when no meter is supplied.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")
