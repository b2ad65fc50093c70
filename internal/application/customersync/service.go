// Package customersync runs the i95Dev to Business Central customer sync:
// one pull, map, create and push-back cycle per batch item.
package customersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/bcsync/internal/domain/customersync"
	"github.com/erp/bcsync/internal/infrastructure/logger"
	"github.com/erp/bcsync/internal/infrastructure/telemetry"
)

// ErrLedgerDisabled is returned by ledger queries when no ledger is configured.
var ErrLedgerDisabled = errors.New("customersync: sync ledger is disabled")

// ServiceConfig holds the run defaults.
type ServiceConfig struct {
	PacketSize     int
	DataType       string
	ContinueOnFail bool
	RunLockTTL     time.Duration
}

// ItemRequest is one batch item.
type ItemRequest struct {
	PacketSize int
	DataType   string
}

// BatchRequest is a list of items run sequentially. A nil ContinueOnFail
// uses the configured default.
type BatchRequest struct {
	Items          []ItemRequest
	ContinueOnFail *bool
}

// Service orchestrates batch runs.
type Service struct {
	source      customersync.SourceSystem
	pipeline    *Pipeline
	mapper      *customersync.RecordMapper
	credentials customersync.CredentialProvider
	cfg         ServiceConfig

	guard   customersync.RunGuard
	ledger  customersync.SyncRecordRepository
	archive customersync.ResultArchive
	metrics *telemetry.SyncMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRunGuard serializes runs per client and endpoint.
func WithRunGuard(g customersync.RunGuard) ServiceOption {
	return func(s *Service) { s.guard = g }
}

// WithLedger stores every acknowledged outcome.
func WithLedger(repo customersync.SyncRecordRepository) ServiceOption {
	return func(s *Service) { s.ledger = repo }
}

// WithArchive stores the JSON results of every batch.
func WithArchive(a customersync.ResultArchive) ServiceOption {
	return func(s *Service) { s.archive = a }
}

// WithMetrics records sync metrics.
func WithMetrics(m *telemetry.SyncMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service.
func NewService(
	source customersync.SourceSystem,
	pipeline *Pipeline,
	credentials customersync.CredentialProvider,
	cfg ServiceConfig,
	opts ...ServiceOption,
) *Service {
	if cfg.PacketSize <= 0 {
		cfg.PacketSize = customersync.DefaultPacketSize
	}
	if cfg.RunLockTTL <= 0 {
		cfg.RunLockTTL = 10 * time.Minute
	}
	s := &Service{
		source:      source,
		pipeline:    pipeline,
		mapper:      customersync.NewRecordMapper(),
		credentials: credentials,
		cfg:         cfg,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ---------------------------------------------------------------------------
// Batch
// ---------------------------------------------------------------------------

// RunBatch runs the items strictly in order. Workflow failures are reported
// per item. Unhandled failures become {error} items when continuing on fail
// and otherwise abort the batch with a *BatchAbortedError.
func (s *Service) RunBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Items) == 0 {
		return nil, customersync.ErrEmptyBatch
	}
	continueOnFail := s.cfg.ContinueOnFail
	if req.ContinueOnFail != nil {
		continueOnFail = *req.ContinueOnFail
	}

	runID := uuid.New()
	ctx, log := logger.WithRunID(ctx, s.logger, runID.String())
	result := &BatchResult{RunID: runID, Items: make([]ItemResult, 0, len(req.Items))}

	creds, err := s.loadCredentials(ctx)
	if err != nil {
		if !continueOnFail {
			return nil, &BatchAbortedError{Index: 0, Err: err}
		}
		log.Warn("Credentials unavailable, failing every item", zap.Error(err))
		for i := range req.Items {
			result.Items = append(result.Items, newUnhandledItem(i, err))
			s.metrics.RecordItem(ctx, "", telemetry.ItemOutcomeUnhandled, 0)
		}
		return result, nil
	}

	if s.guard != nil {
		key := creds.RunKey()
		ok, err := s.guard.Acquire(ctx, key, s.cfg.RunLockTTL)
		if err != nil {
			return nil, fmt.Errorf("customersync: acquire run guard: %w", err)
		}
		if !ok {
			return nil, customersync.ErrSyncInProgress
		}
		defer func() {
			if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
				log.Warn("Failed to release run guard", zap.String("key", key), zap.Error(err))
			}
		}()
	}

	log.Info("Customer sync batch started", zap.Int("items", len(req.Items)))

	for i, item := range req.Items {
		itemResult, err := s.RunItem(ctx, i, creds, item)
		if err != nil {
			if !continueOnFail {
				log.Error("Customer sync batch aborted", zap.Int("item_index", i), zap.Error(err))
				return nil, &BatchAbortedError{Index: i, Err: err, Results: result.Items}
			}
			log.Warn("Customer sync item failed", zap.Int("item_index", i), zap.Error(err))
			result.Items = append(result.Items, newUnhandledItem(i, err))
			continue
		}
		result.Items = append(result.Items, itemResult)
		s.recordLedger(ctx, runID, itemResult)
	}

	result.ArchiveKey = s.archiveResults(ctx, runID, result.Items)
	log.Info("Customer sync batch finished", zap.Int("items", len(result.Items)))
	return result, nil
}

func (s *Service) loadCredentials(ctx context.Context) (customersync.Credentials, error) {
	creds, err := s.credentials.Credentials(ctx)
	if err != nil {
		return customersync.Credentials{}, fmt.Errorf("customersync: load credentials: %w", err)
	}
	creds = creds.WithDefaults()
	if err := creds.Validate(); err != nil {
		return customersync.Credentials{}, err
	}
	return creds, nil
}

func (s *Service) recordLedger(ctx context.Context, runID uuid.UUID, item ItemResult) {
	if s.ledger == nil {
		return
	}
	records := item.ledgerRecords(runID, s.now())
	if len(records) == 0 {
		return
	}
	if err := s.ledger.SaveBatch(ctx, records); err != nil {
		logger.L(ctx).Warn("Failed to write sync ledger",
			zap.Int("item_index", item.Index),
			zap.Error(err),
		)
	}
}

func (s *Service) archiveResults(ctx context.Context, runID uuid.UUID, items []ItemResult) string {
	if s.archive == nil {
		return ""
	}
	payload, err := json.Marshal(items)
	if err != nil {
		logger.L(ctx).Warn("Failed to encode batch results for archive", zap.Error(err))
		return ""
	}
	key, err := s.archive.Store(ctx, runID, s.now(), payload)
	if err != nil {
		logger.L(ctx).Warn("Failed to archive batch results", zap.Error(err))
		return ""
	}
	return key
}

// ---------------------------------------------------------------------------
// Item
// ---------------------------------------------------------------------------

// RunItem runs one pull, map, create and push-back cycle. The returned error
// is reserved for unhandled failures: invalid input and cancellation. Every
// other failure is reported in the ItemResult.
func (s *Service) RunItem(ctx context.Context, index int, creds customersync.Credentials, item ItemRequest) (ItemResult, error) {
	if item.PacketSize < 0 {
		return ItemResult{}, fmt.Errorf("%w: packet size %d must not be negative", ErrInvalidItem, item.PacketSize)
	}
	if err := ctx.Err(); err != nil {
		return ItemResult{}, err
	}

	opts := customersync.PullOptions{PacketSize: item.PacketSize, DataType: item.DataType}
	if opts.PacketSize == 0 {
		opts.PacketSize = s.cfg.PacketSize
	}
	if opts.DataType == "" {
		opts.DataType = s.cfg.DataType
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "customer_sync", "run_item",
		telemetry.WithAttribute("item_index", index),
		telemetry.WithAttribute("packet_size", opts.PacketSize),
		telemetry.WithAttribute("endpoint_code", creds.EndpointCodeBC),
	)
	defer span.End()

	start := s.now()
	result, err := s.runItem(ctx, index, creds, opts)
	elapsed := s.now().Sub(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			telemetry.RecordError(span, ctxErr)
			s.metrics.RecordItem(ctx, creds.EndpointCodeBC, telemetry.ItemOutcomeUnhandled, elapsed)
			return ItemResult{}, ctxErr
		}
		telemetry.RecordError(span, err)
		logger.L(ctx).Error("Customer sync workflow failed", zap.Int("item_index", index), zap.Error(err))
		s.metrics.RecordItem(ctx, creds.EndpointCodeBC, telemetry.ItemOutcomeWorkflowError, elapsed)
		return newWorkflowFailedItem(index, err, s.now()), nil
	}

	switch result.Kind {
	case ItemNoData:
		s.metrics.RecordItem(ctx, creds.EndpointCodeBC, telemetry.ItemOutcomeNoData, elapsed)
	default:
		s.metrics.RecordItem(ctx, creds.EndpointCodeBC, telemetry.ItemOutcomeSuccess, elapsed)
		s.metrics.RecordRecords(ctx, creds.EndpointCodeBC, result.SuccessCount, result.ErrorCount)
	}
	telemetry.SetAttributes(span, "success_count", result.SuccessCount, "error_count", result.ErrorCount)
	telemetry.SetOK(span)
	return result, nil
}

func (s *Service) runItem(ctx context.Context, index int, creds customersync.Credentials, opts customersync.PullOptions) (ItemResult, error) {
	log := logger.WithLogger(ctx, s.logger).With(zap.Int("item_index", index))

	session, err := s.source.AcquireToken(ctx, creds)
	if err != nil {
		return ItemResult{}, err
	}

	schedulerID, err := s.source.Negotiate(ctx, creds, session, customersync.PhasePull, creds.EndpointCode)
	if err != nil {
		return ItemResult{}, err
	}

	pull, err := s.source.Pull(ctx, creds, session, schedulerID, opts)
	if err != nil {
		return ItemResult{}, err
	}
	if pull.Empty() {
		log.Info("No customer data received from i95Dev", zap.String("scheduler_id", schedulerID))
		return newNoDataItem(index, pull, s.now()), nil
	}

	records, err := s.mapper.MapMany(pull.Records)
	if err != nil {
		return ItemResult{}, err
	}
	log.Debug("Customers mapped", zap.Int("records", len(records)), zap.String("envelope", pull.Envelope))

	correlations := customersync.NewCorrelationIndex(pull.Records)
	run := s.pipeline.Run(ctx, creds, records, pull.Records, correlations)
	if err := ctx.Err(); err != nil {
		return ItemResult{}, err
	}

	var push *customersync.PushResult
	if len(run.Outcomes) > 0 {
		pr := s.acknowledge(ctx, creds, session, opts.PacketSize, run.Outcomes)
		push = &pr
	}

	log.Info("Customer sync item processed",
		zap.Int("succeeded", run.Succeeded),
		zap.Int("failed", run.Failed),
		zap.Bool("pushed", push != nil && push.Success),
	)
	return newSucceededItem(index, pull, records, run, push, s.now()), nil
}

// acknowledge negotiates a push scheduler and submits the outcomes. Failures
// are folded into the PushResult. The pull session is renewed first when it
// has expired during the create loop, and once more when i95Dev answers 401.
func (s *Service) acknowledge(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession, packetSize int, outcomes []customersync.SyncOutcome) customersync.PushResult {
	log := logger.L(ctx)
	fail := func(err error) customersync.PushResult {
		s.metrics.RecordPushFailure(ctx, creds.EndpointCodeBC)
		return customersync.NewPushFailure(err)
	}

	if session.Expired(s.now()) {
		log.Debug("i95Dev session expired before push, renewing", zap.Time("expires_at", session.ExpiresAt))
		renewed, err := s.source.AcquireToken(ctx, creds)
		if err != nil {
			log.Warn("i95Dev token renewal failed", zap.Error(err))
			return fail(err)
		}
		session = renewed
	}

	result, unauthorized := s.push(ctx, creds, session, packetSize, outcomes)
	if unauthorized {
		log.Info("i95Dev rejected the session during push, renewing")
		renewed, err := s.source.AcquireToken(ctx, creds)
		if err != nil {
			log.Warn("i95Dev token renewal failed", zap.Error(err))
			return fail(err)
		}
		result, _ = s.push(ctx, creds, renewed, packetSize, outcomes)
	}
	if !result.Success {
		s.metrics.RecordPushFailure(ctx, creds.EndpointCodeBC)
	}
	return result
}

// push runs the push handshake and PushResponse once. The flag reports a 401
// from either call.
func (s *Service) push(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession, packetSize int, outcomes []customersync.SyncOutcome) (customersync.PushResult, bool) {
	schedulerID, err := s.source.Negotiate(ctx, creds, session, customersync.PhasePush, creds.EndpointCodeBC)
	if err != nil {
		logger.L(ctx).Warn("Push handshake failed", zap.Error(err))
		return customersync.NewPushFailure(err), customersync.IsUnauthorized(err)
	}
	result := s.source.Acknowledge(ctx, creds, session, schedulerID, packetSize, outcomes)
	return result, !result.Success && customersync.IsUnauthorized(result.Cause())
}

// ---------------------------------------------------------------------------
// Ledger queries
// ---------------------------------------------------------------------------

// ListRecords returns ledger entries matching the filter and the total count.
func (s *Service) ListRecords(ctx context.Context, filter customersync.SyncRecordFilter) ([]customersync.SyncRecord, int64, error) {
	if s.ledger == nil {
		return nil, 0, ErrLedgerDisabled
	}
	return s.ledger.FindAll(ctx, filter)
}

// RunRecords returns the ledger entries of one run.
func (s *Service) RunRecords(ctx context.Context, runID uuid.UUID) ([]customersync.SyncRecord, error) {
	if s.ledger == nil {
		return nil, ErrLedgerDisabled
	}
	return s.ledger.FindByRun(ctx, runID)
}
