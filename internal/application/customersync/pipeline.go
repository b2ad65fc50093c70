package customersync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/erp/bcsync/internal/domain/customersync"
	"github.com/erp/bcsync/internal/infrastructure/logger"
)

// PipelineResult is the outcome of creating one packet of customers.
type PipelineResult struct {
	Records   []customersync.RecordResult
	Outcomes  []customersync.SyncOutcome
	Succeeded int
	Failed    int
}

// Pipeline creates customers in Business Central one record at a time. A
// failed record never stops the records after it.
type Pipeline struct {
	target customersync.TargetSystem
	logger *zap.Logger
	now    func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineClock overrides the clock used for lastSyncTime.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(target customersync.TargetSystem, log *zap.Logger, opts ...PipelineOption) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{target: target, logger: log, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// targetSession holds the token and company shared by all records of a run.
type targetSession struct {
	creds     customersync.Credentials
	session   *customersync.BearerSession
	companyID string
}

// Run creates every record. records and sources are index aligned: records[i]
// was mapped from sources[i].
func (p *Pipeline) Run(ctx context.Context, creds customersync.Credentials, records []customersync.CanonicalTargetRecord, sources []customersync.SourceRecord, index *customersync.CorrelationIndex) *PipelineResult {
	result := &PipelineResult{
		Records:  make([]customersync.RecordResult, 0, len(records)),
		Outcomes: make([]customersync.SyncOutcome, 0, len(records)),
	}
	ts := &targetSession{creds: creds}
	log := logger.WithLogger(ctx, p.logger)

	for i, rec := range records {
		var src customersync.SourceRecord
		if i < len(sources) {
			src = sources[i]
		}
		corr, _ := index.Lookup(rec.Email, src.CorrelationKey(), src.Reference)
		originalData := src.Reference
		if originalData == "" {
			originalData = rec.Email
		}

		created, err := p.create(ctx, ts, rec)
		if err != nil {
			syncErr := &customersync.RecordSyncError{Index: i, Email: rec.Email, Err: err}
			outcome := customersync.NewFailureOutcome(rec, corr, src.Reference, syncErr, p.now())
			result.Outcomes = append(result.Outcomes, outcome)
			result.Records = append(result.Records, customersync.RecordResult{
				Success:             false,
				OriginalData:        originalData,
				TransformedData:     rec,
				Error:               syncErr.Error(),
				PushResponseMapping: outcome,
			})
			result.Failed++
			log.Warn("Failed to create customer in Business Central",
				zap.Int("record_index", i),
				zap.String("email", rec.Email),
				zap.Error(err),
			)
			continue
		}

		outcome := customersync.NewSuccessOutcome(rec, corr, src.Reference, *created, p.now())
		result.Outcomes = append(result.Outcomes, outcome)
		result.Records = append(result.Records, customersync.RecordResult{
			Success:             true,
			OriginalData:        originalData,
			TransformedData:     rec,
			BCResponse:          created,
			PushResponseMapping: outcome,
		})
		result.Succeeded++
		log.Info("Customer created in Business Central",
			zap.Int("record_index", i),
			zap.String("customer_number", created.Number),
		)
	}

	return result
}

// create resolves the shared session and company, then creates the record.
// A 401 drops the session and retries once with a fresh token.
func (p *Pipeline) create(ctx context.Context, ts *targetSession, rec customersync.CanonicalTargetRecord) (*customersync.CreatedCustomer, error) {
	var created *customersync.CreatedCustomer
	err := p.withSession(ctx, ts, func(session *customersync.BearerSession) error {
		if ts.companyID == "" {
			companyID, err := p.target.FirstCompanyID(ctx, ts.creds, session)
			if err != nil {
				return err
			}
			ts.companyID = companyID
		}
		var err error
		created, err = p.target.CreateCustomer(ctx, ts.creds, session, ts.companyID, rec)
		return err
	})
	return created, err
}

func (p *Pipeline) withSession(ctx context.Context, ts *targetSession, fn func(*customersync.BearerSession) error) error {
	session, err := p.session(ctx, ts)
	if err != nil {
		return err
	}

	err = fn(session)
	if err == nil || !customersync.IsUnauthorized(err) {
		return err
	}

	p.logger.Debug("Business Central rejected token, re-acquiring")
	ts.session = nil
	session, err = p.session(ctx, ts)
	if err != nil {
		return err
	}
	return fn(session)
}

func (p *Pipeline) session(ctx context.Context, ts *targetSession) (*customersync.BearerSession, error) {
	if !ts.session.Expired(p.now()) {
		return ts.session, nil
	}
	session, err := p.target.AcquireToken(ctx, ts.creds)
	if err != nil {
		return nil, err
	}
	ts.session = session
	return session, nil
}
