package customersync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/erp/bcsync/internal/domain/customersync"
)

// MockSourceSystem is a mock implementation of customersync.SourceSystem
type MockSourceSystem struct {
	mock.Mock
}

func (m *MockSourceSystem) AcquireToken(ctx context.Context, creds customersync.Credentials) (*customersync.BearerSession, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*customersync.BearerSession), args.Error(1)
}

func (m *MockSourceSystem) Negotiate(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession, phase customersync.SchedulerPhase, endpointCode string) (string, error) {
	args := m.Called(ctx, creds, session, phase, endpointCode)
	return args.String(0), args.Error(1)
}

func (m *MockSourceSystem) Pull(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession, schedulerID string, opts customersync.PullOptions) (*customersync.PullResult, error) {
	args := m.Called(ctx, creds, session, schedulerID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*customersync.PullResult), args.Error(1)
}

func (m *MockSourceSystem) Acknowledge(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession, schedulerID string, packetSize int, outcomes []customersync.SyncOutcome) customersync.PushResult {
	args := m.Called(ctx, creds, session, schedulerID, packetSize, outcomes)
	return args.Get(0).(customersync.PushResult)
}

// MockTargetSystem is a mock implementation of customersync.TargetSystem
type MockTargetSystem struct {
	mock.Mock
}

func (m *MockTargetSystem) AcquireToken(ctx context.Context, creds customersync.Credentials) (*customersync.BearerSession, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*customersync.BearerSession), args.Error(1)
}

func (m *MockTargetSystem) FirstCompanyID(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession) (string, error) {
	args := m.Called(ctx, creds, session)
	return args.String(0), args.Error(1)
}

func (m *MockTargetSystem) CreateCustomer(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession, companyID string, rec customersync.CanonicalTargetRecord) (*customersync.CreatedCustomer, error) {
	args := m.Called(ctx, creds, session, companyID, rec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*customersync.CreatedCustomer), args.Error(1)
}

// MockCredentialProvider is a mock implementation of customersync.CredentialProvider
type MockCredentialProvider struct {
	mock.Mock
}

func (m *MockCredentialProvider) Credentials(ctx context.Context) (customersync.Credentials, error) {
	args := m.Called(ctx)
	return args.Get(0).(customersync.Credentials), args.Error(1)
}

// MockRunGuard is a mock implementation of customersync.RunGuard
type MockRunGuard struct {
	mock.Mock
}

func (m *MockRunGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockRunGuard) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockSyncRecordRepository is a mock implementation of customersync.SyncRecordRepository
type MockSyncRecordRepository struct {
	mock.Mock
}

func (m *MockSyncRecordRepository) SaveBatch(ctx context.Context, records []customersync.SyncRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockSyncRecordRepository) FindByRun(ctx context.Context, runID uuid.UUID) ([]customersync.SyncRecord, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]customersync.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) FindAll(ctx context.Context, filter customersync.SyncRecordFilter) ([]customersync.SyncRecord, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]customersync.SyncRecord), args.Get(1).(int64), args.Error(2)
}

// MockResultArchive is a mock implementation of customersync.ResultArchive
type MockResultArchive struct {
	mock.Mock
}

func (m *MockResultArchive) Store(ctx context.Context, runID uuid.UUID, at time.Time, payload []byte) (string, error) {
	args := m.Called(ctx, runID, at, payload)
	return args.String(0), args.Error(1)
}

// Helper functions

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func fixedClock() time.Time { return fixedNow }

func testCredentials() customersync.Credentials {
	return customersync.Credentials{
		BaseURL:         "https://i95.example.com",
		RefreshToken:    "refresh",
		ClientID:        "client-1",
		SubscriptionKey: "sub-key",
		InstanceType:    customersync.InstanceTypeStaging,
		EndpointCode:    "MAGENTO",
		EndpointCodeBC:  "BC",
		TenantID:        "tenant-1",
		ClientIDBC:      "bc-client",
		ClientSecretBC:  "bc-secret",
		Environment:     "Sandbox",
	}
}

func sourceRecord(email, reference, sourceID string, messageID int) customersync.SourceRecord {
	raw, _ := json.Marshal(map[string]any{
		"reference": reference,
		"sourceId":  sourceID,
		"messageId": messageID,
		"inputData": map[string]any{
			"firstName": "First",
			"lastName":  reference,
			"email":     email,
		},
	})
	return customersync.NewSourceRecord(raw)
}

func mappedRecord(email, reference string) customersync.CanonicalTargetRecord {
	return customersync.CanonicalTargetRecord{
		DisplayName: "First " + reference,
		Type:        customersync.CustomerTypeCompany,
		Email:       email,
		TaxLiable:   true,
	}
}

func targetSessionFor(token string) *customersync.BearerSession {
	return &customersync.BearerSession{System: customersync.SystemTarget, Token: token}
}
