package customersync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SchedulerPhase is the scheduler type negotiated with i95Dev.
type SchedulerPhase string

const (
	PhasePull SchedulerPhase = "PullData"
	PhasePush SchedulerPhase = "PushResponse"
)

// PullOptions tunes a single pull request.
type PullOptions struct {
	PacketSize int
	DataType   string // PullData route segment, Customer when empty
}

// PullDebug summarizes the shape of a pull response for the no-data result.
// The Has* fields are "yes" or "no".
type PullDebug struct {
	ResponseType string `json:"responseType"`
	IsArray      bool   `json:"isArray"`
	HasData      string `json:"hasData"`
	HasResult    string `json:"hasResult"`
	HasCustomers string `json:"hasCustomers"`
	HasItems     string `json:"hasItems"`
}

// PullResult is a normalized pull response.
type PullResult struct {
	Records     []SourceRecord
	Envelope    string
	Response    json.RawMessage
	RequestBody json.RawMessage
	Debug       PullDebug
}

// Empty reports whether the pull produced no records.
func (r *PullResult) Empty() bool {
	return r == nil || len(r.Records) == 0
}

// SourceSystem is the i95Dev side of the sync.
type SourceSystem interface {
	AcquireToken(ctx context.Context, creds Credentials) (*BearerSession, error)
	Negotiate(ctx context.Context, creds Credentials, session *BearerSession, phase SchedulerPhase, endpointCode string) (string, error)
	Pull(ctx context.Context, creds Credentials, session *BearerSession, schedulerID string, opts PullOptions) (*PullResult, error)
	Acknowledge(ctx context.Context, creds Credentials, session *BearerSession, schedulerID string, packetSize int, outcomes []SyncOutcome) PushResult
}

// TargetSystem is the Business Central side of the sync.
type TargetSystem interface {
	AcquireToken(ctx context.Context, creds Credentials) (*BearerSession, error)
	FirstCompanyID(ctx context.Context, creds Credentials, session *BearerSession) (string, error)
	CreateCustomer(ctx context.Context, creds Credentials, session *BearerSession, companyID string, rec CanonicalTargetRecord) (*CreatedCustomer, error)
}

// CredentialProvider supplies the credentials for a run.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// RunGuard serializes runs for the same client/endpoint pair.
type RunGuard interface {
	// Acquire returns false when another run holds the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// ResultArchive stores the full JSON results of a batch and returns the key
// they were stored under.
type ResultArchive interface {
	Store(ctx context.Context, runID uuid.UUID, at time.Time, payload []byte) (string, error)
}
