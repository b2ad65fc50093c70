package customersync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncRecord is the ledger entry kept for every acknowledged outcome.
type SyncRecord struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	ItemIndex   int
	RecordIndex int
	SourceID    string
	MessageID   string
	TargetID    string
	Reference   string
	Email       string
	StatusID    int
	Success     bool
	Message     string
	SyncedAt    time.Time
	CreatedAt   time.Time
}

// NewSyncRecord builds a ledger entry from an outcome.
func NewSyncRecord(runID uuid.UUID, itemIndex, recordIndex int, email string, o SyncOutcome, syncedAt time.Time) SyncRecord {
	return SyncRecord{
		ID:          uuid.New(),
		RunID:       runID,
		ItemIndex:   itemIndex,
		RecordIndex: recordIndex,
		SourceID:    o.SourceID,
		MessageID:   formatMessageID(o.MessageID),
		TargetID:    o.TargetID,
		Reference:   o.Reference,
		Email:       email,
		StatusID:    o.StatusID,
		Success:     o.Result,
		Message:     o.Message,
		SyncedAt:    syncedAt,
	}
}

func formatMessageID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// SyncRecordFilter narrows ledger queries.
type SyncRecordFilter struct {
	RunID    *uuid.UUID
	Email    string
	StatusID *int
	Page     int
	PageSize int
}

// DefaultSyncRecordFilter returns the first page of 20 entries.
func DefaultSyncRecordFilter() SyncRecordFilter {
	return SyncRecordFilter{Page: 1, PageSize: 20}
}

// SyncRecordRepository persists ledger entries.
type SyncRecordRepository interface {
	SaveBatch(ctx context.Context, records []SyncRecord) error
	FindByRun(ctx context.Context, runID uuid.UUID) ([]SyncRecord, error)
	FindAll(ctx context.Context, filter SyncRecordFilter) ([]SyncRecord, int64, error)
}
