package handler

import (
	"time"

	"github.com/google/uuid"

	syncapp "github.com/erp/bcsync/internal/application/customersync"
	"github.com/erp/bcsync/internal/domain/customersync"
)

// RunBatchRequest starts a batch. Items run in order.
type RunBatchRequest struct {
	Items          []RunItemRequest `json:"items" binding:"required,min=1,max=50,dive"`
	ContinueOnFail *bool            `json:"continueOnFail"`
}

// RunItemRequest is one pull cycle. Zero values use the configured defaults.
type RunItemRequest struct {
	PacketSize *int   `json:"packetSize" binding:"omitempty,min=1,max=500"`
	DataType   string `json:"dataType" binding:"omitempty,max=64,alphanum"`
}

// ToBatchRequest converts the request to the application input.
func (r RunBatchRequest) ToBatchRequest() syncapp.BatchRequest {
	items := make([]syncapp.ItemRequest, len(r.Items))
	for i, item := range r.Items {
		if item.PacketSize != nil {
			items[i].PacketSize = *item.PacketSize
		}
		items[i].DataType = item.DataType
	}
	return syncapp.BatchRequest{Items: items, ContinueOnFail: r.ContinueOnFail}
}

// SyncRecordListRequest filters ledger entries.
type SyncRecordListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	RunID    string `form:"run_id" binding:"omitempty,uuid"`
	Email    string `form:"email" binding:"omitempty,max=254"`
	StatusID *int   `form:"status_id" binding:"omitempty,oneof=0 1"`
}

// ToFilter converts the query to a ledger filter with defaults applied.
func (r SyncRecordListRequest) ToFilter() customersync.SyncRecordFilter {
	filter := customersync.DefaultSyncRecordFilter()
	if r.Page > 0 {
		filter.Page = r.Page
	}
	if r.PageSize > 0 {
		filter.PageSize = r.PageSize
	}
	if r.RunID != "" {
		if id, err := uuid.Parse(r.RunID); err == nil {
			filter.RunID = &id
		}
	}
	filter.Email = r.Email
	filter.StatusID = r.StatusID
	return filter
}

// SyncRecordResponse is one ledger entry.
type SyncRecordResponse struct {
	ID          string `json:"id"`
	RunID       string `json:"runId"`
	ItemIndex   int    `json:"itemIndex"`
	RecordIndex int    `json:"recordIndex"`
	SourceID    string `json:"sourceId"`
	MessageID   string `json:"messageId"`
	TargetID    string `json:"targetId"`
	Reference   string `json:"reference"`
	Email       string `json:"email"`
	StatusID    int    `json:"statusId"`
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	SyncedAt    string `json:"syncedAt"`
}

// ToSyncRecordResponses converts ledger entries for the API.
func ToSyncRecordResponses(records []customersync.SyncRecord) []SyncRecordResponse {
	out := make([]SyncRecordResponse, len(records))
	for i, r := range records {
		out[i] = SyncRecordResponse{
			ID:          r.ID.String(),
			RunID:       r.RunID.String(),
			ItemIndex:   r.ItemIndex,
			RecordIndex: r.RecordIndex,
			SourceID:    r.SourceID,
			MessageID:   r.MessageID,
			TargetID:    r.TargetID,
			Reference:   r.Reference,
			Email:       r.Email,
			StatusID:    r.StatusID,
			Success:     r.Success,
			Message:     r.Message,
			SyncedAt:    r.SyncedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}
