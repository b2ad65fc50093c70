package customersync

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erp/bcsync/internal/domain/customersync"
)

// Item result messages.
const (
	MessageNoData        = "No customer data received from i95Dev API"
	MessageWorkflowError = "i95Dev API - Error in create customer workflow"
	messageProcessedFmt  = "Processed %d customers from i95Dev API and pushed response back"
)

// ItemKind tells which shape an ItemResult serializes to.
type ItemKind int

const (
	ItemSucceeded ItemKind = iota
	ItemNoData
	ItemWorkflowFailed
	ItemUnhandled
)

// ItemResult is the outcome of one batch item.
type ItemResult struct {
	Kind      ItemKind
	Index     int
	Message   string
	Error     string
	Timestamp time.Time

	// set when Kind is ItemSucceeded
	PulledData             json.RawMessage
	TransformedData        []customersync.CanonicalTargetRecord
	BusinessCentralResults []customersync.RecordResult
	PushResponseData       []customersync.SyncOutcome
	PushResponseResult     *customersync.PushResult
	SuccessCount           int
	ErrorCount             int

	// set when Kind is ItemNoData
	PullResponse    json.RawMessage
	PullRequestBody json.RawMessage
	Debug           *customersync.PullDebug

	emails []string
}

// Success reports whether the item completed its workflow.
func (r ItemResult) Success() bool {
	return r.Kind == ItemSucceeded
}

func newSucceededItem(index int, pull *customersync.PullResult, records []customersync.CanonicalTargetRecord, run *PipelineResult, push *customersync.PushResult, at time.Time) ItemResult {
	emails := make([]string, len(records))
	for i, rec := range records {
		emails[i] = rec.Email
	}
	return ItemResult{
		Kind:                   ItemSucceeded,
		Index:                  index,
		Message:                fmt.Sprintf(messageProcessedFmt, len(records)),
		Timestamp:              at,
		PulledData:             pull.Response,
		TransformedData:        records,
		BusinessCentralResults: run.Records,
		PushResponseData:       run.Outcomes,
		PushResponseResult:     push,
		SuccessCount:           run.Succeeded,
		ErrorCount:             run.Failed,
		emails:                 emails,
	}
}

func newNoDataItem(index int, pull *customersync.PullResult, at time.Time) ItemResult {
	debug := pull.Debug
	return ItemResult{
		Kind:            ItemNoData,
		Index:           index,
		Message:         MessageNoData,
		Timestamp:       at,
		PullResponse:    pull.Response,
		PullRequestBody: pull.RequestBody,
		Debug:           &debug,
	}
}

func newWorkflowFailedItem(index int, err error, at time.Time) ItemResult {
	return ItemResult{
		Kind:      ItemWorkflowFailed,
		Index:     index,
		Message:   MessageWorkflowError,
		Error:     err.Error(),
		Timestamp: at,
	}
}

func newUnhandledItem(index int, err error) ItemResult {
	return ItemResult{Kind: ItemUnhandled, Index: index, Error: err.Error()}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// MarshalJSON renders the item in the shape matching its kind.
func (r ItemResult) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ItemSucceeded:
		pulled := r.PulledData
		if len(pulled) == 0 {
			pulled = json.RawMessage("null")
		}
		transformed := r.TransformedData
		if transformed == nil {
			transformed = []customersync.CanonicalTargetRecord{}
		}
		results := r.BusinessCentralResults
		if results == nil {
			results = []customersync.RecordResult{}
		}
		pushData := r.PushResponseData
		if pushData == nil {
			pushData = []customersync.SyncOutcome{}
		}
		return json.Marshal(struct {
			Success                bool                                 `json:"success"`
			Message                string                               `json:"message"`
			PulledData             json.RawMessage                      `json:"pulledData"`
			TransformedData        []customersync.CanonicalTargetRecord `json:"transformedData"`
			BusinessCentralResults []customersync.RecordResult          `json:"businessCentralResults"`
			PushResponseData       []customersync.SyncOutcome           `json:"pushResponseData"`
			PushResponseResult     *customersync.PushResult             `json:"pushResponseResult"`
			SuccessCount           int                                  `json:"successCount"`
			ErrorCount             int                                  `json:"errorCount"`
			Timestamp              string                               `json:"timestamp"`
		}{true, r.Message, pulled, transformed, results, pushData, r.PushResponseResult, r.SuccessCount, r.ErrorCount, formatTimestamp(r.Timestamp)})
	case ItemNoData:
		resp := r.PullResponse
		if len(resp) == 0 {
			resp = json.RawMessage("null")
		}
		return json.Marshal(struct {
			Success         bool                    `json:"success"`
			Message         string                  `json:"message"`
			PullResponse    json.RawMessage         `json:"pullResponse"`
			PullRequestBody json.RawMessage         `json:"pullRequestBody"`
			Debug           *customersync.PullDebug `json:"debug"`
			Timestamp       string                  `json:"timestamp"`
		}{false, r.Message, resp, r.PullRequestBody, r.Debug, formatTimestamp(r.Timestamp)})
	case ItemWorkflowFailed:
		return json.Marshal(struct {
			Success   bool   `json:"success"`
			Message   string `json:"message"`
			Error     string `json:"error"`
			Timestamp string `json:"timestamp"`
		}{false, r.Message, r.Error, formatTimestamp(r.Timestamp)})
	default:
		return json.Marshal(struct {
			Error string `json:"error"`
		}{r.Error})
	}
}

// ledgerRecords converts the acknowledged outcomes into ledger entries.
func (r ItemResult) ledgerRecords(runID uuid.UUID, syncedAt time.Time) []customersync.SyncRecord {
	if r.Kind != ItemSucceeded {
		return nil
	}
	out := make([]customersync.SyncRecord, 0, len(r.PushResponseData))
	for i, o := range r.PushResponseData {
		var email string
		if i < len(r.emails) {
			email = r.emails[i]
		}
		out = append(out, customersync.NewSyncRecord(runID, r.Index, i, email, o, syncedAt))
	}
	return out
}

// BatchResult is the outcome of a batch run.
type BatchResult struct {
	RunID      uuid.UUID    `json:"runId"`
	Items      []ItemResult `json:"items"`
	ArchiveKey string       `json:"archiveKey,omitempty"`
}

// BatchAbortedError stops a batch that was not allowed to continue past an
// unhandled item error. Results holds the items completed before it.
type BatchAbortedError struct {
	Index   int
	Err     error
	Results []ItemResult
}

func (e *BatchAbortedError) Error() string {
	return fmt.Sprintf("batch aborted at item %d: %v", e.Index, e.Err)
}

func (e *BatchAbortedError) Unwrap() error { return e.Err }

func (e *BatchAbortedError) Is(target error) bool { return target == customersync.ErrBatchAborted }

// ErrInvalidItem is returned for items that cannot be run.
var ErrInvalidItem = errors.New("customersync: invalid batch item")
