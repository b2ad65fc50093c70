package customersync

import (
	"encoding/json"
	"time"
)

// Status ids reported back to i95Dev.
const (
	StatusFailure = 0
	StatusSuccess = 1
)

const (
	successMessagePrefix = "Customer created successfully in Business Central with number: "
	failureMessagePrefix = "Error creating customer in Business Central: "
)

// SyncOutcome is one entry of the acknowledgment pushed back to i95Dev.
type SyncOutcome struct {
	SourceID        string `json:"sourceId"`
	TargetID        string `json:"targetId"`
	Reference       string `json:"reference"`
	Message         string `json:"message"`
	Result          bool   `json:"result"`
	InputData       string `json:"inputData"`
	MessageID       any    `json:"messageId"`
	StatusID        int    `json:"statusId"`
	LastSyncTime    string `json:"lastSyncTime"`
	AdditionalProp1 string `json:"additionalProp1"`
	AdditionalProp2 string `json:"additionalProp2"`
	AdditionalProp3 string `json:"additionalProp3"`
}

// NewSuccessOutcome builds the acknowledgment for a created customer.
func NewSuccessOutcome(rec CanonicalTargetRecord, corr Correlation, fallbackSourceID string, created CreatedCustomer, at time.Time) SyncOutcome {
	return SyncOutcome{
		SourceID:        sourceIDOrFallback(corr, fallbackSourceID),
		TargetID:        created.TargetID(),
		Reference:       created.Number,
		Message:         successMessagePrefix + created.Number,
		Result:          true,
		InputData:       rec.JSON(),
		MessageID:       messageIDOrZero(corr),
		StatusID:        StatusSuccess,
		LastSyncTime:    formatSyncTime(at),
		AdditionalProp1: created.DisplayName,
		AdditionalProp2: created.Email,
		AdditionalProp3: created.ID,
	}
}

// NewFailureOutcome builds the acknowledgment for a failed create.
func NewFailureOutcome(rec CanonicalTargetRecord, corr Correlation, fallbackSourceID string, cause error, at time.Time) SyncOutcome {
	return SyncOutcome{
		SourceID:     sourceIDOrFallback(corr, fallbackSourceID),
		Message:      failureMessagePrefix + cause.Error(),
		Result:       false,
		InputData:    rec.JSON(),
		MessageID:    messageIDOrZero(corr),
		StatusID:     StatusFailure,
		LastSyncTime: formatSyncTime(at),
	}
}

func sourceIDOrFallback(corr Correlation, fallback string) string {
	if corr.SourceID != "" {
		return corr.SourceID
	}
	return fallback
}

func messageIDOrZero(corr Correlation) any {
	switch v := corr.MessageID.(type) {
	case nil:
		return 0
	case string:
		if v == "" {
			return 0
		}
	case json.Number:
		if v == "" || v == "0" {
			return 0
		}
	}
	return corr.MessageID
}

func formatSyncTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// RecordResult is the per-record detail returned to the caller alongside
// the acknowledgment entry.
type RecordResult struct {
	Success             bool                  `json:"success"`
	OriginalData        string                `json:"originalData"`
	TransformedData     CanonicalTargetRecord `json:"transformedData"`
	BCResponse          *CreatedCustomer      `json:"bcResponse,omitempty"`
	Error               string                `json:"error,omitempty"`
	PushResponseMapping SyncOutcome           `json:"pushResponseMapping"`
}

// PushResult is the outcome of acknowledging a batch. Failures are carried
// here rather than returned.
type PushResult struct {
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Response json.RawMessage `json:"-"`

	cause error
}

// Cause returns the error behind a failed push, or nil.
func (p PushResult) Cause() error {
	return p.cause
}

// MarshalJSON renders the raw i95Dev response on success and the degraded
// form on failure.
func (p PushResult) MarshalJSON() ([]byte, error) {
	if p.Success {
		if len(p.Response) > 0 {
			return p.Response, nil
		}
		return []byte(`{"success":true}`), nil
	}
	type degraded struct {
		Error   string `json:"error"`
		Success bool   `json:"success"`
	}
	return json.Marshal(degraded{Error: p.Error, Success: false})
}

// NewPushFailure wraps an acknowledgment failure in the degraded form.
func NewPushFailure(err error) PushResult {
	return PushResult{Success: false, Error: "Failed to push response: " + err.Error(), cause: err}
}

// BearerSession is an access token for one system. A zero ExpiresAt means
// the expiry is unknown.
type BearerSession struct {
	System    System
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the session has passed its expiry, with a small
// leeway so a token does not lapse mid-request.
func (s *BearerSession) Expired(now time.Time) bool {
	if s == nil || s.Token == "" {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(30 * time.Second).Before(s.ExpiresAt)
}
