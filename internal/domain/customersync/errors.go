package customersync

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels matched with errors.Is against the typed errors below.
var (
	ErrAuth       = errors.New("customersync: authentication failed")
	ErrProtocol   = errors.New("customersync: scheduler handshake failed")
	ErrPull       = errors.New("customersync: pull failed")
	ErrMapping    = errors.New("customersync: record mapping failed")
	ErrRecordSync = errors.New("customersync: record sync failed")
	ErrPush       = errors.New("customersync: push failed")

	ErrNoCompany       = errors.New("customersync: no company found in Business Central environment")
	ErrSyncInProgress  = errors.New("customersync: a sync run is already in progress for this endpoint")
	ErrBatchAborted    = errors.New("customersync: batch aborted")
	ErrEmptyBatch      = errors.New("customersync: batch contains no items")
	ErrMalformedRecord = errors.New("customersync: malformed source record")
)

// System names one of the two remote parties.
type System string

const (
	SystemSource System = "i95dev"
	SystemTarget System = "business_central"
)

// StatusError is returned by the HTTP adapters for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed with status code %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status code %d: %s", e.StatusCode, e.Body)
}

// IsUnauthorized reports whether err carries an HTTP 401.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// AuthError reports a failed token acquisition for either system.
type AuthError struct {
	System System
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s token acquisition failed: %v", e.System, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// ProtocolError reports a handshake that did not yield a scheduler id.
type ProtocolError struct {
	Phase SchedulerPhase
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s handshake failed: %v", e.Phase, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// PullError reports a pull request that could not be completed.
// Bodies that merely lack data are not errors.
type PullError struct {
	Err error
}

func (e *PullError) Error() string {
	return fmt.Sprintf("pull data failed: %v", e.Err)
}

func (e *PullError) Unwrap() error { return e.Err }

func (e *PullError) Is(target error) bool { return target == ErrPull }

// MappingError reports the first record that could not be transformed.
type MappingError struct {
	Index int
	Err   error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping record %d failed: %v", e.Index, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

func (e *MappingError) Is(target error) bool { return target == ErrMapping }

// RecordSyncError reports a failed customer create for one record.
// It is carried as data on the outcome and never aborts a batch.
type RecordSyncError struct {
	Index int
	Email string
	Err   error
}

func (e *RecordSyncError) Error() string {
	return e.Err.Error()
}

func (e *RecordSyncError) Unwrap() error { return e.Err }

func (e *RecordSyncError) Is(target error) bool { return target == ErrRecordSync }

// PushError reports a failed acknowledgment submission.
type PushError struct {
	Err error
}

func (e *PushError) Error() string {
	return e.Err.Error()
}

func (e *PushError) Unwrap() error { return e.Err }

func (e *PushError) Is(target error) bool { return target == ErrPush }

// IsWorkflowError reports whether err belongs to the taxonomy that fails a
// single item without being treated as an unhandled error.
func IsWorkflowError(err error) bool {
	return errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrPull) ||
		errors.Is(err, ErrMapping)
}
