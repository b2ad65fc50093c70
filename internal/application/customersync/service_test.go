package customersync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/erp/bcsync/internal/domain/customersync"
)

type serviceFixture struct {
	source  *MockSourceSystem
	target  *MockTargetSystem
	creds   *MockCredentialProvider
	guard   *MockRunGuard
	ledger  *MockSyncRecordRepository
	archive *MockResultArchive
}

func newServiceFixture() *serviceFixture {
	return &serviceFixture{
		source:  new(MockSourceSystem),
		target:  new(MockTargetSystem),
		creds:   new(MockCredentialProvider),
		guard:   new(MockRunGuard),
		ledger:  new(MockSyncRecordRepository),
		archive: new(MockResultArchive),
	}
}

func (f *serviceFixture) service(cfg ServiceConfig, opts ...ServiceOption) *Service {
	pipeline := NewPipeline(f.target, nil, WithPipelineClock(fixedClock))
	opts = append([]ServiceOption{WithClock(fixedClock)}, opts...)
	return NewService(f.source, pipeline, f.creds, cfg, opts...)
}

var sourceSession = &customersync.BearerSession{System: customersync.SystemSource, Token: "i95-token"}

func pullOf(records ...customersync.SourceRecord) *customersync.PullResult {
	raws := make([]json.RawMessage, len(records))
	for i, r := range records {
		raws[i] = r.Raw
	}
	body, _ := json.Marshal(map[string]any{"resultData": raws})
	return &customersync.PullResult{
		Records:     records,
		Envelope:    "resultData",
		Response:    body,
		RequestBody: json.RawMessage(`{"PacketSize":5}`),
	}
}

// expectPull wires the source side up to and including the pull.
func (f *serviceFixture) expectPull(creds customersync.Credentials, pull *customersync.PullResult) {
	f.source.On("AcquireToken", mock.Anything, creds).Return(sourceSession, nil)
	f.expectPullWith(creds, sourceSession, pull)
}

// expectPullWith wires the pull handshake and pull for a session the test
// hands out itself.
func (f *serviceFixture) expectPullWith(creds customersync.Credentials, session *customersync.BearerSession, pull *customersync.PullResult) {
	f.source.On("Negotiate", mock.Anything, creds, session, customersync.PhasePull, "MAGENTO").Return("sched-pull", nil)
	f.source.On("Pull", mock.Anything, creds, session, "sched-pull", customersync.PullOptions{PacketSize: 5}).Return(pull, nil)
}

// expectCreates makes every create succeed.
func (f *serviceFixture) expectCreates(creds customersync.Credentials) {
	session := targetSessionFor("bc-1")
	f.target.On("AcquireToken", mock.Anything, creds).Return(session, nil)
	f.target.On("FirstCompanyID", mock.Anything, creds, session).Return("company-1", nil)
	f.target.On("CreateCustomer", mock.Anything, creds, session, "company-1", mock.Anything).
		Return(&customersync.CreatedCustomer{ID: "g-1", Number: "C001"}, nil)
}

func outcomesOfLen(n int) interface{} {
	return mock.MatchedBy(func(o []customersync.SyncOutcome) bool { return len(o) == n })
}

// ---------------------------------------------------------------------------
// RunItem
// ---------------------------------------------------------------------------

func TestService_RunItem_Success(t *testing.T) {
	f := newServiceFixture()
	creds := testCredentials()
	f.expectPull(creds, pullOf(
		sourceRecord("a@example.com", "REF-A", "SRC-A", 100),
		sourceRecord("b@example.com", "REF-B", "SRC-B", 101),
	))
	f.expectCreates(creds)
	f.source.On("Negotiate", mock.Anything, creds, sourceSession, customersync.PhasePush, "BC").Return("sched-push", nil)
	f.source.On("Acknowledge", mock.Anything, creds, sourceSession, "sched-push", 5, outcomesOfLen(2)).
		Return(customersync.PushResult{Success: true, Response: json.RawMessage(`{"result":true}`)})

	result, err := f.service(ServiceConfig{}).RunItem(context.Background(), 0, creds, ItemRequest{})
	require.NoError(t, err)

	assert.Equal(t, ItemSucceeded, result.Kind)
	assert.True(t, result.Success())
	assert.Equal(t, "Processed 2 customers from i95Dev API and pushed response back", result.Message)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.ErrorCount)
	require.Len(t, result.TransformedData, 2)
	assert.Equal(t, mappedRecord("a@example.com", "REF-A"), result.TransformedData[0])
	require.NotNil(t, result.PushResponseResult)
	assert.True(t, result.PushResponseResult.Success)

	out, err := json.Marshal(result)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, true, decoded["success"])
	assert.Equal(t, "2026-03-14T09:26:53.589Z", decoded["timestamp"])
	assert.Equal(t, map[string]any{"result": true}, decoded["pushResponseResult"])
	assert.Len(t, decoded["pushResponseData"], 2)
	assert.Len(t, decoded["businessCentralResults"], 2)
	assert.Contains(t, decoded, "pulledData")

	f.source.AssertExpectations(t)
	f.target.AssertExpectations(t)
}

func TestService_RunItem_EmptyPull(t *testing.T) {
	f := newServiceFixture()
	creds := testCredentials()
	pull := &customersync.PullResult{
		Response:    json.RawMessage(`{"message":"no records"}`),
		RequestBody: json.RawMessage(`{"PacketSize":5}`),
		Debug:       customersync.PullDebug{ResponseType: "object", HasData: "no", HasResult: "no", HasCustomers: "no", HasItems: "no"},
	}
	f.expectPull(creds, pull)

	result, err := f.service(ServiceConfig{}).RunItem(context.Background(), 0, creds, ItemRequest{})
	require.NoError(t, err)

	assert.Equal(t, ItemNoData, result.Kind)
	assert.Equal(t, MessageNoData, result.Message)
	require.NotNil(t, result.Debug)
	assert.Equal(t, "object", result.Debug.ResponseType)

	out, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": false,
		"message": "No customer data received from i95Dev API",
		"pullResponse": {"message":"no records"},
		"pullRequestBody": {"PacketSize":5},
		"debug": {"responseType":"object","isArray":false,"hasData":"no","hasResult":"no","hasCustomers":"no","hasItems":"no"},
		"timestamp": "2026-03-14T09:26:53.589Z"
	}`, string(out))

	f.target.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.source.AssertNotCalled(t, "Acknowledge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_RunItem_PushHandshakeFailureKeepsOutcomes(t *testing.T) {
	f := newServiceFixture()
	creds := testCredentials()
	f.expectPull(creds, pullOf(sourceRecord("a@example.com", "REF-A", "SRC-A", 100)))
	f.expectCreates(creds)
	handshakeErr := &customersync.ProtocolError{Phase: customersync.PhasePush, Err: errors.New("schedulerId missing")}
	f.source.On("Negotiate", mock.Anything, creds, sourceSession, customersync.PhasePush, "BC").Return("", handshakeErr)

	result, err := f.service(ServiceConfig{}).RunItem(context.Background(), 0, creds, ItemRequest{})
	require.NoError(t, err)

	assert.Equal(t, ItemSucceeded, result.Kind)
	assert.Equal(t, 1, result.SuccessCount)
	require.Len(t, result.PushResponseData, 1)
	require.NotNil(t, result.PushResponseResult)
	assert.False(t, result.PushResponseResult.Success)
	assert.Contains(t, result.PushResponseResult.Error, "Failed to push response: ")
	f.source.AssertNotCalled(t, "Acknowledge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_RunItem_AcknowledgeFailureIsSoft(t *testing.T) {
	f := newServiceFixture()
	creds := testCredentials()
	f.expectPull(creds, pullOf(sourceRecord("a@example.com", "REF-A", "SRC-A", 100)))
	f.expectCreates(creds)
	f.source.On("Negotiate", mock.Anything, creds, sourceSession, customersync.PhasePush, "BC").Return("sched-push", nil)
	f.source.On("Acknowledge", mock.Anything, creds, sourceSession, "sched-push", 5, outcomesOfLen(1)).
		Return(customersync.PushResult{Success: false, Error: "Failed to push response: request failed with status code 502"})

	result, err := f.service(ServiceConfig{}).RunItem(context.Background(), 0, creds, ItemRequest{})
	require.NoError(t, err)

	assert.True(t, result.Success())
	out, err := json.Marshal(result)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, map[string]any{
		"error":   "Failed to push response: request failed with status code 502",
		"success": false,
	}, decoded["pushResponseResult"])
}

func TestService_RunItem_RenewsExpiredSourceSessionBeforePush(t *testing.T) {
	f := newServiceFixture()
	creds := testCredentials()
	stale := &customersync.BearerSession{System: customersync.SystemSource, Token: "i95-stale", ExpiresAt: fixedNow.Add(-time.Minute)}
	fresh := &customersync.BearerSession{System: customersync.SystemSource, Token: "i95-fresh", ExpiresAt: fixedNow.Add(time.Hour)}

	var calls []string
	track := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) { calls = append(calls, name) }
	}
	f.source.On("AcquireToken", mock.Anything, creds).Return(stale, nil).Once().Run(track("token"))
	f.source.On("AcquireToken", mock.Anything, creds).Return(fresh, nil).Once().Run(track("token"))
	f.expectPullWith(creds, stale, pullOf(sourceRecord("a@example.com", "REF-A", "SRC-A", 100)))
	f.expectCreates(creds)
	f.source.On("Negotiate", mock.Anything, creds, fresh, customersync.PhasePush, "BC").
		Return("sched-push", nil).Run(track("push-handshake"))
	f.source.On("Acknowledge", mock.Anything, creds, fresh, "sched-push", 5, outcomesOfLen(1)).
		Return(customersync.PushResult{Success: true})

	result, err := f.service(ServiceConfig{}).RunItem(context.Background(), 0, creds, ItemRequest{})
	require.NoError(t, err)

	require.NotNil(t, result.PushResponseResult)
	assert.True(t, result.PushResponseResult.Success)
	assert.Equal(t, []string{"token", "token", "push-handshake"}, calls)
	f.source.AssertNotCalled(t, "Negotiate", mock.Anything, creds, stale, customersync.PhasePush, "BC")
	f.source.AssertExpectations(t)
}

func TestService_RunItem_RetriesPushOnceAfterUnauthorized(t *testing.T) {
	unauthorized := &customersync.StatusError{StatusCode: 401}
	renewed := &customersync.BearerSession{System: customersync.SystemSource, Token: "i95-renewed"}

	t.Run("handshake rejected", func(t *testing.T) {
		f := newServiceFixture()
		creds := testCredentials()
		f.source.On("AcquireToken", mock.Anything, creds).Return(sourceSession, nil).Once()
		f.source.On("AcquireToken", mock.Anything, creds).Return(renewed, nil).Once()
		f.expectPullWith(creds, sourceSession, pullOf(sourceRecord("a@example.com", "REF-A", "SRC-A", 100)))
		f.expectCreates(creds)
		f.source.On("Negotiate", mock.Anything, creds, sourceSession, customersync.PhasePush, "BC").
			Return("", &customersync.ProtocolError{Phase: customersync.PhasePush, Err: unauthorized})
		f.source.On("Negotiate", mock.Anything, creds, renewed, customersync.PhasePush, "BC").Return("sched-push", nil)
		f.source.On("Acknowledge", mock.Anything, creds, renewed, "sched-push", 5, outcomesOfLen(1)).
			Return(customersync.PushResult{Success: true})

		result, err := f.service(ServiceConfig{}).RunItem(context.Background(), 0, creds, ItemRequest{})
		require.NoError(t, err)
		require.NotNil(t, result.PushResponseResult)
		assert.True(t, result.PushResponseResult.Success)
		f.source.AssertNumberOfCalls(t, "AcquireToken", 2)
		f.source.AssertExpectations(t)
	})

	t.Run("push response rejected", func(t *testing.T) {
		f := newServiceFixture()
		creds := testCredentials()
		f.source.On("AcquireToken", mock.Anything, creds).Return(sourceSession, nil).Once()
		f.source.On("AcquireToken", mock.Anything, creds).Return(renewed, nil).Once()
		f.expectPullWith(creds, sourceSession, pullOf(sourceRecord("a@example.com", "REF-A", "SRC-A", 100)))
		f.expectCreates(creds)
		f.source.On("Negotiate", mock.Anything, creds, sourceSession, customersync.PhasePush, "BC").Return("sched-push", nil)
		f.source.On("Acknowledge", mock.Anything, creds, sourceSession, "sched-push", 5, outcomesOfLen(1)).
			Return(customersync.NewPushFailure(&customersync.PushError{Err: unauthorized}))
		f.source.On("Negotiate", mock.Anything, creds, renewed, customersync.PhasePush, "BC").Return("sched-push-2", nil)
		f.source.On("Acknowledge", mock.Anything, creds, renewed, "sched-push-2", 5, outcomesOfLen(1)).
			Return(customersync.PushResult{Success: true})

		result, err := f.service(ServiceConfig{}).RunItem(context.Background(), 0, creds, ItemRequest{})
		require.NoError(t, err)
		require.NotNil(t, result.PushResponseResult)
		assert.True(t, result.PushResponseResult.Success)
		f.source.AssertNumberOfCalls(t, "Acknowledge", 2)
	})

	t.Run("second rejection is reported", func(t *testing.T) {
		f := newServiceFixture()
		creds := testCredentials()
		f.source.On("AcquireToken", mock.Anything, creds).Return(sourceSession, nil).Once()
		f.source.On("AcquireToken", mock.Anything, creds).Return(renewed, nil).Once()
		f.expectPullWith(creds, sourceSession, pullOf(sourceRecord("a@example.com", "REF-A", "SRC-A", 100)))
		f.expectCreates(creds)
		f.source.On("Negotiate", mock.Anything, creds, mock.Anything, customersync.PhasePush, "BC").
			Return("", &customersync.ProtocolError{Phase: customersync.PhasePush, Err: unauthorized})

		result, err := f.service(ServiceConfig{}).RunItem(context.Background(), 0, creds, ItemRequest{})
		require.NoError(t, err)
		require.NotNil(t, result.PushResponseResult)
		assert.False(t, result.PushResponseResult.Success)
		assert.Contains(t, result.PushResponseResult.Error, "status code 401")
		f.source.AssertNumberOfCalls(t, "AcquireToken", 2)
		f.source.AssertNumberOfCalls(t, "Negotiate", 3)
	})
}

func TestService_RunItem_CancelledDuringCreates(t *testing.T) {
	f := newServiceFixture()
	creds := testCredentials()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.expectPull(creds, pullOf(sourceRecord("a@example.com", "REF-A", "SRC-A", 100)))
	session := targetSessionFor("bc-1")
	f.target.On("AcquireToken", mock.Anything, creds).Return(session, nil)
	f.target.On("FirstCompanyID", mock.Anything, creds, session).Return("company-1", nil)
	f.target.On("CreateCustomer", mock.Anything, creds, session, "company-1", mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(&customersync.CreatedCustomer{ID: "g-1", Number: "C001"}, nil)

	_, err := f.service(ServiceConfig{}).RunItem(ctx, 0, creds, ItemRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	f.source.AssertNotCalled(t, "Negotiate", mock.Anything, mock.Anything, mock.Anything, customersync.PhasePush, mock.Anything)
	f.source.AssertNotCalled(t, "Acknowledge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_RunItem_WorkflowFailures(t *testing.T) {
	creds := testCredentials()

	tests := []struct {
		name  string
		setup func(f *serviceFixture)
		want  string
	}{
		{
			name: "source token",
			setup: func(f *serviceFixture) {
				f.source.On("AcquireToken", mock.Anything, creds).
					Return(nil, &customersync.AuthError{System: customersync.SystemSource, Err: errors.New("refresh token expired")})
			},
			want: "refresh token expired",
		},
		{
			name: "pull handshake",
			setup: func(f *serviceFixture) {
				f.source.On("AcquireToken", mock.Anything, creds).Return(sourceSession, nil)
				f.source.On("Negotiate", mock.Anything, creds, sourceSession, customersync.PhasePull, "MAGENTO").
					Return("", &customersync.ProtocolError{Phase: customersync.PhasePull, Err: errors.New("schedulerId missing")})
			},
			want: "schedulerId missing",
		},
		{
			name: "pull",
			setup: func(f *serviceFixture) {
				f.source.On("AcquireToken", mock.Anything, creds).Return(sourceSession, nil)
				f.source.On("Negotiate", mock.Anything, creds, sourceSession, customersync.PhasePull, "MAGENTO").Return("sched-pull", nil)
				f.source.On("Pull", mock.Anything, creds, sourceSession, "sched-pull", mock.Anything).
					Return(nil, &customersync.PullError{Err: errors.New("request failed with status code 500")})
			},
			want: "status code 500",
		},
		{
			name: "mapping",
			setup: func(f *serviceFixture) {
				bad := customersync.NewSourceRecord(json.RawMessage(`{"reference":"R","inputData":{"firstName":{"given":"Ada"}}}`))
				f.expectPull(creds, pullOf(bad))
			},
			want: "malformed source record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture()
			tt.setup(f)

			result, err := f.service(ServiceConfig{}).RunItem(context.Background(), 3, creds, ItemRequest{})
			require.NoError(t, err)

			assert.Equal(t, ItemWorkflowFailed, result.Kind)
			assert.Equal(t, 3, result.Index)
			assert.Equal(t, MessageWorkflowError, result.Message)
			assert.Contains(t, result.Error, tt.want)
			f.target.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestService_RunItem_AppliesItemOptions(t *testing.T) {
	f := newServiceFixture()
	creds := testCredentials()
	f.source.On("AcquireToken", mock.Anything, creds).Return(sourceSession, nil)
	f.source.On("Negotiate", mock.Anything, creds, sourceSession, customersync.PhasePull, "MAGENTO").Return("sched-pull", nil)
	f.source.On("Pull", mock.Anything, creds, sourceSession, "sched-pull", customersync.PullOptions{PacketSize: 25, DataType: "customer"}).
		Return(&customersync.PullResult{}, nil)

	svc := f.service(ServiceConfig{PacketSize: 10, DataType: "customer"})
	result, err := svc.RunItem(context.Background(), 0, creds, ItemRequest{PacketSize: 25})
	require.NoError(t, err)
	assert.Equal(t, ItemNoData, result.Kind)
	f.source.AssertExpectations(t)
}

func TestService_RunItem_InvalidItem(t *testing.T) {
	f := newServiceFixture()
	_, err := f.service(ServiceConfig{}).RunItem(context.Background(), 0, testCredentials(), ItemRequest{PacketSize: -1})
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestService_RunItem_Cancelled(t *testing.T) {
	f := newServiceFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service(ServiceConfig{}).RunItem(ctx, 0, testCredentials(), ItemRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	f.source.AssertNotCalled(t, "AcquireToken", mock.Anything, mock.Anything)
}

// ---------------------------------------------------------------------------
// RunBatch
// ---------------------------------------------------------------------------

func TestService_RunBatch_RecordsLedgerAndArchive(t *testing.T) {
	f := newServiceFixture()
	creds := testCredentials()
	f.creds.On("Credentials", mock.Anything).Return(creds, nil)
	f.guard.On("Acquire", mock.Anything, creds.RunKey(), 10*time.Minute).Return(true, nil)
	f.guard.On("Release", mock.Anything, creds.RunKey()).Return(nil)
	f.expectPull(creds, pullOf(sourceRecord("a@example.com", "REF-A", "SRC-A", 100)))
	f.expectCreates(creds)
	f.source.On("Negotiate", mock.Anything, creds, sourceSession, customersync.PhasePush, "BC").Return("sched-push", nil)
	f.source.On("Acknowledge", mock.Anything, creds, sourceSession, "sched-push", 5, outcomesOfLen(1)).
		Return(customersync.PushResult{Success: true})

	var saved []customersync.SyncRecord
	f.ledger.On("SaveBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { saved = append(saved, args.Get(1).([]customersync.SyncRecord)...) }).
		Return(nil)
	f.archive.On("Store", mock.Anything, mock.AnythingOfType("uuid.UUID"), fixedNow, mock.Anything).
		Return("customer-sync/2026/03/14/run.json", nil)

	svc := f.service(ServiceConfig{},
		WithRunGuard(f.guard),
		WithLedger(f.ledger),
		WithArchive(f.archive),
	)
	result, err := svc.RunBatch(context.Background(), BatchRequest{Items: []ItemRequest{{}, {}}})
	require.NoError(t, err)

	require.Len(t, result.Items, 2)
	assert.NotEqual(t, uuid.Nil, result.RunID)
	assert.Equal(t, "customer-sync/2026/03/14/run.json", result.ArchiveKey)
	assert.Equal(t, 0, result.Items[0].Index)
	assert.Equal(t, 1, result.Items[1].Index)

	require.Len(t, saved, 2)
	assert.Equal(t, result.RunID, saved[0].RunID)
	assert.Equal(t, "a@example.com", saved[0].Email)
	assert.Equal(t, "SRC-A", saved[0].SourceID)
	assert.Equal(t, "C001", saved[0].TargetID)
	assert.Equal(t, customersync.StatusSuccess, saved[0].StatusID)
	assert.Equal(t, 1, saved[1].ItemIndex)

	f.guard.AssertExpectations(t)
	f.archive.AssertExpectations(t)
}

func TestService_RunBatch_LedgerFailureDoesNotFailRun(t *testing.T) {
	f := newServiceFixture()
	creds := testCredentials()
	f.creds.On("Credentials", mock.Anything).Return(creds, nil)
	f.expectPull(creds, pullOf(sourceRecord("a@example.com", "REF-A", "SRC-A", 100)))
	f.expectCreates(creds)
	f.source.On("Negotiate", mock.Anything, creds, sourceSession, customersync.PhasePush, "BC").Return("sched-push", nil)
	f.source.On("Acknowledge", mock.Anything, creds, sourceSession, "sched-push", 5, mock.Anything).
		Return(customersync.PushResult{Success: true})
	f.ledger.On("SaveBatch", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	f.archive.On("Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("access denied"))

	result, err := f.service(ServiceConfig{}, WithLedger(f.ledger), WithArchive(f.archive)).
		RunBatch(context.Background(), BatchRequest{Items: []ItemRequest{{}}})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.True(t, result.Items[0].Success())
	assert.Empty(t, result.ArchiveKey)
}

func TestService_RunBatch_GuardBusy(t *testing.T) {
	f := newServiceFixture()
	creds := testCredentials()
	f.creds.On("Credentials", mock.Anything).Return(creds, nil)
	f.guard.On("Acquire", mock.Anything, creds.RunKey(), mock.Anything).Return(false, nil)

	_, err := f.service(ServiceConfig{}, WithRunGuard(f.guard)).
		RunBatch(context.Background(), BatchRequest{Items: []ItemRequest{{}}})
	assert.ErrorIs(t, err, customersync.ErrSyncInProgress)
	f.source.AssertNotCalled(t, "AcquireToken", mock.Anything, mock.Anything)
	f.guard.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

func TestService_RunBatch_UnhandledItemError(t *testing.T) {
	creds := testCredentials()
	items := []ItemRequest{{PacketSize: 5}, {PacketSize: -1}, {PacketSize: 5}}

	setup := func() *serviceFixture {
		f := newServiceFixture()
		f.creds.On("Credentials", mock.Anything).Return(creds, nil)
		f.expectPull(creds, &customersync.PullResult{})
		return f
	}

	t.Run("continue on fail", func(t *testing.T) {
		f := setup()
		continueOnFail := true
		result, err := f.service(ServiceConfig{}).RunBatch(context.Background(), BatchRequest{Items: items, ContinueOnFail: &continueOnFail})
		require.NoError(t, err)
		require.Len(t, result.Items, 3)
		assert.Equal(t, ItemNoData, result.Items[0].Kind)
		assert.Equal(t, ItemUnhandled, result.Items[1].Kind)
		assert.Equal(t, ItemNoData, result.Items[2].Kind)

		out, err := json.Marshal(result.Items[1])
		require.NoError(t, err)
		assert.JSONEq(t, `{"error":"customersync: invalid batch item: packet size -1 must not be negative"}`, string(out))
	})

	t.Run("abort", func(t *testing.T) {
		f := setup()
		_, err := f.service(ServiceConfig{}).RunBatch(context.Background(), BatchRequest{Items: items})
		require.Error(t, err)
		assert.ErrorIs(t, err, customersync.ErrBatchAborted)
		assert.ErrorIs(t, err, ErrInvalidItem)

		var aborted *BatchAbortedError
		require.ErrorAs(t, err, &aborted)
		assert.Equal(t, 1, aborted.Index)
		assert.Len(t, aborted.Results, 1)
		f.source.AssertNumberOfCalls(t, "Pull", 1)
	})

	t.Run("configured default", func(t *testing.T) {
		f := setup()
		result, err := f.service(ServiceConfig{ContinueOnFail: true}).RunBatch(context.Background(), BatchRequest{Items: items})
		require.NoError(t, err)
		assert.Len(t, result.Items, 3)
	})
}

func TestService_RunBatch_WorkflowFailureContinues(t *testing.T) {
	f := newServiceFixture()
	creds := testCredentials()
	f.creds.On("Credentials", mock.Anything).Return(creds, nil)
	f.source.On("AcquireToken", mock.Anything, creds).
		Return(nil, &customersync.AuthError{System: customersync.SystemSource, Err: errors.New("unauthorized")})

	result, err := f.service(ServiceConfig{}).RunBatch(context.Background(), BatchRequest{Items: []ItemRequest{{}, {}}})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	for _, item := range result.Items {
		assert.Equal(t, ItemWorkflowFailed, item.Kind)
	}
}

func TestService_RunBatch_CredentialsUnavailable(t *testing.T) {
	t.Run("abort", func(t *testing.T) {
		f := newServiceFixture()
		f.creds.On("Credentials", mock.Anything).Return(customersync.Credentials{}, errors.New("vault sealed"))

		_, err := f.service(ServiceConfig{}).RunBatch(context.Background(), BatchRequest{Items: []ItemRequest{{}}})
		assert.ErrorIs(t, err, customersync.ErrBatchAborted)
		assert.Contains(t, err.Error(), "vault sealed")
	})

	t.Run("invalid credentials continue", func(t *testing.T) {
		f := newServiceFixture()
		creds := testCredentials()
		creds.RefreshToken = ""
		f.creds.On("Credentials", mock.Anything).Return(creds, nil)

		continueOnFail := true
		result, err := f.service(ServiceConfig{}).RunBatch(context.Background(), BatchRequest{
			Items:          []ItemRequest{{}, {}},
			ContinueOnFail: &continueOnFail,
		})
		require.NoError(t, err)
		require.Len(t, result.Items, 2)
		assert.Equal(t, ItemUnhandled, result.Items[0].Kind)
		assert.Equal(t, customersync.ErrMissingRefreshToken.Error(), result.Items[0].Error)
	})
}

func TestService_RunBatch_EmptyBatch(t *testing.T) {
	f := newServiceFixture()
	_, err := f.service(ServiceConfig{}).RunBatch(context.Background(), BatchRequest{})
	assert.ErrorIs(t, err, customersync.ErrEmptyBatch)
}

// ---------------------------------------------------------------------------
// Ledger queries
// ---------------------------------------------------------------------------

func TestService_ListRecords(t *testing.T) {
	t.Run("ledger disabled", func(t *testing.T) {
		f := newServiceFixture()
		_, _, err := f.service(ServiceConfig{}).ListRecords(context.Background(), customersync.DefaultSyncRecordFilter())
		assert.ErrorIs(t, err, ErrLedgerDisabled)
	})

	t.Run("delegates to ledger", func(t *testing.T) {
		f := newServiceFixture()
		filter := customersync.DefaultSyncRecordFilter()
		filter.Email = "a@example.com"
		records := []customersync.SyncRecord{{Email: "a@example.com"}}
		f.ledger.On("FindAll", mock.Anything, filter).Return(records, int64(1), nil)

		got, total, err := f.service(ServiceConfig{}, WithLedger(f.ledger)).ListRecords(context.Background(), filter)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, records, got)
	})
}
