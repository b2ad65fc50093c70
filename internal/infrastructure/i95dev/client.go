// Package i95dev implements the source side of the customer sync against the
// i95Dev cloud API: token refresh, scheduler handshake, pull and push-back.
package i95dev

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/erp/bcsync/internal/domain/customersync"
	"github.com/erp/bcsync/internal/infrastructure/telemetry"
)

// maxResponseSize is the maximum allowed response size from the i95Dev API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// maxErrorBody bounds how much of an error response is kept in a StatusError.
const maxErrorBody = 512

const (
	tokenPath        = "/api/client/Token"
	indexPath        = "/api/Index"
	pullPath         = "/api/" + defaultDataType + "/PullData"
	pushResponsePath = "/api/Customer/PushResponse"

	requestTypeSource = "Source"
	defaultDataType   = "Customer"
)

var (
	// ErrUnavailable indicates the i95Dev API could not be reached.
	ErrUnavailable = errors.New("i95dev: service unavailable")
	// ErrMissingToken indicates a token response without accessToken.token.
	ErrMissingToken = errors.New("i95dev: token response has no access token")
	// ErrMissingSchedulerID indicates a handshake response without a scheduler id.
	ErrMissingSchedulerID = errors.New("i95dev: handshake response has no scheduler id")
)

// Client talks to the i95Dev API. It holds no per-run state; credentials and
// sessions are passed to every call.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client with a 30 second timeout unless overridden.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ customersync.SourceSystem = (*Client)(nil)

// ---------------------------------------------------------------------------
// Token
// ---------------------------------------------------------------------------

type tokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	AccessToken *struct {
		Token string `json:"token"`
	} `json:"accessToken"`
}

// AcquireToken exchanges the refresh token for a bearer session.
func (c *Client) AcquireToken(ctx context.Context, creds customersync.Credentials) (*customersync.BearerSession, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "i95dev", "token")
	defer span.End()

	body, err := c.doRequest(ctx, creds.BaseURL+tokenPath, "", tokenRequest{RefreshToken: creds.RefreshToken})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, &customersync.AuthError{System: customersync.SystemSource, Err: err}
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		telemetry.RecordError(span, err)
		return nil, &customersync.AuthError{System: customersync.SystemSource, Err: fmt.Errorf("i95dev: decode token response: %w", err)}
	}
	if resp.AccessToken == nil || resp.AccessToken.Token == "" {
		telemetry.RecordError(span, ErrMissingToken)
		return nil, &customersync.AuthError{System: customersync.SystemSource, Err: ErrMissingToken}
	}

	session := &customersync.BearerSession{
		System:    customersync.SystemSource,
		Token:     resp.AccessToken.Token,
		ExpiresAt: tokenExpiry(resp.AccessToken.Token),
	}
	c.logger.Debug("i95Dev token acquired", zap.Time("expires_at", session.ExpiresAt))
	telemetry.SetOK(span)
	return session, nil
}

// tokenExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens yield the zero time.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// ---------------------------------------------------------------------------
// Scheduler handshake
// ---------------------------------------------------------------------------

type indexContext struct {
	ClientID        string `json:"clientId"`
	SubscriptionKey string `json:"subscriptionKey"`
	InstanceType    string `json:"instanceType"`
	SchedulerType   string `json:"schedulerType"`
	RequestType     string `json:"requestType"`
	EndpointCode    string `json:"endpointCode"`
}

type indexRequest struct {
	Context indexContext `json:"context"`
}

// Negotiate obtains a scheduler id for the given phase and endpoint code.
func (c *Client) Negotiate(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession, phase customersync.SchedulerPhase, endpointCode string) (string, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "i95dev", "negotiate",
		telemetry.WithAttribute("scheduler_type", string(phase)),
		telemetry.WithAttribute("endpoint_code", endpointCode),
	)
	defer span.End()

	req := indexRequest{Context: indexContext{
		ClientID:        creds.ClientID,
		SubscriptionKey: creds.SubscriptionKey,
		InstanceType:    string(creds.InstanceType),
		SchedulerType:   string(phase),
		RequestType:     requestTypeSource,
		EndpointCode:    endpointCode,
	}}

	body, err := c.doRequest(ctx, creds.BaseURL+indexPath, tokenOf(session), req)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", &customersync.ProtocolError{Phase: phase, Err: err}
	}

	schedulerID := schedulerIDFrom(body)
	if schedulerID == "" {
		telemetry.RecordError(span, ErrMissingSchedulerID)
		return "", &customersync.ProtocolError{Phase: phase, Err: ErrMissingSchedulerID}
	}

	c.logger.Debug("i95Dev scheduler negotiated",
		zap.String("scheduler_type", string(phase)),
		zap.String("scheduler_id", schedulerID),
	)
	telemetry.SetAttributes(span, "scheduler_id", schedulerID)
	telemetry.SetOK(span)
	return schedulerID, nil
}

// schedulerIDFrom reads schedulerId as a string or number.
func schedulerIDFrom(body []byte) string {
	var resp struct {
		SchedulerID json.RawMessage `json:"schedulerId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.SchedulerID) == 0 {
		return ""
	}

	dec := json.NewDecoder(bytes.NewReader(resp.SchedulerID))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

// ---------------------------------------------------------------------------
// Pull
// ---------------------------------------------------------------------------

type pullContext struct {
	ClientID        string `json:"ClientId"`
	SubscriptionKey string `json:"SubscriptionKey"`
	InstanceType    string `json:"InstanceType"`
	EndpointCode    string `json:"EndpointCode"`
	IsNotEncrypted  bool   `json:"isNotEncrypted"`
	SchedulerType   string `json:"SchedulerType"`
	RequestType     string `json:"RequestType"`
	SchedulerID     string `json:"SchedulerId"`
}

type pullRequest struct {
	Context     pullContext       `json:"Context"`
	RequestData []json.RawMessage `json:"RequestData"`
	PacketSize  int               `json:"PacketSize"`
	Type        *string           `json:"type"` // always null
}

// pullPathFor returns the PullData route for a data type, Customer when empty.
func pullPathFor(dataType string) string {
	if dataType == "" {
		return pullPath
	}
	return "/api/" + url.PathEscape(dataType) + "/PullData"
}

// Pull fetches one packet of customers. Transport failures and error
// statuses fail the pull; a body without records is an empty result.
func (c *Client) Pull(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession, schedulerID string, opts customersync.PullOptions) (*customersync.PullResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "i95dev", "pull",
		telemetry.WithAttribute("scheduler_id", schedulerID),
		telemetry.WithAttribute("packet_size", opts.PacketSize),
		telemetry.WithAttribute("data_type", cmp.Or(opts.DataType, defaultDataType)),
	)
	defer span.End()

	req := pullRequest{
		Context: pullContext{
			ClientID:        creds.ClientID,
			SubscriptionKey: creds.SubscriptionKey,
			InstanceType:    string(creds.InstanceType),
			EndpointCode:    creds.EndpointCodeBC,
			IsNotEncrypted:  true,
			SchedulerType:   string(customersync.PhasePull),
			RequestType:     requestTypeSource,
			SchedulerID:     schedulerID,
		},
		RequestData: []json.RawMessage{},
		PacketSize:  opts.PacketSize,
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, &customersync.PullError{Err: fmt.Errorf("i95dev: encode pull request: %w", err)}
	}

	body, err := c.doRequest(ctx, creds.BaseURL+pullPathFor(opts.DataType), tokenOf(session), json.RawMessage(requestBody))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, &customersync.PullError{Err: err}
	}

	raws, envelope := NormalizeEnvelope(body)
	result := &customersync.PullResult{
		Records:     customersync.NewSourceRecords(raws),
		Envelope:    envelope,
		Response:    responseJSON(body),
		RequestBody: requestBody,
	}
	if result.Empty() {
		result.Debug = describeResponse(body)
	}

	c.logger.Debug("i95Dev pull completed",
		zap.String("envelope", envelope),
		zap.Int("records", len(result.Records)),
	)
	telemetry.SetAttributes(span, "envelope", envelope, "records", len(result.Records))
	telemetry.SetOK(span)
	return result, nil
}

// responseJSON keeps a body as JSON, quoting it when it is not valid JSON.
func responseJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}

// ---------------------------------------------------------------------------
// Push-back
// ---------------------------------------------------------------------------

type pushContext struct {
	ClientID        string `json:"clientId"`
	SubscriptionKey string `json:"subscriptionKey"`
	InstanceType    string `json:"instanceType"`
	SchedulerType   string `json:"schedulerType"`
	EndPointCode    string `json:"endPointCode"`
	SchedulerID     string `json:"schedulerId"`
	IsNotEncrypted  bool   `json:"isNotEncrypted"`
}

type pushRequest struct {
	Context     pushContext                `json:"context"`
	PacketSize  int                        `json:"packetSize"`
	RequestData []customersync.SyncOutcome `json:"requestData"`
}

// Acknowledge submits the outcomes under a push scheduler id. It never
// returns an error; failures are reported in the PushResult.
func (c *Client) Acknowledge(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession, schedulerID string, packetSize int, outcomes []customersync.SyncOutcome) customersync.PushResult {
	ctx, span := telemetry.StartServiceSpan(ctx, "i95dev", "push",
		telemetry.WithAttribute("scheduler_id", schedulerID),
		telemetry.WithAttribute("outcomes", len(outcomes)),
	)
	defer span.End()

	req := pushRequest{
		Context: pushContext{
			ClientID:        creds.ClientID,
			SubscriptionKey: creds.SubscriptionKey,
			InstanceType:    string(creds.InstanceType),
			SchedulerType:   string(customersync.PhasePush),
			EndPointCode:    creds.EndpointCodeBC,
			SchedulerID:     schedulerID,
			IsNotEncrypted:  true,
		},
		PacketSize:  packetSize,
		RequestData: outcomes,
	}

	body, err := c.doRequest(ctx, creds.BaseURL+pushResponsePath, tokenOf(session), req)
	if err != nil {
		telemetry.RecordError(span, err)
		c.logger.Warn("i95Dev push response failed", zap.Error(err))
		return customersync.NewPushFailure(&customersync.PushError{Err: err})
	}

	c.logger.Info("i95Dev push response accepted", zap.Int("outcomes", len(outcomes)))
	telemetry.SetOK(span)
	return customersync.PushResult{Success: true, Response: responseJSON(body)}
}

// ---------------------------------------------------------------------------
// Internal Helpers
// ---------------------------------------------------------------------------

// doRequest POSTs a JSON body and returns the response body of a 2xx response.
func (c *Client) doRequest(ctx context.Context, url, bearer string, payload any) ([]byte, error) {
	var reqBody []byte
	switch p := payload.(type) {
	case json.RawMessage:
		reqBody = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("i95dev: failed to encode request: %w", err)
		}
		reqBody = b
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("i95dev: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("i95dev: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &customersync.StatusError{StatusCode: resp.StatusCode, Body: truncate(body, maxErrorBody)}
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

func tokenOf(session *customersync.BearerSession) string {
	if session == nil {
		return ""
	}
	return session.Token
}
