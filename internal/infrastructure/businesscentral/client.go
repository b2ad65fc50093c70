// Package businesscentral implements the target side of the customer sync
// against the Dynamics 365 Business Central v2.0 API.
package businesscentral

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/erp/bcsync/internal/domain/customersync"
	"github.com/erp/bcsync/internal/infrastructure/telemetry"
)

// maxResponseSize is the maximum allowed response size from Business Central (10MB)
const maxResponseSize = 10 * 1024 * 1024

const maxErrorBody = 512

const (
	// DefaultLoginBaseURL is the Microsoft identity platform host.
	DefaultLoginBaseURL = "https://login.microsoftonline.com"
	// DefaultAPIBaseURL is the Business Central API host.
	DefaultAPIBaseURL = "https://api.businesscentral.dynamics.com"
	// Scope requested with the client credentials grant.
	Scope = "https://api.businesscentral.dynamics.com/.default"
)

var (
	// ErrUnavailable indicates Business Central could not be reached.
	ErrUnavailable = errors.New("businesscentral: service unavailable")
	// ErrMissingAccessToken indicates a token response without access_token.
	ErrMissingAccessToken = errors.New("businesscentral: token response has no access_token")
	// ErrMalformedResponse indicates a 2xx response that could not be decoded.
	ErrMalformedResponse = errors.New("businesscentral: malformed response")
)

// Config holds the hosts the client talks to.
type Config struct {
	LoginBaseURL string
	APIBaseURL   string
}

// DefaultConfig returns the public Microsoft hosts.
func DefaultConfig() Config {
	return Config{LoginBaseURL: DefaultLoginBaseURL, APIBaseURL: DefaultAPIBaseURL}
}

func (c Config) withDefaults() Config {
	if c.LoginBaseURL == "" {
		c.LoginBaseURL = DefaultLoginBaseURL
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	c.LoginBaseURL = strings.TrimRight(c.LoginBaseURL, "/")
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	return c
}

// Client talks to Business Central.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
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

// WithClock overrides the clock used to compute token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a Client. Empty hosts in cfg fall back to the defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		config:     cfg.withDefaults(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ customersync.TargetSystem = (*Client)(nil)

// ---------------------------------------------------------------------------
// Token
// ---------------------------------------------------------------------------

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

// AcquireToken runs the OAuth client credentials grant for the tenant.
func (c *Client) AcquireToken(ctx context.Context, creds customersync.Credentials) (*customersync.BearerSession, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "business_central", "token",
		telemetry.WithAttribute("tenant_id", creds.TenantID),
	)
	defer span.End()

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", creds.ClientIDBC)
	form.Set("client_secret", creds.ClientSecretBC)
	form.Set("scope", Scope)

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.config.LoginBaseURL, url.PathEscape(creds.TenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &customersync.AuthError{System: customersync.SystemTarget, Err: fmt.Errorf("businesscentral: failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, &customersync.AuthError{System: customersync.SystemTarget, Err: err}
	}

	resp, err := decodeTokenResponse(body)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, &customersync.AuthError{System: customersync.SystemTarget, Err: err}
	}

	session := &customersync.BearerSession{
		System: customersync.SystemTarget,
		Token:  resp.AccessToken,
	}
	if secs := expiresInSeconds(resp.ExpiresIn); secs > 0 {
		session.ExpiresAt = c.now().Add(time.Duration(secs) * time.Second)
	}
	c.logger.Debug("Business Central token acquired", zap.Time("expires_at", session.ExpiresAt))
	telemetry.SetOK(span)
	return session, nil
}

// decodeTokenResponse accepts the token object or a JSON string holding it.
func decodeTokenResponse(body []byte) (*tokenResponse, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		trimmed = []byte(inner)
	}

	var resp tokenResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	return &resp, nil
}

// expiresInSeconds reads expires_in as a number or numeric string.
func expiresInSeconds(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := json.Number(s).Int64(); err == nil {
			return v
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// Companies
// ---------------------------------------------------------------------------

type company struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FirstCompanyID returns the id of the first company in the environment.
func (c *Client) FirstCompanyID(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession) (string, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "business_central", "companies",
		telemetry.WithAttribute("environment", creds.Environment),
	)
	defer span.End()

	req, err := c.newAPIRequest(ctx, http.MethodGet, c.apiURL(creds, "companies"), session, nil)
	if err != nil {
		return "", err
	}

	body, err := c.do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}

	companies, err := decodeCompanies(body)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	if len(companies) == 0 || companies[0].ID == "" {
		telemetry.RecordError(span, customersync.ErrNoCompany)
		return "", customersync.ErrNoCompany
	}

	c.logger.Debug("Business Central company resolved",
		zap.String("company_id", companies[0].ID),
		zap.String("company_name", companies[0].Name),
	)
	telemetry.SetAttributes(span, "company_id", companies[0].ID)
	telemetry.SetOK(span)
	return companies[0].ID, nil
}

// decodeCompanies accepts an OData {"value": [...]} envelope or a bare array.
func decodeCompanies(body []byte) ([]company, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var companies []company
		if err := json.Unmarshal(trimmed, &companies); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return companies, nil
	}

	var envelope struct {
		Value []company `json:"value"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return envelope.Value, nil
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

// CreateCustomer creates one customer in the given company.
func (c *Client) CreateCustomer(ctx context.Context, creds customersync.Credentials, session *customersync.BearerSession, companyID string, rec customersync.CanonicalTargetRecord) (*customersync.CreatedCustomer, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "business_central", "create_customer",
		telemetry.WithAttribute("company_id", companyID),
	)
	defer span.End()

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("businesscentral: failed to encode customer: %w", err)
	}

	target := c.apiURL(creds, fmt.Sprintf("companies(%s)/customers", companyID))
	req, err := c.newAPIRequest(ctx, http.MethodPost, target, session, payload)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var created customersync.CreatedCustomer
	if err := json.Unmarshal(body, &created); err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	created.Raw = json.RawMessage(bytes.TrimSpace(body))

	telemetry.SetAttributes(span, "customer_number", created.Number)
	telemetry.SetOK(span)
	return &created, nil
}

// ---------------------------------------------------------------------------
// Internal Helpers
// ---------------------------------------------------------------------------

// apiURL builds {api}/v2.0/{tenant}/{environment}/api/v2.0/{resource}.
func (c *Client) apiURL(creds customersync.Credentials, resource string) string {
	env := creds.Environment
	if env == "" {
		env = customersync.DefaultEnvironment
	}
	return fmt.Sprintf("%s/v2.0/%s/%s/api/v2.0/%s",
		c.config.APIBaseURL, url.PathEscape(creds.TenantID), url.PathEscape(env), resource)
}

func (c *Client) newAPIRequest(ctx context.Context, method, target string, session *customersync.BearerSession, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("businesscentral: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if session != nil && session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+session.Token)
	}
	return req, nil
}

// do sends the request and returns the body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("businesscentral: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &customersync.StatusError{StatusCode: resp.StatusCode, Body: errorBody(body)}
	}
	return body, nil
}

// errorBody extracts the OData error message when present, otherwise a
// truncated body.
func errorBody(body []byte) string {
	var odata struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &odata); err == nil && odata.Error.Message != "" {
		if odata.Error.Code != "" {
			return odata.Error.Code + ": " + odata.Error.Message
		}
		return odata.Error.Message
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > maxErrorBody {
		trimmed = trimmed[:maxErrorBody]
	}
	return string(trimmed)
}
