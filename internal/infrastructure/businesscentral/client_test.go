package businesscentral

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/bcsync/internal/domain/customersync"
)

func testCredentials() customersync.Credentials {
	return customersync.Credentials{
		TenantID:       "tenant-1",
		ClientIDBC:     "bc-client",
		ClientSecretBC: "bc-secret",
		Environment:    "Sandbox",
	}
}

func bcSession() *customersync.BearerSession {
	return &customersync.BearerSession{System: customersync.SystemTarget, Token: "bc-token"}
}

type capture struct {
	mu      sync.Mutex
	method  string
	path    string
	auth    string
	form    url.Values
	payload []byte
}

func (c *capture) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.method = r.Method
	c.path = r.URL.EscapedPath()
	c.auth = r.Header.Get("Authorization")
	c.payload = body
	c.form, _ = url.ParseQuery(string(body))
}

func (c *capture) snapshot() capture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return capture{method: c.method, path: c.path, auth: c.auth, form: c.form, payload: c.payload}
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *capture) {
	t.Helper()
	cap := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cap.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, cap
}

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{WithHTTPClient(srv.Client())}, opts...)
	return NewClient(Config{LoginBaseURL: srv.URL, APIBaseURL: srv.URL}, opts...)
}

// ---------------------------------------------------------------------------
// Token
// ---------------------------------------------------------------------------

func TestClient_AcquireToken(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("client credentials grant", func(t *testing.T) {
		srv, cap := newServer(t, http.StatusOK, `{"token_type":"Bearer","expires_in":3599,"access_token":"bc-token"}`)
		c := newTestClient(srv, WithClock(func() time.Time { return now }))

		s, err := c.AcquireToken(context.Background(), testCredentials())
		require.NoError(t, err)
		assert.Equal(t, "bc-token", s.Token)
		assert.Equal(t, customersync.SystemTarget, s.System)
		assert.Equal(t, now.Add(3599*time.Second), s.ExpiresAt)

		got := cap.snapshot()
		assert.Equal(t, http.MethodPost, got.method)
		assert.Equal(t, "/tenant-1/oauth2/v2.0/token", got.path)
		assert.Equal(t, "client_credentials", got.form.Get("grant_type"))
		assert.Equal(t, "bc-client", got.form.Get("client_id"))
		assert.Equal(t, "bc-secret", got.form.Get("client_secret"))
		assert.Equal(t, Scope, got.form.Get("scope"))
	})

	t.Run("token delivered as a JSON string", func(t *testing.T) {
		inner, _ := json.Marshal(`{"access_token":"stringly","expires_in":"60"}`)
		srv, _ := newServer(t, http.StatusOK, string(inner))
		c := newTestClient(srv, WithClock(func() time.Time { return now }))

		s, err := c.AcquireToken(context.Background(), testCredentials())
		require.NoError(t, err)
		assert.Equal(t, "stringly", s.Token)
		assert.Equal(t, now.Add(time.Minute), s.ExpiresAt)
	})

	t.Run("missing access_token", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `{"token_type":"Bearer"}`)
		_, err := newTestClient(srv).AcquireToken(context.Background(), testCredentials())
		require.Error(t, err)
		assert.ErrorIs(t, err, customersync.ErrAuth)
		assert.ErrorIs(t, err, ErrMissingAccessToken)
	})

	t.Run("rejected client", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusBadRequest, `{"error":"invalid_client"}`)
		_, err := newTestClient(srv).AcquireToken(context.Background(), testCredentials())
		require.Error(t, err)

		var authErr *customersync.AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, customersync.SystemTarget, authErr.System)

		var statusErr *customersync.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	})
}

// ---------------------------------------------------------------------------
// Companies
// ---------------------------------------------------------------------------

func TestClient_FirstCompanyID(t *testing.T) {
	t.Run("OData envelope", func(t *testing.T) {
		srv, cap := newServer(t, http.StatusOK, `{"value":[{"id":"c-1","name":"CRONUS"},{"id":"c-2"}]}`)
		id, err := newTestClient(srv).FirstCompanyID(context.Background(), testCredentials(), bcSession())
		require.NoError(t, err)
		assert.Equal(t, "c-1", id)

		got := cap.snapshot()
		assert.Equal(t, http.MethodGet, got.method)
		assert.Equal(t, "/v2.0/tenant-1/Sandbox/api/v2.0/companies", got.path)
		assert.Equal(t, "Bearer bc-token", got.auth)
	})

	t.Run("bare array", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `[{"id":"c-9"}]`)
		id, err := newTestClient(srv).FirstCompanyID(context.Background(), testCredentials(), bcSession())
		require.NoError(t, err)
		assert.Equal(t, "c-9", id)
	})

	t.Run("default environment", func(t *testing.T) {
		srv, cap := newServer(t, http.StatusOK, `{"value":[{"id":"c-1"}]}`)
		creds := testCredentials()
		creds.Environment = ""
		_, err := newTestClient(srv).FirstCompanyID(context.Background(), creds, bcSession())
		require.NoError(t, err)
		assert.Equal(t, "/v2.0/tenant-1/N8N/api/v2.0/companies", cap.snapshot().path)
	})

	t.Run("empty list", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusOK, `{"value":[]}`)
		_, err := newTestClient(srv).FirstCompanyID(context.Background(), testCredentials(), bcSession())
		assert.ErrorIs(t, err, customersync.ErrNoCompany)
	})

	t.Run("unauthorized", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusUnauthorized, `{"error":{"code":"Authentication_InvalidCredentials","message":"The credentials provided are incorrect"}}`)
		_, err := newTestClient(srv).FirstCompanyID(context.Background(), testCredentials(), bcSession())
		require.Error(t, err)
		assert.True(t, customersync.IsUnauthorized(err))
		assert.Contains(t, err.Error(), "The credentials provided are incorrect")
	})
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

func TestClient_CreateCustomer(t *testing.T) {
	rec := customersync.CanonicalTargetRecord{
		DisplayName: "Ada Lovelace",
		Type:        customersync.CustomerTypeCompany,
		Email:       "ada@example.com",
		Website:     "https://example.com",
		TaxLiable:   true,
	}

	t.Run("created", func(t *testing.T) {
		srv, cap := newServer(t, http.StatusCreated, `{"@odata.etag":"W/1","id":"guid-1","number":"C00010","displayName":"Ada Lovelace","email":"ada@example.com"}`)
		created, err := newTestClient(srv).CreateCustomer(context.Background(), testCredentials(), bcSession(), "c-1", rec)
		require.NoError(t, err)
		assert.Equal(t, "guid-1", created.ID)
		assert.Equal(t, "C00010", created.Number)
		assert.Equal(t, "Ada Lovelace", created.DisplayName)
		assert.Contains(t, string(created.Raw), "@odata.etag")

		got := cap.snapshot()
		assert.Equal(t, http.MethodPost, got.method)
		assert.Equal(t, "/v2.0/tenant-1/Sandbox/api/v2.0/companies(c-1)/customers", got.path)
		assert.JSONEq(t, rec.JSON(), string(got.payload))
	})

	t.Run("rejected", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusBadRequest, `{"error":{"code":"BadRequest","message":"Email is not valid"}}`)
		_, err := newTestClient(srv).CreateCustomer(context.Background(), testCredentials(), bcSession(), "c-1", rec)
		require.Error(t, err)
		assert.Equal(t, "request failed with status code 400: BadRequest: Email is not valid", err.Error())
		assert.False(t, customersync.IsUnauthorized(err))
	})

	t.Run("malformed body", func(t *testing.T) {
		srv, _ := newServer(t, http.StatusCreated, `not json`)
		_, err := newTestClient(srv).CreateCustomer(context.Background(), testCredentials(), bcSession(), "c-1", rec)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{APIBaseURL: "https://bc.example.com/"})
	assert.Equal(t, DefaultLoginBaseURL, c.config.LoginBaseURL)
	assert.Equal(t, "https://bc.example.com", c.config.APIBaseURL)
}
