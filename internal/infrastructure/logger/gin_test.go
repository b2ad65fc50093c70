package logger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLoggedRouter(level zapcore.Level, skip ...string) (*gin.Engine, *observer.ObservedLogs) {
	core, recorded := observer.New(level)
	log := zap.New(core)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("request_id", "req-123")
		c.Next()
	})
	router.Use(Recovery(log))
	router.Use(GinMiddleware(log, skip...))
	return router, recorded
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestGinMiddleware_LevelsByStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  zapcore.Level
	}{
		{"success logs info", http.StatusOK, zapcore.InfoLevel},
		{"client error logs warn", http.StatusConflict, zapcore.WarnLevel},
		{"server error logs error", http.StatusBadGateway, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, recorded := newLoggedRouter(zapcore.DebugLevel)
			router.GET("/api/v1/customer-sync/records", func(c *gin.Context) {
				c.Status(tt.status)
			})

			serve(router, http.MethodGet, "/api/v1/customer-sync/records?page=2")

			entries := recorded.FilterMessage("HTTP request").All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0].Level)

			fields := entries[0].ContextMap()
			assert.Equal(t, "req-123", fields["request_id"])
			assert.Equal(t, "GET", fields["method"])
			assert.Equal(t, "/api/v1/customer-sync/records", fields["route"])
			assert.Equal(t, "page=2", fields["query"])
			assert.EqualValues(t, tt.status, fields["status"])
		})
	}
}

func TestGinMiddleware_SkippedPathsLogAtDebug(t *testing.T) {
	router, recorded := newLoggedRouter(zapcore.InfoLevel, "/health")
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, http.MethodGet, "/health")

	assert.Zero(t, recorded.FilterMessage("HTTP request").Len())
}

func TestGinMiddleware_AttachesLoggerToRequestContext(t *testing.T) {
	router, recorded := newLoggedRouter(zapcore.InfoLevel)
	router.POST("/runs", func(c *gin.Context) {
		L(c.Request.Context()).Info("handler entry")
		c.Status(http.StatusOK)
	})

	serve(router, http.MethodPost, "/runs")

	entries := recorded.FilterMessage("handler entry").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-123", fields["request_id"])
	assert.Equal(t, "POST", fields["method"])
	assert.Equal(t, 1, countField(entries[0], "request_id"))
}

func TestRecovery(t *testing.T) {
	router, recorded := newLoggedRouter(zapcore.InfoLevel)
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := serve(router, http.MethodGet, "/panic")

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "ERR_INTERNAL", body.Error.Code)
	assert.Equal(t, "req-123", body.Error.RequestID)

	panics := recorded.FilterMessage("Panic recovered").All()
	require.Len(t, panics, 1)
	assert.Equal(t, "boom", panics[0].ContextMap()["error"])
}

func countField(entry observer.LoggedEntry, key string) int {
	n := 0
	for _, f := range entry.Context {
		if f.Key == key {
			n++
		}
	}
	return n
}
