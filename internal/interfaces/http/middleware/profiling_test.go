package middleware

import (
	"net/http"
	"net/http/httptest"
	"runtime/pprof"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestProfiling_LabelsRequestContext(t *testing.T) {
	var route, method string
	var labelled bool

	router := gin.New()
	router.Use(Profiling(true, "/health"))
	handler := func(c *gin.Context) {
		route, labelled = pprof.Label(c.Request.Context(), "route")
		method, _ = pprof.Label(c.Request.Context(), "method")
		c.Status(http.StatusOK)
	}
	router.GET("/api/v1/customer-sync/records", handler)
	router.GET("/health", handler)

	serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/customer-sync/records", nil))
	assert.True(t, labelled)
	assert.Equal(t, "/api/v1/customer-sync/records", route)
	assert.Equal(t, http.MethodGet, method)

	serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.False(t, labelled, "skipped paths carry no labels")
}

func TestProfiling_Disabled(t *testing.T) {
	router := gin.New()
	router.Use(Profiling(false))
	router.GET("/x", func(c *gin.Context) {
		_, ok := pprof.Label(c.Request.Context(), "route")
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
