package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/erp/bcsync/internal/infrastructure/telemetry"
)

// Profiling tags the CPU samples of each request with its method and route
// pattern. Paths in skip are served without labels.
func Profiling(enabled bool, skip ...string) gin.HandlerFunc {
	if !enabled {
		return passThrough
	}
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		labels := telemetry.HTTPRequestLabels(c.FullPath(), c.Request.Method)
		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}
