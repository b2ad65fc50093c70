package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	syncapp "github.com/erp/bcsync/internal/application/customersync"
	"github.com/erp/bcsync/internal/domain/customersync"
	"github.com/erp/bcsync/internal/interfaces/http/dto"
	"github.com/erp/bcsync/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Error sends an error response with the status derived from code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, dto.ErrCodeInternal, message)
}

// HandleError maps sync errors to error responses. Unknown errors become 500
// without leaking their text.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	code, message := errorCode(err)
	requestID := middleware.GetRequestID(c)

	if code == dto.ErrCodeFeatureDisabled {
		c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithHelp(code, message, requestID,
			"enable sync.ledger_enabled and configure the database"))
		return
	}

	resp := dto.NewErrorResponseWithRequestID(code, message, requestID)
	var aborted *syncapp.BatchAbortedError
	if errors.As(err, &aborted) && len(aborted.Results) > 0 {
		resp.Data = aborted.Results
	}
	c.JSON(dto.GetHTTPStatus(code), resp)
}

func errorCode(err error) (string, string) {
	var aborted *syncapp.BatchAbortedError
	switch {
	case errors.Is(err, customersync.ErrEmptyBatch), errors.Is(err, syncapp.ErrInvalidItem):
		return dto.ErrCodeInvalidInput, err.Error()
	case errors.Is(err, customersync.ErrSyncInProgress):
		return dto.ErrCodeSyncInProgress, "A customer sync run is already in progress for this endpoint"
	case errors.Is(err, syncapp.ErrLedgerDisabled):
		return dto.ErrCodeFeatureDisabled, "The sync ledger is disabled"
	case isCredentialError(err):
		return dto.ErrCodeCredentials, err.Error()
	case errors.As(err, &aborted):
		return dto.ErrCodeBatchAborted, aborted.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dto.ErrCodeInternal, "The request was cancelled before the run finished"
	default:
		return dto.ErrCodeInternal, "An unexpected error occurred"
	}
}

var credentialErrors = []error{
	customersync.ErrMissingBaseURL,
	customersync.ErrMissingRefreshToken,
	customersync.ErrMissingClientID,
	customersync.ErrMissingSubscriptionKey,
	customersync.ErrMissingEndpointCode,
	customersync.ErrMissingEndpointCodeBC,
	customersync.ErrMissingTenantID,
	customersync.ErrMissingTargetClient,
	customersync.ErrInvalidInstanceType,
}

func isCredentialError(err error) bool {
	for _, target := range credentialErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
