package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	syncapp "github.com/erp/bcsync/internal/application/customersync"
	"github.com/erp/bcsync/internal/domain/customersync"
	"github.com/erp/bcsync/internal/infrastructure/logger"
	"github.com/erp/bcsync/internal/interfaces/http/dto"
	"github.com/erp/bcsync/internal/interfaces/http/middleware"
	"github.com/erp/bcsync/internal/interfaces/http/router"
)

// CustomerSyncService is the application surface used by the handler
type CustomerSyncService interface {
	RunBatch(ctx context.Context, req syncapp.BatchRequest) (*syncapp.BatchResult, error)
	ListRecords(ctx context.Context, filter customersync.SyncRecordFilter) ([]customersync.SyncRecord, int64, error)
	RunRecords(ctx context.Context, runID uuid.UUID) ([]customersync.SyncRecord, error)
}

// CustomerSyncHandler exposes batch runs and the sync ledger
type CustomerSyncHandler struct {
	BaseHandler
	service CustomerSyncService
}

// NewCustomerSyncHandler creates a CustomerSyncHandler
func NewCustomerSyncHandler(service CustomerSyncService) *CustomerSyncHandler {
	return &CustomerSyncHandler{service: service}
}

// Routes returns the /customer-sync route group. Run triggers go through
// runMiddleware, typically a rate limiter.
func (h *CustomerSyncHandler) Routes(runMiddleware ...gin.HandlerFunc) *router.Group {
	runHandlers := append(append([]gin.HandlerFunc{}, runMiddleware...), h.RunBatch)
	return router.NewGroup("/customer-sync").
		POST("/runs", runHandlers...).
		GET("/records", h.ListRecords).
		GET("/runs/:id/records", h.RunRecords)
}

// RunBatch runs a batch and answers with one result per item.
//
//	POST /customer-sync/runs
//
// Workflow failures are part of a 200 answer. A batch stopped by an
// unhandled error answers 500 with the items finished before it.
func (h *CustomerSyncHandler) RunBatch(c *gin.Context) {
	var req RunBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	result, err := h.service.RunBatch(c.Request.Context(), req.ToBatchRequest())
	if err != nil {
		logger.L(c.Request.Context()).Warn("Customer sync batch rejected", zap.Error(err))
		h.HandleError(c, err)
		return
	}

	h.Success(c, result)
}

// ListRecords pages through the sync ledger, newest first.
//
//	GET /customer-sync/records?page=&page_size=&run_id=&email=&status_id=
func (h *CustomerSyncHandler) ListRecords(c *gin.Context) {
	var req SyncRecordListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	filter := req.ToFilter()
	records, total, err := h.service.ListRecords(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, ToSyncRecordResponses(records), total, filter.Page, filter.PageSize)
}

// RunRecords returns the ledger entries of one run in item and record order.
//
//	GET /customer-sync/runs/:id/records
func (h *CustomerSyncHandler) RunRecords(c *gin.Context) {
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	runID := uuid.MustParse(req.ID)

	records, err := h.service.RunRecords(c.Request.Context(), runID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if len(records) == 0 {
		h.NotFound(c, "No ledger entries for run "+runID.String())
		return
	}

	h.Success(c, ToSyncRecordResponses(records))
}
