package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	storesyncapp "github.com/storesync/backend/internal/application/storesync"
	"github.com/storesync/backend/internal/domain/storesync"
	"github.com/storesync/backend/internal/interfaces/http/middleware"
)

// TriggerSyncRequest is the body of POST /sync/stores/:id
type TriggerSyncRequest struct {
	Type string `json:"type" binding:"required,oneof=full incremental"`
}

// RunReports serves archived reports of finished jobs
type RunReports interface {
	Report(ctx context.Context, tenantID, jobID uuid.UUID) (*storesync.SyncJob, error)
	ReportURL(ctx context.Context, tenantID, jobID uuid.UUID) (string, time.Time, error)
}

// RunReportResponse is the body of GET /sync/jobs/:id/report
type RunReportResponse struct {
	Job         *storesync.SyncJob `json:"job"`
	DownloadURL string             `json:"download_url"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

// SyncHandler serves sync job endpoints
type SyncHandler struct {
	BaseHandler
	syncs   *storesyncapp.SyncService
	reports RunReports
}

// SyncOption configures a SyncHandler
type SyncOption func(*SyncHandler)

// WithRunReports enables the report endpoint
func WithRunReports(reports RunReports) SyncOption {
	return func(h *SyncHandler) {
		h.reports = reports
	}
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(syncs *storesyncapp.SyncService, opts ...SyncOption) *SyncHandler {
	h := &SyncHandler{syncs: syncs}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Trigger starts a sync job in the background and returns it as pending
// POST /sync/stores/:id
func (h *SyncHandler) Trigger(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	storeID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	job, err := h.syncs.TriggerSync(c.Request.Context(), tenantID, storeID, storesync.SyncType(req.Type), storesync.TriggerAPI)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, job)
}

// Cancel requests cancellation of a running job
// DELETE /sync/jobs/:id
func (h *SyncHandler) Cancel(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	jobID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	cancelled, err := h.syncs.CancelSync(c.Request.Context(), jobID, tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if !cancelled {
		h.NotFound(c, "No running sync job with this id")
		return
	}
	h.Success(c, gin.H{"job_id": jobID, "cancelled": true})
}

// GetJob returns an active job
// GET /sync/jobs/:id
func (h *SyncHandler) GetJob(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	jobID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	job, err := h.syncs.GetJob(c.Request.Context(), tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, job)
}

// Report returns the archived report of a finished job with a download link
// GET /sync/jobs/:id/report
func (h *SyncHandler) Report(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	jobID, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	if h.reports == nil {
		h.NotFound(c, "Run reports are not archived")
		return
	}
	ctx := c.Request.Context()
	job, err := h.reports.Report(ctx, tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	url, expiresAt, err := h.reports.ReportURL(ctx, tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, RunReportResponse{Job: job, DownloadURL: url, ExpiresAt: expiresAt})
}

// Status reports per-store state and the tenant's active jobs
// GET /sync/status?store_id=
func (h *SyncHandler) Status(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	storeID, ok := h.optionalStoreID(c)
	if !ok {
		return
	}
	report, err := h.syncs.GetStatus(c.Request.Context(), tenantID, storeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// Statistics aggregates run history over a period
// GET /sync/statistics?period=&store_id=
func (h *SyncHandler) Statistics(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	storeID, ok := h.optionalStoreID(c)
	if !ok {
		return
	}
	stats, err := h.syncs.GetSyncStatistics(c.Request.Context(), tenantID, storesyncapp.StatisticsQuery{
		StoreID: storeID,
		Period:  c.Query("period"),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

func (h *SyncHandler) optionalStoreID(c *gin.Context) (*uuid.UUID, bool) {
	raw := c.Query("store_id")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.BadRequest(c, "Invalid store_id")
		return nil, false
	}
	return &id, true
}
