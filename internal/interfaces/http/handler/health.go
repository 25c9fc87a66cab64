package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storesync/backend/internal/infrastructure/scheduler"
	"github.com/storesync/backend/internal/interfaces/http/dto"
)

// Scheduler is the part of the sync scheduler exposed over HTTP
type Scheduler interface {
	CheckHealth(ctx context.Context) *scheduler.HealthReport
	Entries() []scheduler.EntryInfo
	TriggerNow(ctx context.Context, name string) error
}

// SchedulerHandler serves health and scheduled task endpoints
type SchedulerHandler struct {
	BaseHandler
	scheduler Scheduler
}

// NewSchedulerHandler creates a new SchedulerHandler
func NewSchedulerHandler(s Scheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: s}
}

// Health runs the health probes. A degraded report answers 503.
// GET /health
func (h *SchedulerHandler) Health(c *gin.Context) {
	report := h.scheduler.CheckHealth(c.Request.Context())
	status := http.StatusOK
	if report.Status != scheduler.HealthOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.Response{Success: status == http.StatusOK, Data: report})
}

// Tasks lists the scheduled tasks
// GET /scheduler/tasks
func (h *SchedulerHandler) Tasks(c *gin.Context) {
	h.Success(c, h.scheduler.Entries())
}

// RunTask runs a scheduled task immediately
// POST /scheduler/tasks/:name
func (h *SchedulerHandler) RunTask(c *gin.Context) {
	name := c.Param("name")
	if err := h.scheduler.TriggerNow(c.Request.Context(), name); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			h.NotFound(c, err.Error())
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"task": name, "ran": true})
}
