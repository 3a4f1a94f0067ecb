package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/printshop-workflow/internal/application/queue"
	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultActor     = "ops-api"
)

// WorkflowService is the orchestrator surface the handlers use
type WorkflowService interface {
	GetWorkflowStatus(ctx context.Context, quoteID string) (*workflow.WorkflowStatus, error)
	QueueStats(ctx context.Context) (*queue.Stats, error)
	DeadLetters(ctx context.Context, limit int) ([]*entity.WorkflowTask, error)
	RequeueTask(ctx context.Context, taskID, actor string) (*entity.WorkflowTask, error)
}

// AuditQuerier reads the audit trail
type AuditQuerier interface {
	Query(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditLogEntry, error)
}

// HealthFunc reports overall health and a per-component body
type HealthFunc func(ctx context.Context) (healthy bool, components interface{})

// Handlers contains all HTTP request handlers
type Handlers struct {
	workflow WorkflowService
	audit    AuditQuerier
	health   HealthFunc
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(workflow WorkflowService, audit AuditQuerier, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		workflow: workflow,
		audit:    audit,
		health:   health,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// ListResponse wraps list results
type ListResponse struct {
	Items interface{} `json:"items"`
	Count int         `json:"count"`
}

// RequeueRequest is the optional body of a requeue call
type RequeueRequest struct {
	Actor string `json:"actor" binding:"omitempty,max=200"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.health != nil {
		healthy, components := h.health(c.Request.Context())
		resp.Components = components
		if !healthy {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, resp)
}

// GetWorkflowStatus handles GET /api/quotes/:id/workflow
func (h *Handlers) GetWorkflowStatus(c *gin.Context) {
	status, err := h.workflow.GetWorkflowStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// QueueStats handles GET /api/queue/stats
func (h *Handlers) QueueStats(c *gin.Context) {
	stats, err := h.workflow.QueueStats(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// DeadLetters handles GET /api/queue/dead-letters
func (h *Handlers) DeadLetters(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	tasks, err := h.workflow.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: tasks, Count: len(tasks)})
}

// RequeueTask handles POST /api/queue/tasks/:id/requeue
func (h *Handlers) RequeueTask(c *gin.Context) {
	var req RequeueRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = c.GetHeader("X-Actor")
	}
	if actor == "" {
		actor = defaultActor
	}

	task, err := h.workflow.RequeueTask(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.logger.Info("Task requeued via API", "task_id", task.ID, "actor", actor)
	c.JSON(http.StatusOK, task)
}

// QueryAudit handles GET /api/audit
func (h *Handlers) QueryAudit(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	filter := entity.AuditFilter{
		EntityType: entity.EntityType(c.Query("entity_type")),
		EntityID:   c.Query("entity_id"),
		Action:     c.Query("action"),
		Limit:      limit,
	}
	switch filter.EntityType {
	case "", entity.EntityQuote, entity.EntityOrder, entity.EntityJob, entity.EntityTask:
	default:
		badRequest(c, "unknown entity_type "+string(filter.EntityType))
		return
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			badRequest(c, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}

	entries, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: entries, Count: len(entries)})
}

// parseLimit reads ?limit, writing a problem response when it is invalid
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		badRequest(c, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		return 0, false
	}
	return limit, true
}
