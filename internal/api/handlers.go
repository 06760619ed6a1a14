package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/acp"
	"github.com/diane-assistant/agent-gateway/internal/agent/registry"
	"github.com/diane-assistant/agent-gateway/internal/agent/store"
	"github.com/diane-assistant/agent-gateway/internal/common/errors"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
	"github.com/diane-assistant/agent-gateway/internal/gateway"
	"github.com/diane-assistant/agent-gateway/internal/runs"
)

// ProcessStatus reports whether a local agent's process is live.
type ProcessStatus interface {
	Running(name string) bool
}

// ActivityReader lists recorded exchanges for an agent.
type ActivityReader interface {
	List(ctx context.Context, agentName string, limit, offset int) ([]*store.AgentLog, error)
}

// Handler contains the gateway's management HTTP handlers.
type Handler struct {
	registry  *registry.Registry
	router    *gateway.Router
	runs      *runs.Manager
	processes ProcessStatus
	activity  ActivityReader
	logger    *logger.Logger
}

// NewHandler creates the management API handler.
func NewHandler(
	reg *registry.Registry,
	router *gateway.Router,
	runManager *runs.Manager,
	processes ProcessStatus,
	activityReader ActivityReader,
	log *logger.Logger,
) *Handler {
	return &Handler{
		registry:  reg,
		router:    router,
		runs:      runManager,
		processes: processes,
		activity:  activityReader,
		logger:    log.WithFields(zap.String("component", "api")),
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.InternalError("internal error", err)
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.WithContext(c.Request.Context()).Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(appErr.HTTPStatus, gin.H{
		"error": gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		},
	})
}

// ListAgents returns all registered agents.
// GET /api/v1/agents
func (h *Handler) ListAgents(c *gin.Context) {
	agents, err := h.registry.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]AgentResponse, 0, len(agents))
	for _, agent := range agents {
		resp = append(resp, agentToResponse(agent, h.running(agent)))
	}
	c.JSON(http.StatusOK, AgentsListResponse{Agents: resp, Total: len(resp)})
}

// CreateAgent registers a new agent.
// POST /api/v1/agents
func (h *Handler) CreateAgent(c *gin.Context) {
	var req CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	agent := &store.AgentDefinition{
		Name:        req.Name,
		Kind:        store.AgentKind(req.Kind),
		Command:     req.Command,
		Args:        req.Args,
		Env:         req.Env,
		WorkDir:     req.WorkDir,
		Port:        req.Port,
		URL:         req.URL,
		SubAgent:    req.SubAgent,
		Description: req.Description,
		Tags:        req.Tags,
		Enabled:     true,
	}
	if req.Enabled != nil {
		agent.Enabled = *req.Enabled
	}

	if err := h.registry.Add(c.Request.Context(), agent); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agentToResponse(agent, false))
}

// GetAgent returns one registered agent.
// GET /api/v1/agents/:name
func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.registry.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentToResponse(agent, h.running(agent)))
}

// UpdateAgent replaces a registered agent's definition.
// PUT /api/v1/agents/:name
func (h *Handler) UpdateAgent(c *gin.Context) {
	name := c.Param("name")
	var req UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	existing, err := h.registry.Get(c.Request.Context(), name)
	if err != nil {
		h.respondError(c, err)
		return
	}

	agent := &store.AgentDefinition{
		ID:          existing.ID,
		Name:        name,
		Kind:        store.AgentKind(req.Kind),
		Command:     req.Command,
		Args:        req.Args,
		Env:         req.Env,
		WorkDir:     req.WorkDir,
		Port:        req.Port,
		URL:         req.URL,
		SubAgent:    req.SubAgent,
		Description: req.Description,
		Tags:        req.Tags,
		Enabled:     existing.Enabled,
	}
	if req.Enabled != nil {
		agent.Enabled = *req.Enabled
	}

	if err := h.registry.Update(c.Request.Context(), agent); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentToResponse(agent, h.running(agent)))
}

// DeleteAgent removes an agent, stopping its process if one is live.
// DELETE /api/v1/agents/:name
func (h *Handler) DeleteAgent(c *gin.Context) {
	if err := h.registry.Remove(c.Request.Context(), c.Param("name")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "agent removed"})
}

// EnableAgent marks an agent dispatchable.
// POST /api/v1/agents/:name/enable
func (h *Handler) EnableAgent(c *gin.Context) {
	name := c.Param("name")
	if err := h.registry.Enable(c.Request.Context(), name); err != nil {
		h.respondError(c, err)
		return
	}
	agent, err := h.registry.Get(c.Request.Context(), name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentToResponse(agent, h.running(agent)))
}

// DisableAgent blocks dispatch; a live local process keeps running.
// POST /api/v1/agents/:name/disable
func (h *Handler) DisableAgent(c *gin.Context) {
	name := c.Param("name")
	if err := h.registry.Disable(c.Request.Context(), name); err != nil {
		h.respondError(c, err)
		return
	}
	agent, err := h.registry.Get(c.Request.Context(), name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentToResponse(agent, h.running(agent)))
}

// TestAgent probes an agent's connectivity.
// POST /api/v1/agents/:name/test
func (h *Handler) TestAgent(c *gin.Context) {
	result, err := h.router.TestConnectivity(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListSubAgents lists the agents a remote ACP server exposes.
// GET /api/v1/agents/:name/agents
func (h *Handler) ListSubAgents(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	manifests, err := h.router.ListRemoteAgents(c.Request.Context(), c.Param("name"), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acp.AgentsListResponse{Agents: manifests})
}

// ListAgentLogs returns recorded exchanges with an agent, newest first.
// GET /api/v1/agents/:name/logs
func (h *Handler) ListAgentLogs(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.registry.Get(c.Request.Context(), name); err != nil {
		h.respondError(c, err)
		return
	}

	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	logs, err := h.activity.List(c.Request.Context(), name, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]AgentLogResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, logToResponse(l))
	}
	c.JSON(http.StatusOK, AgentLogsResponse{Logs: resp, Total: len(resp)})
}

// CreateRun dispatches a run. Sync runs block and return the terminal run;
// async runs return 202 with the created run.
// POST /api/v1/runs
func (h *Handler) CreateRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	run, err := h.runs.Create(c.Request.Context(), req.AgentName, req.Input, acp.RunMode(req.Mode))
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if run.Mode == acp.RunModeAsync {
		status = http.StatusAccepted
	}
	c.JSON(status, run)
}

// ListRuns returns all runs, newest first.
// GET /api/v1/runs
func (h *Handler) ListRuns(c *gin.Context) {
	all := h.runs.List()
	c.JSON(http.StatusOK, gin.H{"runs": all, "total": len(all)})
}

// GetRun returns the current state of a run.
// GET /api/v1/runs/:runId
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.runs.Get(c.Param("runId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// CancelRun requests cooperative cancellation.
// POST /api/v1/runs/:runId/cancel
func (h *Handler) CancelRun(c *gin.Context) {
	run, err := h.runs.Cancel(c.Request.Context(), c.Param("runId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// GetRunEvents returns the ordered transition trail of a run.
// GET /api/v1/runs/:runId/events
func (h *Handler) GetRunEvents(c *gin.Context) {
	evs, err := h.runs.Events(c.Param("runId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs, "total": len(evs)})
}

// HealthCheck returns liveness.
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) running(agent *store.AgentDefinition) bool {
	if h.processes == nil || !agent.IsLocal() {
		return false
	}
	return h.processes.Running(agent.Name)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
