package api

import (
	"github.com/gin-gonic/gin"

	"github.com/diane-assistant/agent-gateway/internal/agent/registry"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
	"github.com/diane-assistant/agent-gateway/internal/gateway"
	"github.com/diane-assistant/agent-gateway/internal/gateway/websocket"
	"github.com/diane-assistant/agent-gateway/internal/runs"
)

// SetupRoutes mounts the management API on the engine: agent CRUD and
// connectivity under /api/v1/agents, run dispatch under /api/v1/runs,
// plus /health and the /ws stream.
func SetupRoutes(
	engine *gin.Engine,
	reg *registry.Registry,
	router *gateway.Router,
	runManager *runs.Manager,
	processes ProcessStatus,
	activityReader ActivityReader,
	hub *websocket.Hub,
	log *logger.Logger,
) {
	handler := NewHandler(reg, router, runManager, processes, activityReader, log)

	engine.Use(Recovery(log), RequestLogger(log), CORS())

	engine.GET("/health", handler.HealthCheck)
	if hub != nil {
		engine.GET("/ws", websocket.Handler(hub, log))
	}

	v1 := engine.Group("/api/v1")

	agents := v1.Group("/agents")
	{
		agents.GET("", handler.ListAgents)
		agents.POST("", handler.CreateAgent)
		agents.GET("/:name", handler.GetAgent)
		agents.PUT("/:name", handler.UpdateAgent)
		agents.DELETE("/:name", handler.DeleteAgent)
		agents.POST("/:name/enable", handler.EnableAgent)
		agents.POST("/:name/disable", handler.DisableAgent)
		agents.POST("/:name/test", handler.TestAgent)
		agents.GET("/:name/agents", handler.ListSubAgents)
		agents.GET("/:name/logs", handler.ListAgentLogs)
	}

	runsGroup := v1.Group("/runs")
	{
		runsGroup.POST("", handler.CreateRun)
		runsGroup.GET("", handler.ListRuns)
		runsGroup.GET("/:runId", handler.GetRun)
		runsGroup.POST("/:runId/cancel", handler.CancelRun)
		runsGroup.GET("/:runId/events", handler.GetRunEvents)
	}
}
