package acpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/acp"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
)

// RunEvent is one recorded lifecycle transition of a server-side run.
type RunEvent struct {
	Status    acp.RunStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Error     *acp.Error    `json:"error,omitempty"`
}

type serverRun struct {
	run             *acp.Run
	events          []RunEvent
	cancel          context.CancelFunc
	cancelRequested bool
	done            chan struct{}
}

// Server hosts the ACP surface around one wrapped CLI.
type Server struct {
	spec       *CommandSpec
	exec       *Executor
	runTimeout time.Duration
	log        *logger.Logger

	mu   sync.RWMutex
	runs map[string]*serverRun
}

// NewServer creates an ACP server for a command spec. runTimeout bounds each
// CLI invocation.
func NewServer(spec *CommandSpec, runTimeout time.Duration, log *logger.Logger) *Server {
	return &Server{
		spec:       spec,
		exec:       NewExecutor(spec, log),
		runTimeout: runTimeout,
		log:        log.WithFields(zap.String("component", "acp-server")),
		runs:       make(map[string]*serverRun),
	}
}

// Routes mounts the ACP endpoints on the engine.
func (s *Server) Routes(engine *gin.Engine) {
	engine.GET("/ping", s.handlePing)
	engine.GET("/agents", s.handleListAgents)
	engine.GET("/agents/:name", s.handleGetAgent)
	engine.POST("/runs", s.handleCreateRun)
	engine.GET("/runs/:runId", s.handleGetRun)
	engine.POST("/runs/:runId/cancel", s.handleCancelRun)
	engine.GET("/runs/:runId/events", s.handleRunEvents)
}

func (s *Server) manifest() acp.AgentManifest {
	return acp.AgentManifest{
		Name:               s.spec.Name,
		Description:        s.spec.Description,
		InputContentTypes:  []string{"text/plain"},
		OutputContentTypes: []string{"text/plain"},
	}
}

func acpError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": &acp.Error{Code: code, Message: message}})
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListAgents(c *gin.Context) {
	agents := []acp.AgentManifest{s.manifest()}
	if c.Query("offset") != "" && c.Query("offset") != "0" {
		agents = []acp.AgentManifest{}
	}
	c.JSON(http.StatusOK, acp.AgentsListResponse{Agents: agents})
}

func (s *Server) handleGetAgent(c *gin.Context) {
	name := c.Param("name")
	if name != s.spec.Name {
		acpError(c, http.StatusNotFound, "not_found", "no such agent: "+name)
		return
	}
	manifest := s.manifest()
	c.JSON(http.StatusOK, &manifest)
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req acp.RunCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		acpError(c, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}
	if len(req.Input) == 0 {
		acpError(c, http.StatusBadRequest, "invalid_request", "input must contain at least one message")
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = acp.RunModeSync
	}
	if mode != acp.RunModeSync && mode != acp.RunModeAsync {
		acpError(c, http.StatusBadRequest, "invalid_request", "unsupported mode: "+string(mode))
		return
	}

	sr := &serverRun{
		run: &acp.Run{
			AgentName: s.spec.Name,
			RunID:     uuid.New().String(),
			Status:    acp.RunStatusCreated,
			Output:    []acp.Message{},
			CreatedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
	prompt := acp.TextOutput(req.Input)

	s.mu.Lock()
	s.runs[sr.run.RunID] = sr
	s.appendEventLocked(sr, acp.RunStatusCreated, nil)
	s.mu.Unlock()

	if mode == acp.RunModeSync {
		s.execute(sr, prompt)
		s.respondRun(c, http.StatusOK, sr.run.RunID)
		return
	}
	go s.execute(sr, prompt)
	s.respondRun(c, http.StatusAccepted, sr.run.RunID)
}

func (s *Server) handleGetRun(c *gin.Context) {
	s.respondRun(c, http.StatusOK, c.Param("runId"))
}

func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("runId")

	s.mu.Lock()
	sr, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		acpError(c, http.StatusNotFound, "not_found", "no such run: "+runID)
		return
	}
	if sr.run.Status.IsTerminal() {
		s.mu.Unlock()
		s.respondRun(c, http.StatusOK, runID)
		return
	}
	sr.cancelRequested = true
	cancel := sr.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.respondRun(c, http.StatusAccepted, runID)
}

func (s *Server) handleRunEvents(c *gin.Context) {
	runID := c.Param("runId")
	s.mu.RLock()
	sr, ok := s.runs[runID]
	if !ok {
		s.mu.RUnlock()
		acpError(c, http.StatusNotFound, "not_found", "no such run: "+runID)
		return
	}
	events := append([]RunEvent(nil), sr.events...)
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

func (s *Server) respondRun(c *gin.Context, status int, runID string) {
	s.mu.RLock()
	sr, ok := s.runs[runID]
	if !ok {
		s.mu.RUnlock()
		acpError(c, http.StatusNotFound, "not_found", "no such run: "+runID)
		return
	}
	run := *sr.run
	run.Output = append([]acp.Message(nil), sr.run.Output...)
	s.mu.RUnlock()

	c.JSON(status, &run)
}

func (s *Server) execute(sr *serverRun, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	defer close(sr.done)

	s.mu.Lock()
	if sr.cancelRequested {
		s.finishLocked(sr, acp.RunStatusCancelled, nil)
		s.mu.Unlock()
		return
	}
	sr.cancel = cancel
	sr.run.Status = acp.RunStatusInProgress
	s.appendEventLocked(sr, acp.RunStatusInProgress, nil)
	s.mu.Unlock()

	output, err := s.exec.Execute(ctx, prompt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if sr.cancelRequested {
			s.finishLocked(sr, acp.RunStatusCancelled, nil)
			return
		}
		code := "execution_failed"
		if ctx.Err() == context.DeadlineExceeded {
			code = "timeout"
		}
		s.finishLocked(sr, acp.RunStatusFailed, &acp.Error{Code: code, Message: err.Error()})
		return
	}
	sr.run.Output = []acp.Message{acp.NewAgentMessage(output)}
	s.finishLocked(sr, acp.RunStatusCompleted, nil)
}

// finishLocked records a terminal transition. Caller holds s.mu.
func (s *Server) finishLocked(sr *serverRun, status acp.RunStatus, runErr *acp.Error) {
	sr.run.Status = status
	sr.run.Error = runErr
	now := time.Now().UTC()
	sr.run.FinishedAt = &now
	s.appendEventLocked(sr, status, runErr)

	s.log.Info("run finished",
		zap.String("run_id", sr.run.RunID),
		zap.String("status", string(status)))
}

func (s *Server) appendEventLocked(sr *serverRun, status acp.RunStatus, runErr *acp.Error) {
	sr.events = append(sr.events, RunEvent{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Error:     runErr,
	})
}
