package runs

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/acp"
	"github.com/diane-assistant/agent-gateway/internal/agent/activity"
	"github.com/diane-assistant/agent-gateway/internal/agent/store"
	apperrors "github.com/diane-assistant/agent-gateway/internal/common/errors"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
	"github.com/diane-assistant/agent-gateway/internal/events"
	"github.com/diane-assistant/agent-gateway/internal/events/bus"
	"github.com/diane-assistant/agent-gateway/internal/gateway"
)

const backendPollInterval = 500 * time.Millisecond

// Resolver locates agents and resolves them to dispatchable targets.
// *gateway.Router satisfies it.
type Resolver interface {
	Lookup(ctx context.Context, name string) (*store.AgentDefinition, error)
	Resolve(ctx context.Context, name string) (*gateway.Target, error)
	Client(target *gateway.Target) *acp.Client
}

// ExchangeRecorder logs request/response pairs against an agent.
// *activity.Recorder satisfies it.
type ExchangeRecorder interface {
	Request(ctx context.Context, agentName, messageType string, payload interface{}) time.Time
	Response(ctx context.Context, agentName, messageType string, payload interface{}, exchangeErr error, started time.Time)
}

// Manager tracks every run the gateway dispatches. Runs live in memory;
// the bus carries transitions to anyone who needs to persist or stream them.
type Manager struct {
	router   Resolver
	recorder ExchangeRecorder
	bus      bus.EventBus
	log      *logger.Logger

	syncTimeout time.Duration
	maxEvents   int

	mu   sync.RWMutex
	runs map[string]*runState
}

type runState struct {
	run             *Run
	events          []Event
	cancel          context.CancelFunc
	baseURL         string
	cancelRequested bool
	done            chan struct{}
}

// NewManager wires a run manager. syncTimeout bounds the total execution of
// a run including agent startup; maxEvents caps the per-run event trail.
func NewManager(router Resolver, recorder ExchangeRecorder, eventBus bus.EventBus, syncTimeout time.Duration, maxEvents int, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		router:      router,
		recorder:    recorder,
		bus:         eventBus,
		log:         log.WithFields(zap.String("component", "runs")),
		syncTimeout: syncTimeout,
		maxEvents:   maxEvents,
		runs:        make(map[string]*runState),
	}
}

// Create starts a run against the named agent. Sync mode blocks until the
// run reaches a terminal state or the configured timeout fires; async mode
// returns as soon as the run is registered.
func (m *Manager) Create(ctx context.Context, agentName string, input []acp.Message, mode acp.RunMode) (*Run, error) {
	switch mode {
	case "":
		mode = acp.RunModeSync
	case acp.RunModeSync, acp.RunModeAsync:
	default:
		return nil, apperrors.BadRequest("unsupported run mode: " + string(mode))
	}
	if len(input) == 0 {
		return nil, apperrors.ValidationError("input", "input must contain at least one message")
	}

	// Unknown and disabled agents are rejected before anything is recorded.
	if _, err := m.router.Lookup(ctx, agentName); err != nil {
		return nil, err
	}

	st := &runState{
		run: &Run{
			ID:        uuid.New().String(),
			AgentName: agentName,
			Mode:      mode,
			Input:     append([]acp.Message(nil), input...),
			Status:    StatusCreated,
			CreatedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.runs[st.run.ID] = st
	m.appendEventLocked(st, StatusCreated, nil)
	m.mu.Unlock()
	m.publish(events.SubjectRunCreated, st.run.ID, agentName, StatusCreated, nil)

	if mode == acp.RunModeSync {
		m.execute(st)
		return m.Get(st.run.ID)
	}
	go m.execute(st)
	return st.run.Clone(), nil
}

// Get returns a copy of the run.
func (m *Manager) Get(runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.runs[runID]
	if !ok {
		return nil, apperrors.NotFound("run", runID)
	}
	return st.run.Clone(), nil
}

// List returns copies of all runs, newest first.
func (m *Manager) List() []*Run {
	m.mu.RLock()
	out := make([]*Run, 0, len(m.runs))
	for _, st := range m.runs {
		out = append(out, st.run.Clone())
	}
	m.mu.RUnlock()
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.After(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Events returns the run's ordered transition trail. The slice is a copy;
// replaying it after the run finished yields the same sequence.
func (m *Manager) Events(runID string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.runs[runID]
	if !ok {
		return nil, apperrors.NotFound("run", runID)
	}
	return append([]Event(nil), st.events...), nil
}

// Cancel requests cooperative cancellation. Cancelling a terminal run is a
// no-op that returns the run unchanged. The returned run may still be
// running; it transitions to cancelled once the dispatch observes the
// request.
func (m *Manager) Cancel(ctx context.Context, runID string) (*Run, error) {
	m.mu.Lock()
	st, ok := m.runs[runID]
	if !ok {
		m.mu.Unlock()
		return nil, apperrors.NotFound("run", runID)
	}
	if st.run.Status.IsTerminal() {
		run := st.run.Clone()
		m.mu.Unlock()
		return run, nil
	}
	st.cancelRequested = true
	cancel := st.cancel
	backendID := st.run.BackendRunID
	baseURL := st.baseURL
	agentName := st.run.AgentName
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if backendID != "" && baseURL != "" {
		// Best effort: the local context cancellation already aborts our
		// request; this tells the backend to stop doing work.
		go m.cancelBackend(agentName, baseURL, backendID)
	}

	// A run parked in awaiting has no dispatch loop left to observe the
	// request; settle it here.
	select {
	case <-st.done:
		m.finish(st, StatusCancelled, nil)
	default:
	}
	return m.Get(runID)
}

// Wait blocks until the run reaches a terminal state or ctx expires.
func (m *Manager) Wait(ctx context.Context, runID string) (*Run, error) {
	m.mu.RLock()
	st, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("run", runID)
	}
	select {
	case <-st.done:
		return m.Get(runID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels every in-flight run and waits for them to settle.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	pending := make([]*runState, 0, len(m.runs))
	for _, st := range m.runs {
		if !st.run.Status.IsTerminal() {
			st.cancelRequested = true
			if st.cancel != nil {
				st.cancel()
			}
			pending = append(pending, st)
		}
	}
	m.mu.Unlock()

	for _, st := range pending {
		select {
		case <-st.done:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) execute(st *runState) {
	runCtx, cancel := context.WithTimeout(context.Background(), m.syncTimeout)
	defer cancel()
	defer close(st.done)

	m.mu.Lock()
	if st.cancelRequested {
		m.transitionLocked(st, StatusCancelled, nil)
		m.mu.Unlock()
		m.publish(events.SubjectRunCancelled, st.run.ID, st.run.AgentName, StatusCancelled, nil)
		return
	}
	st.cancel = cancel
	m.transitionLocked(st, StatusRunning, nil)
	agentName := st.run.AgentName
	input := st.run.Input
	m.mu.Unlock()
	m.publish(events.SubjectRunRunning, st.run.ID, agentName, StatusRunning, nil)

	target, err := m.router.Resolve(runCtx, agentName)
	if err != nil {
		m.finish(st, StatusFailed, m.classify(st, err))
		return
	}
	client := m.router.Client(target)

	m.mu.Lock()
	st.baseURL = client.BaseURL()
	m.mu.Unlock()

	req := acp.RunCreateRequest{
		AgentName: target.SubAgentName(),
		Input:     input,
		Mode:      acp.RunModeSync,
	}
	started := m.recorder.Request(runCtx, agentName, activity.MessageRun, req)
	backendRun, err := client.CreateRun(runCtx, req)
	m.recorder.Response(runCtx, agentName, activity.MessageRun, backendRun, err, started)
	if err != nil {
		m.finish(st, StatusFailed, m.classify(st, err))
		return
	}

	m.mu.Lock()
	st.run.BackendRunID = backendRun.RunID
	m.mu.Unlock()

	if !backendRun.Status.IsTerminal() && backendRun.Status != acp.RunStatusAwaiting {
		backendRun, err = client.WaitForCompletion(runCtx, backendRun.RunID, backendPollInterval)
		if err != nil {
			m.finish(st, StatusFailed, m.classify(st, err))
			return
		}
	}

	m.settle(st, backendRun)
}

// settle maps the backend run's outcome onto our lifecycle. An awaiting
// backend leaves the run non-terminal with the await marker surfaced.
func (m *Manager) settle(st *runState, backendRun *acp.Run) {
	m.mu.Lock()
	st.run.Output = backendRun.Output
	st.run.SessionID = backendRun.SessionID
	st.run.AwaitRequest = backendRun.AwaitRequest
	m.mu.Unlock()

	switch backendRun.Status {
	case acp.RunStatusCompleted:
		m.finish(st, StatusCompleted, nil)
	case acp.RunStatusCancelled:
		m.finish(st, StatusCancelled, nil)
	case acp.RunStatusAwaiting:
		m.mu.Lock()
		runID := st.run.ID
		agentName := st.run.AgentName
		m.mu.Unlock()
		m.publish(events.SubjectRunAwaiting, runID, agentName, StatusRunning, nil)
		m.log.WithRunID(runID).WithAgent(agentName).Info("run awaiting caller input")
	default:
		info := &ErrorInfo{Code: ErrCodeBackendError, Message: "backend reported failure"}
		if backendRun.Error != nil {
			info.Message = backendRun.Error.Message
			if backendRun.Error.Code == acp.ErrCodeProtocol {
				info.Code = ErrCodeProtocolError
			}
		}
		m.finish(st, StatusFailed, info)
	}
}

func (m *Manager) finish(st *runState, status Status, errInfo *ErrorInfo) {
	if errInfo != nil && errInfo.Code == "cancelled" {
		status = StatusCancelled
		errInfo = nil
	}

	m.mu.Lock()
	if st.run.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}
	m.transitionLocked(st, status, errInfo)
	runID := st.run.ID
	agentName := st.run.AgentName
	m.mu.Unlock()

	subject := events.SubjectRunCompleted
	switch status {
	case StatusFailed:
		subject = events.SubjectRunFailed
	case StatusCancelled:
		subject = events.SubjectRunCancelled
	}
	m.publish(subject, runID, agentName, status, errInfo)

	runLog := m.log.WithRunID(runID).WithAgent(agentName)
	if errInfo != nil {
		runLog.Warn("run failed",
			zap.String("error_code", errInfo.Code),
			zap.String("error", errInfo.Message))
	} else {
		runLog.Info("run finished", zap.String("status", string(status)))
	}
}

// transitionLocked advances the run state. Caller holds m.mu.
func (m *Manager) transitionLocked(st *runState, status Status, errInfo *ErrorInfo) {
	st.run.Status = status
	if status.IsTerminal() {
		now := time.Now().UTC()
		st.run.FinishedAt = &now
	}
	if status == StatusFailed {
		st.run.Error = errInfo
	}
	m.appendEventLocked(st, status, errInfo)
}

func (m *Manager) appendEventLocked(st *runState, status Status, errInfo *ErrorInfo) {
	if m.maxEvents > 0 && len(st.events) >= m.maxEvents {
		return
	}
	st.events = append(st.events, Event{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Error:     errInfo,
	})
}

func (m *Manager) publish(subject, runID, agentName string, status Status, errInfo *ErrorInfo) {
	if m.bus == nil {
		return
	}
	data := map[string]interface{}{
		"run_id":     runID,
		"agent_name": agentName,
		"status":     string(status),
	}
	if errInfo != nil {
		data["error_code"] = errInfo.Code
		data["error"] = errInfo.Message
	}
	ev := bus.NewEvent(events.TypeRunTransition, "agent-gateway", data)
	if err := m.bus.Publish(context.Background(), subject, ev); err != nil {
		m.log.Warn("failed to publish run event", zap.String("subject", subject), zap.Error(err))
	}
}

func (m *Manager) cancelBackend(agentName, baseURL, backendRunID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := acp.NewClient(baseURL, 10*time.Second)
	started := m.recorder.Request(ctx, agentName, activity.MessageCancel, map[string]string{"run_id": backendRunID})
	out, err := client.CancelRun(ctx, backendRunID)
	m.recorder.Response(ctx, agentName, activity.MessageCancel, out, err, started)
	if err != nil {
		m.log.Debug("backend cancel failed",
			zap.String("agent", agentName),
			zap.String("backend_run_id", backendRunID),
			zap.Error(err))
	}
}

// classify maps a dispatch error onto a run error code. A context.Canceled
// after a cancel request is not an error at all; finish turns the sentinel
// "cancelled" code into a cancelled status.
func (m *Manager) classify(st *runState, err error) *ErrorInfo {
	m.mu.RLock()
	cancelRequested := st.cancelRequested
	m.mu.RUnlock()

	if cancelRequested && (errors.Is(err, context.Canceled) || isCancelTransport(err)) {
		return &ErrorInfo{Code: "cancelled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ErrorInfo{Code: ErrCodeTimeout, Message: "run exceeded the configured timeout"}
	}

	var acpErr *acp.Error
	if errors.As(err, &acpErr) {
		code := ErrCodeBackendError
		if acpErr.Code == acp.ErrCodeProtocol {
			code = ErrCodeProtocolError
		}
		return &ErrorInfo{Code: code, Message: acpErr.Message}
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrCodePortInUse:
			return &ErrorInfo{Code: ErrCodePortInUse, Message: appErr.Message}
		case apperrors.ErrCodeStartupTimeout:
			return &ErrorInfo{Code: ErrCodeStartupTimeout, Message: appErr.Message}
		case apperrors.ErrCodeUnreachable:
			return &ErrorInfo{Code: ErrCodeUnreachable, Message: appErr.Message}
		case apperrors.ErrCodeTimeout:
			return &ErrorInfo{Code: ErrCodeTimeout, Message: appErr.Message}
		}
		return &ErrorInfo{Code: ErrCodeBackendError, Message: appErr.Message}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &ErrorInfo{Code: ErrCodeTimeout, Message: err.Error()}
		}
		return &ErrorInfo{Code: ErrCodeUnreachable, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ErrorInfo{Code: ErrCodeUnreachable, Message: err.Error()}
	}

	return &ErrorInfo{Code: ErrCodeBackendError, Message: err.Error()}
}

// isCancelTransport catches the http transport's wrapped "context canceled"
// that errors.Is does not always surface through response body errors.
func isCancelTransport(err error) bool {
	return err != nil && strings.Contains(err.Error(), "context canceled")
}
