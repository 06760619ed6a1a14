package runs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diane-assistant/agent-gateway/internal/acp"
	"github.com/diane-assistant/agent-gateway/internal/agent/store"
	apperrors "github.com/diane-assistant/agent-gateway/internal/common/errors"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
	"github.com/diane-assistant/agent-gateway/internal/events"
	"github.com/diane-assistant/agent-gateway/internal/events/bus"
	"github.com/diane-assistant/agent-gateway/internal/gateway"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

// nopRecorder satisfies ExchangeRecorder without touching storage.
type nopRecorder struct{}

func (nopRecorder) Request(ctx context.Context, agentName, messageType string, payload interface{}) time.Time {
	return time.Now()
}

func (nopRecorder) Response(ctx context.Context, agentName, messageType string, payload interface{}, exchangeErr error, started time.Time) {
}

type mockEnsurer struct {
	EnsureRunningFn func(ctx context.Context, agent *store.AgentDefinition) (string, error)
}

func (m *mockEnsurer) EnsureRunning(ctx context.Context, agent *store.AgentDefinition) (string, error) {
	if m.EnsureRunningFn != nil {
		return m.EnsureRunningFn(ctx, agent)
	}
	return "http://127.0.0.1:1", nil
}

func remoteAgent(t *testing.T, name, url string) *store.MemoryStore {
	t.Helper()
	mem := store.NewMemoryStore()
	require.NoError(t, mem.Create(context.Background(), &store.AgentDefinition{
		Name:    name,
		Kind:    store.AgentKindRemote,
		URL:     url,
		Enabled: true,
	}))
	return mem
}

func newManager(t *testing.T, agents *store.MemoryStore, opts ...func(*Manager)) *Manager {
	t.Helper()
	router := gateway.NewRouter(agents, &mockEnsurer{}, time.Second, newTestLogger())
	m := NewManager(router, nopRecorder{}, nil, 5*time.Second, 100, newTestLogger())
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// echoBackend completes every run with one agent message echoing the input
// text.
func echoBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs" {
			http.NotFound(w, r)
			return
		}
		var req acp.RunCreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := &acp.Run{
			RunID:  "backend-1",
			Status: acp.RunStatusCompleted,
			Output: []acp.Message{acp.NewAgentMessage("echo: " + acp.TextOutput(req.Input))},
		}
		json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateSyncCompleted(t *testing.T) {
	srv := echoBackend(t)
	m := newManager(t, remoteAgent(t, "echo", srv.URL))

	run, err := m.Create(context.Background(), "echo", []acp.Message{acp.NewUserMessage("hello")}, acp.RunModeSync)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "echo: hello", run.TextOutput())
	assert.Equal(t, "backend-1", run.BackendRunID)
	assert.Nil(t, run.Error)
	require.NotNil(t, run.FinishedAt)
	assert.False(t, run.FinishedAt.Before(run.CreatedAt))

	evs, err := m.Events(run.ID)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, StatusCreated, evs[0].Status)
	assert.Equal(t, StatusRunning, evs[1].Status)
	assert.Equal(t, StatusCompleted, evs[2].Status)
}

func TestCreateUnknownAgent(t *testing.T) {
	m := newManager(t, store.NewMemoryStore())

	_, err := m.Create(context.Background(), "ghost", []acp.Message{acp.NewUserMessage("hi")}, acp.RunModeSync)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, m.List())
}

func TestCreateDisabledAgentNoNetwork(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	agents := remoteAgent(t, "dormant", srv.URL)
	require.NoError(t, agents.SetEnabled(context.Background(), "dormant", false))
	m := newManager(t, agents)

	_, err := m.Create(context.Background(), "dormant", []acp.Message{acp.NewUserMessage("hi")}, acp.RunModeSync)
	assert.True(t, apperrors.IsAgentDisabled(err))
	assert.Zero(t, hits.Load())
}

func TestCreateValidation(t *testing.T) {
	srv := echoBackend(t)
	m := newManager(t, remoteAgent(t, "echo", srv.URL))

	_, err := m.Create(context.Background(), "echo", nil, acp.RunModeSync)
	assert.Error(t, err)

	_, err = m.Create(context.Background(), "echo", []acp.Message{acp.NewUserMessage("hi")}, acp.RunMode("stream"))
	assert.True(t, apperrors.IsBadRequest(err))
}

func TestSyncUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // nothing listens here any more

	m := newManager(t, remoteAgent(t, "gone", url))
	run, err := m.Create(context.Background(), "gone", []acp.Message{acp.NewUserMessage("hi")}, acp.RunModeSync)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, ErrCodeUnreachable, run.Error.Code)
	assert.NotNil(t, run.FinishedAt)
}

func TestSyncBackendErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"code": "tool_crash", "message": "the tool exploded"},
		})
	}))
	defer srv.Close()

	m := newManager(t, remoteAgent(t, "crashy", srv.URL))
	run, err := m.Create(context.Background(), "crashy", []acp.Message{acp.NewUserMessage("hi")}, acp.RunModeSync)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, ErrCodeBackendError, run.Error.Code)
	assert.Equal(t, "the tool exploded", run.Error.Message)
}

func TestSyncMalformedResponseIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	m := newManager(t, remoteAgent(t, "garbled", srv.URL))
	run, err := m.Create(context.Background(), "garbled", []acp.Message{acp.NewUserMessage("hi")}, acp.RunModeSync)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, ErrCodeProtocolError, run.Error.Code)
}

func TestSyncTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	m := newManager(t, remoteAgent(t, "slow", srv.URL), func(m *Manager) {
		m.syncTimeout = 200 * time.Millisecond
	})

	run, err := m.Create(context.Background(), "slow", []acp.Message{acp.NewUserMessage("hi")}, acp.RunModeSync)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, ErrCodeTimeout, run.Error.Code)
}

func TestSyncAwaitingBackendSurfacesMarker(t *testing.T) {
	await := "approval"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cancel") {
			json.NewEncoder(w).Encode(&acp.Run{RunID: "backend-1", Status: acp.RunStatusCancelled})
			return
		}
		json.NewEncoder(w).Encode(&acp.Run{
			RunID:        "backend-1",
			SessionID:    "sess-42",
			Status:       acp.RunStatusAwaiting,
			AwaitRequest: &await,
		})
	}))
	defer srv.Close()

	m := newManager(t, remoteAgent(t, "careful", srv.URL), func(m *Manager) {
		m.syncTimeout = 2 * time.Second
	})

	started := time.Now()
	run, err := m.Create(context.Background(), "careful", []acp.Message{acp.NewUserMessage("rm -rf /tmp/x")}, acp.RunModeSync)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), time.Second, "awaiting must not burn the sync timeout")

	assert.Equal(t, StatusRunning, run.Status)
	assert.Nil(t, run.Error)
	assert.Nil(t, run.FinishedAt)
	assert.Equal(t, "sess-42", run.SessionID)
	require.NotNil(t, run.AwaitRequest)
	assert.Equal(t, "approval", *run.AwaitRequest)

	// A parked run is still cancellable.
	_, err = m.Cancel(context.Background(), run.ID)
	require.NoError(t, err)
	final, err := m.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)
	assert.Nil(t, final.Error)
	require.NotNil(t, final.FinishedAt)
}

func TestLocalStartupFailureSurfacedOnRun(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.Create(context.Background(), &store.AgentDefinition{
		Name:    "local",
		Kind:    store.AgentKindLocal,
		Command: "agent-bin",
		Port:    8101,
		Enabled: true,
	}))
	ensurer := &mockEnsurer{
		EnsureRunningFn: func(ctx context.Context, agent *store.AgentDefinition) (string, error) {
			return "", apperrors.PortInUse(agent.Port)
		},
	}
	router := gateway.NewRouter(mem, ensurer, time.Second, newTestLogger())
	m := NewManager(router, nopRecorder{}, nil, 5*time.Second, 100, newTestLogger())

	run, err := m.Create(context.Background(), "local", []acp.Message{acp.NewUserMessage("hi")}, acp.RunModeSync)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, ErrCodePortInUse, run.Error.Code)
}

func TestAsyncLifecycle(t *testing.T) {
	srv := echoBackend(t)
	m := newManager(t, remoteAgent(t, "echo", srv.URL))

	run, err := m.Create(context.Background(), "echo", []acp.Message{acp.NewUserMessage("later")}, acp.RunModeAsync)
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	assert.False(t, run.Status == StatusCompleted && run.FinishedAt == nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "echo: later", final.TextOutput())

	// The trail replays identically after the run finished.
	first, err := m.Events(run.ID)
	require.NoError(t, err)
	second, err := m.Events(run.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, StatusCreated, first[0].Status)
	assert.Equal(t, StatusCompleted, first[len(first)-1].Status)
}

func TestCancelMidFlight(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cancel") {
			json.NewEncoder(w).Encode(&acp.Run{RunID: "backend-1", Status: acp.RunStatusCancelled})
			return
		}
		// Drain the body so net/http starts watching for client disconnect;
		// otherwise r.Context() never fires and Close deadlocks.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	m := newManager(t, remoteAgent(t, "stuck", srv.URL))
	run, err := m.Create(context.Background(), "stuck", []acp.Message{acp.NewUserMessage("hi")}, acp.RunModeAsync)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("backend never saw the run")
	}

	_, err = m.Cancel(context.Background(), run.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := m.Wait(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)
	assert.Nil(t, final.Error)
	assert.NotNil(t, final.FinishedAt)

	evs, err := m.Events(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, evs[len(evs)-1].Status)
}

func TestCancelTerminalRunIsNoOp(t *testing.T) {
	srv := echoBackend(t)
	m := newManager(t, remoteAgent(t, "echo", srv.URL))

	run, err := m.Create(context.Background(), "echo", []acp.Message{acp.NewUserMessage("hi")}, acp.RunModeSync)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status)

	before, err := m.Events(run.ID)
	require.NoError(t, err)

	cancelled, err := m.Cancel(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, cancelled.Status)

	after, err := m.Events(run.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCancelUnknownRun(t *testing.T) {
	m := newManager(t, store.NewMemoryStore())
	_, err := m.Cancel(context.Background(), "nope")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetUnknownRun(t *testing.T) {
	m := newManager(t, store.NewMemoryStore())
	_, err := m.Get("nope")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = m.Events("nope")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAsyncBackendPolling(t *testing.T) {
	// The backend accepts the run and only reports completion on a later poll.
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/runs":
			json.NewEncoder(w).Encode(&acp.Run{RunID: "backend-7", Status: acp.RunStatusInProgress})
		case r.Method == http.MethodGet && r.URL.Path == "/runs/backend-7":
			if polls.Add(1) < 2 {
				json.NewEncoder(w).Encode(&acp.Run{RunID: "backend-7", Status: acp.RunStatusInProgress})
				return
			}
			json.NewEncoder(w).Encode(&acp.Run{
				RunID:  "backend-7",
				Status: acp.RunStatusCompleted,
				Output: []acp.Message{acp.NewAgentMessage("done")},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := newManager(t, remoteAgent(t, "poller", srv.URL))
	run, err := m.Create(context.Background(), "poller", []acp.Message{acp.NewUserMessage("go")}, acp.RunModeSync)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "done", run.TextOutput())
	assert.GreaterOrEqual(t, polls.Load(), int64(2))
}

func TestTransitionsPublishedOnBus(t *testing.T) {
	srv := echoBackend(t)
	memBus := bus.NewMemoryEventBus(newTestLogger())
	defer memBus.Close()

	var mu sync.Mutex
	var subjects []string
	_, err := memBus.Subscribe(events.SubjectRunAll, func(ctx context.Context, ev *bus.Event) error {
		mu.Lock()
		subjects = append(subjects, ev.Data["status"].(string))
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	router := gateway.NewRouter(remoteAgent(t, "echo", srv.URL), &mockEnsurer{}, time.Second, newTestLogger())
	m := NewManager(router, nopRecorder{}, memBus, 5*time.Second, 100, newTestLogger())

	run, err := m.Create(context.Background(), "echo", []acp.Message{acp.NewUserMessage("hi")}, acp.RunModeSync)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(subjects) >= 3
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, subjects, string(StatusCreated))
	assert.Contains(t, subjects, string(StatusRunning))
	assert.Contains(t, subjects, string(StatusCompleted))
}

func TestShutdownCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	m := newManager(t, remoteAgent(t, "stuck", srv.URL))
	run, err := m.Create(context.Background(), "stuck", []acp.Message{acp.NewUserMessage("hi")}, acp.RunModeAsync)
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.Shutdown(ctx)

	final, err := m.Get(run.ID)
	require.NoError(t, err)
	assert.True(t, final.Status.IsTerminal())
}
