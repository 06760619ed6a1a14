package acpserver

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diane-assistant/agent-gateway/internal/acp"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

// startServer hosts an ACP server around a command spec and returns a client
// pointed at it.
func startServer(t *testing.T, spec *CommandSpec, runTimeout time.Duration) *acp.Client {
	t.Helper()
	srv := NewServer(spec, runTimeout, newTestLogger())
	engine := gin.New()
	srv.Routes(engine)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)
	return acp.NewClient(ts.URL, 0)
}

func echoSpec() *CommandSpec {
	return &CommandSpec{
		Name:        "echo",
		Description: "echoes the prompt",
		Command:     "/bin/echo",
	}
}

func TestPingAndManifest(t *testing.T) {
	client := startServer(t, echoSpec(), 5*time.Second)
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	agents, err := client.ListAgents(ctx, 50, 0)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "echo", agents[0].Name)

	manifest, err := client.GetAgent(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, "echoes the prompt", manifest.Description)

	_, err = client.GetAgent(ctx, "ghost")
	require.Error(t, err)
	var acpErr *acp.Error
	require.ErrorAs(t, err, &acpErr)
	assert.Equal(t, "not_found", acpErr.Code)
}

func TestSyncRunEchoesPrompt(t *testing.T) {
	client := startServer(t, echoSpec(), 5*time.Second)

	run, err := client.CreateRun(context.Background(), acp.RunCreateRequest{
		Input: []acp.Message{acp.NewUserMessage("hello world")},
		Mode:  acp.RunModeSync,
	})
	require.NoError(t, err)

	assert.Equal(t, acp.RunStatusCompleted, run.Status)
	assert.Equal(t, "hello world", run.TextOutput())
	assert.NotNil(t, run.FinishedAt)
	assert.Nil(t, run.Error)
}

func TestFailedCommandReportsError(t *testing.T) {
	client := startServer(t, &CommandSpec{Name: "broken", Command: "/bin/false"}, 5*time.Second)

	run, err := client.CreateRun(context.Background(), acp.RunCreateRequest{
		Input: []acp.Message{acp.NewUserMessage("x")},
	})
	require.NoError(t, err)

	assert.Equal(t, acp.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, "execution_failed", run.Error.Code)
}

func TestRunTimeout(t *testing.T) {
	spec := &CommandSpec{
		Name:    "sleeper",
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 30", "sh"},
	}
	client := startServer(t, spec, 300*time.Millisecond)

	run, err := client.CreateRun(context.Background(), acp.RunCreateRequest{
		Input: []acp.Message{acp.NewUserMessage("x")},
	})
	require.NoError(t, err)

	assert.Equal(t, acp.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, "timeout", run.Error.Code)
}

func TestAsyncRunAndCancel(t *testing.T) {
	spec := &CommandSpec{
		Name:    "sleeper",
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 30", "sh"},
	}
	client := startServer(t, spec, time.Minute)
	ctx := context.Background()

	run, err := client.CreateRun(ctx, acp.RunCreateRequest{
		Input: []acp.Message{acp.NewUserMessage("x")},
		Mode:  acp.RunModeAsync,
	})
	require.NoError(t, err)
	require.NotEmpty(t, run.RunID)
	assert.False(t, run.Status.IsTerminal())

	_, err = client.CancelRun(ctx, run.RunID)
	require.NoError(t, err)

	final, err := client.WaitForCompletion(ctx, run.RunID, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, acp.RunStatusCancelled, final.Status)

	// Cancel after the fact is idempotent.
	again, err := client.CancelRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, acp.RunStatusCancelled, again.Status)
}

func TestAsyncRunCompletes(t *testing.T) {
	client := startServer(t, echoSpec(), 5*time.Second)
	ctx := context.Background()

	run, err := client.CreateRun(ctx, acp.RunCreateRequest{
		Input: []acp.Message{acp.NewUserMessage("async result")},
		Mode:  acp.RunModeAsync,
	})
	require.NoError(t, err)

	final, err := client.WaitForCompletion(ctx, run.RunID, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, acp.RunStatusCompleted, final.Status)
	assert.Equal(t, "async result", final.TextOutput())
}

func TestRunEventsTrail(t *testing.T) {
	srv := NewServer(echoSpec(), 5*time.Second, newTestLogger())
	engine := gin.New()
	srv.Routes(engine)
	ts := httptest.NewServer(engine)
	defer ts.Close()
	client := acp.NewClient(ts.URL, 0)

	run, err := client.CreateRun(context.Background(), acp.RunCreateRequest{
		Input: []acp.Message{acp.NewUserMessage("hi")},
	})
	require.NoError(t, err)

	srv.mu.RLock()
	sr := srv.runs[run.RunID]
	events := append([]RunEvent(nil), sr.events...)
	srv.mu.RUnlock()

	require.Len(t, events, 3)
	assert.Equal(t, acp.RunStatusCreated, events[0].Status)
	assert.Equal(t, acp.RunStatusInProgress, events[1].Status)
	assert.Equal(t, acp.RunStatusCompleted, events[2].Status)
}

func TestCreateRunValidation(t *testing.T) {
	client := startServer(t, echoSpec(), 5*time.Second)

	_, err := client.CreateRun(context.Background(), acp.RunCreateRequest{})
	require.Error(t, err)
	var acpErr *acp.Error
	require.ErrorAs(t, err, &acpErr)
	assert.Equal(t, "invalid_request", acpErr.Code)
}

func TestUnknownRun(t *testing.T) {
	client := startServer(t, echoSpec(), 5*time.Second)

	_, err := client.GetRun(context.Background(), "nope")
	var acpErr *acp.Error
	require.ErrorAs(t, err, &acpErr)
	assert.Equal(t, "not_found", acpErr.Code)
}

func TestPresets(t *testing.T) {
	spec, err := Preset("opencode")
	require.NoError(t, err)
	assert.Equal(t, "opencode", spec.Command)
	assert.Equal(t, []string{"run"}, spec.Args)

	spec, err = Preset("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", spec.Command)

	spec, err = Preset("custom")
	require.NoError(t, err)
	assert.Empty(t, spec.Command)

	_, err = Preset("unknown")
	assert.Error(t, err)
}

func TestExecutorPromptOnStdin(t *testing.T) {
	exec := NewExecutor(&CommandSpec{
		Name:          "cat",
		Command:       "/bin/cat",
		PromptOnStdin: true,
	}, newTestLogger())

	out, err := exec.Execute(context.Background(), "from stdin")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", out)
}
