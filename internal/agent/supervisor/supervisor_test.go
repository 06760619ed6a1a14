package supervisor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diane-assistant/agent-gateway/internal/agent/store"
	"github.com/diane-assistant/agent-gateway/internal/common/config"
	apperrors "github.com/diane-assistant/agent-gateway/internal/common/errors"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
	"github.com/diane-assistant/agent-gateway/internal/common/portutil"
)

// TestMain doubles as the agent subprocess: when ACP_HELPER_MODE is set the
// test binary runs a tiny ping server instead of the test suite.
func TestMain(m *testing.M) {
	switch os.Getenv("ACP_HELPER_MODE") {
	case "server":
		runHelperServer()
		return
	case "hang":
		// never listens; exercises the startup deadline
		select {}
	}
	os.Exit(m.Run())
}

func runHelperServer() {
	port, _ := strconv.Atoi(os.Getenv("ACP_PORT"))
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: fmt.Sprintf("localhost:%d", port), Handler: mux}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-stop
		_ = srv.Close()
		os.Exit(0)
	}()

	_ = srv.ListenAndServe()
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return New(&config.SupervisorConfig{
		StartupTimeout:  5,
		StopGracePeriod: 2,
		ProbeInterval:   50,
		ProbeMaxWait:    200,
	}, log)
}

func helperAgent(t *testing.T, mode string) *store.AgentDefinition {
	t.Helper()
	port, err := portutil.AllocatePort()
	require.NoError(t, err)
	return &store.AgentDefinition{
		Name:    "helper",
		Kind:    store.AgentKindLocal,
		Command: os.Args[0],
		Env:     map[string]string{"ACP_HELPER_MODE": mode},
		Port:    port,
		Enabled: true,
	}
}

func TestEnsureRunningSpawnsProcess(t *testing.T) {
	sup := newTestSupervisor(t)
	agent := helperAgent(t, "server")
	defer sup.StopAll(context.Background())

	baseURL, err := sup.EnsureRunning(context.Background(), agent)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("http://localhost:%d", agent.Port), baseURL)
	assert.True(t, sup.Running(agent.Name))

	resp, err := http.Get(baseURL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEnsureRunningReusesProcess(t *testing.T) {
	sup := newTestSupervisor(t)
	agent := helperAgent(t, "server")
	defer sup.StopAll(context.Background())

	first, err := sup.EnsureRunning(context.Background(), agent)
	require.NoError(t, err)

	second, err := sup.EnsureRunning(context.Background(), agent)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEnsureRunningPortInUse(t *testing.T) {
	sup := newTestSupervisor(t)
	agent := helperAgent(t, "server")

	// an unrelated listener holds the configured port
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", agent.Port))
	require.NoError(t, err)
	defer ln.Close()

	_, err = sup.EnsureRunning(context.Background(), agent)
	require.Error(t, err)
	assert.True(t, apperrors.IsPortInUse(err))
}

func TestEnsureRunningStartupTimeout(t *testing.T) {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	sup := New(&config.SupervisorConfig{
		StartupTimeout:  1,
		StopGracePeriod: 1,
		ProbeInterval:   50,
		ProbeMaxWait:    200,
	}, log)
	agent := helperAgent(t, "hang")

	_, err := sup.EnsureRunning(context.Background(), agent)
	require.Error(t, err)
	assert.True(t, apperrors.IsStartupTimeout(err))
	assert.False(t, sup.Running(agent.Name))
}

func TestStopReleasesPort(t *testing.T) {
	sup := newTestSupervisor(t)
	agent := helperAgent(t, "server")

	_, err := sup.EnsureRunning(context.Background(), agent)
	require.NoError(t, err)

	require.NoError(t, sup.Stop(context.Background(), agent.Name))
	assert.False(t, sup.Running(agent.Name))
	assert.True(t, portutil.WaitAvailable(agent.Port, 2*time.Second))
}

func TestStopIsIdempotent(t *testing.T) {
	sup := newTestSupervisor(t)
	assert.NoError(t, sup.Stop(context.Background(), "never-started"))
}

func TestRespawnAfterUnexpectedExit(t *testing.T) {
	sup := newTestSupervisor(t)
	agent := helperAgent(t, "server")
	defer sup.StopAll(context.Background())

	_, err := sup.EnsureRunning(context.Background(), agent)
	require.NoError(t, err)

	// kill behind the supervisor's back
	sup.mu.Lock()
	pid := sup.procs[agent.Name].cmd.Process.Pid
	sup.mu.Unlock()
	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))

	require.Eventually(t, func() bool { return !sup.Running(agent.Name) },
		2*time.Second, 20*time.Millisecond)

	// next dispatch respawns
	_, err = sup.EnsureRunning(context.Background(), agent)
	require.NoError(t, err)
	assert.True(t, sup.Running(agent.Name))
}

func TestWorkDirFlagPresets(t *testing.T) {
	assert.Equal(t, "--cwd", WorkDirFlag("opencode"))
	assert.Equal(t, "--include-directories", WorkDirFlag("gemini"))
	assert.Equal(t, "--workspace-folder", WorkDirFlag("github-copilot"))
	assert.Equal(t, "--cwd", WorkDirFlag("unknown-cli"))
}

func TestBuildArgs(t *testing.T) {
	assert.Equal(t, []string{"acp"}, BuildArgs("opencode", []string{"acp"}, ""))

	args := BuildArgs("opencode", []string{"acp"}, "/proj")
	assert.Equal(t, []string{"acp", "--cwd", "/proj"}, args)

	// flag already present: caller spelled it out, leave it alone
	args = BuildArgs("opencode", []string{"acp", "--cwd", "/other"}, "/proj")
	assert.Equal(t, []string{"acp", "--cwd", "/other"}, args)

	args = BuildArgs("gemini", []string{"--experimental-acp"}, "/proj")
	assert.Equal(t, []string{"--experimental-acp", "--include-directories", "/proj"}, args)
}
