// Package supervisor spawns and manages local agent processes. Each local
// agent definition maps to at most one subprocess, tracked in a single
// process table owned by the supervisor.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/diane-assistant/agent-gateway/internal/agent/registry"
	"github.com/diane-assistant/agent-gateway/internal/agent/store"
	"github.com/diane-assistant/agent-gateway/internal/common/config"
	apperrors "github.com/diane-assistant/agent-gateway/internal/common/errors"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
	"github.com/diane-assistant/agent-gateway/internal/common/portutil"
)

// process is one tracked subprocess.
type process struct {
	cmd      *exec.Cmd
	port     int
	exited   chan struct{}
	stopping bool
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return p.cmd != nil && p.cmd.Process != nil
	}
}

// Supervisor owns the process table for local agents.
type Supervisor struct {
	startupTimeout time.Duration
	stopGrace      time.Duration
	probeInterval  time.Duration
	probeMaxWait   time.Duration
	log            *logger.Logger

	mu     sync.Mutex
	procs  map[string]*process
	flight singleflight.Group
}

var _ registry.ProcessController = (*Supervisor)(nil)

// New creates a supervisor from the supervisor configuration section.
func New(cfg *config.SupervisorConfig, log *logger.Logger) *Supervisor {
	return &Supervisor{
		startupTimeout: cfg.StartupTimeoutDuration(),
		stopGrace:      cfg.StopGracePeriodDuration(),
		probeInterval:  cfg.ProbeIntervalDuration(),
		probeMaxWait:   cfg.ProbeMaxWaitDuration(),
		log:            log.WithFields(zap.String("component", "agent-supervisor")),
		procs:          make(map[string]*process),
	}
}

// EnsureRunning returns the base URL of a healthy process for the agent,
// spawning one if necessary. Concurrent calls for the same agent collapse
// into a single spawn.
func (s *Supervisor) EnsureRunning(ctx context.Context, agent *store.AgentDefinition) (string, error) {
	result, err, _ := s.flight.Do(agent.Name, func() (interface{}, error) {
		return s.ensureRunning(ctx, agent)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (s *Supervisor) ensureRunning(ctx context.Context, agent *store.AgentDefinition) (string, error) {
	baseURL := fmt.Sprintf("http://localhost:%d", agent.Port)

	s.mu.Lock()
	if p, ok := s.procs[agent.Name]; ok {
		if p.alive() && p.port == agent.Port {
			s.mu.Unlock()
			return baseURL, nil
		}
		// stale entry: exited, or the definition moved to another port
		delete(s.procs, agent.Name)
		if p.alive() {
			s.mu.Unlock()
			s.terminate(agent.Name, p)
			s.mu.Lock()
		}
	}

	if !portutil.Available(agent.Port) {
		s.mu.Unlock()
		return "", apperrors.PortInUse(agent.Port)
	}

	p, err := s.spawn(agent)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.procs[agent.Name] = p
	s.mu.Unlock()

	if err := s.waitForHealthy(ctx, agent.Name, p, baseURL); err != nil {
		_ = p.cmd.Process.Kill()
		s.mu.Lock()
		if s.procs[agent.Name] == p {
			delete(s.procs, agent.Name)
		}
		s.mu.Unlock()
		return "", err
	}

	s.log.Info("agent process is healthy",
		zap.String("agent", agent.Name), zap.Int("port", agent.Port))
	return baseURL, nil
}

// spawn starts the subprocess. Caller holds the table lock.
func (s *Supervisor) spawn(agent *store.AgentDefinition) (*process, error) {
	family, _ := registry.SplitName(agent.Name)
	args := BuildArgs(family, agent.Args, agent.WorkDir)

	s.log.Info("starting agent process",
		zap.String("agent", agent.Name),
		zap.String("command", agent.Command),
		zap.Strings("args", args),
		zap.Int("port", agent.Port))

	// exec.Command, not CommandContext: shutdown is driven by Stop so the
	// process gets a SIGTERM grace window instead of an immediate SIGKILL.
	cmd := exec.Command(agent.Command, args...)
	cmd.Dir = agent.WorkDir
	cmd.Env = append(os.Environ(), fmt.Sprintf("ACP_PORT=%d", agent.Port))
	for k, v := range agent.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// Pdeathsig: kernel sends SIGTERM to the child if the gateway dies.
	// Setpgid: keep the child out of our process group so terminal signals
	// don't reach it directly.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
		Setpgid:   true,
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.InternalError("failed to create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperrors.InternalError("failed to create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperrors.Unreachable(agent.Name, fmt.Errorf("failed to start process: %w", err))
	}

	p := &process{cmd: cmd, port: agent.Port, exited: make(chan struct{})}

	go s.pipeOutput(agent.Name, "stdout", bufio.NewScanner(stdout))
	go s.pipeOutput(agent.Name, "stderr", bufio.NewScanner(stderr))
	go s.monitorExit(agent.Name, p)

	return p, nil
}

// waitForHealthy polls GET /ping with capped exponential backoff until the
// process answers or the startup deadline passes.
func (s *Supervisor) waitForHealthy(ctx context.Context, name string, p *process, baseURL string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	pingURL := baseURL + "/ping"

	backoff := s.probeInterval
	deadline := time.Now().Add(s.startupTimeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.exited:
			return apperrors.StartupTimeout(name, fmt.Errorf("process exited during startup"))
		default:
		}

		resp, err := client.Get(pingURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		s.log.Debug("waiting for agent to become healthy",
			zap.String("agent", name),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		time.Sleep(backoff)
		backoff *= 2
		if backoff > s.probeMaxWait {
			backoff = s.probeMaxWait
		}
	}

	return apperrors.StartupTimeout(name, nil)
}

// Stop terminates an agent's process: SIGTERM, grace period, then SIGKILL.
// The table entry is always cleared so the port is considered released.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	p, ok := s.procs[name]
	if ok {
		delete(s.procs, name)
	}
	s.mu.Unlock()

	if !ok || !p.alive() {
		return nil
	}
	return s.terminate(name, p)
}

func (s *Supervisor) terminate(name string, p *process) error {
	s.mu.Lock()
	p.stopping = true
	s.mu.Unlock()

	pid := p.cmd.Process.Pid
	s.log.Info("stopping agent process", zap.String("agent", name), zap.Int("pid", pid))

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}

	select {
	case <-p.exited:
	case <-time.After(s.stopGrace):
		s.log.Warn("graceful shutdown timed out, sending SIGKILL",
			zap.String("agent", name), zap.Int("pid", pid))
		_ = syscall.Kill(pid, syscall.SIGKILL)
		select {
		case <-p.exited:
		case <-time.After(2 * time.Second):
			return fmt.Errorf("agent %s did not exit after SIGKILL", name)
		}
	}

	// let the kernel finish tearing down the listener before a respawn
	portutil.WaitAvailable(p.port, time.Second)
	return nil
}

// StopAll terminates every tracked process. Used during shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := s.Stop(ctx, name); err != nil {
				s.log.Warn("failed to stop agent process",
					zap.String("agent", name), zap.Error(err))
			}
		}(name)
	}
	wg.Wait()
}

// Invalidate discards the tracked process for an agent whose definition
// changed. The old process is stopped in the background; the next dispatch
// respawns with fresh launch attributes.
func (s *Supervisor) Invalidate(name string) {
	s.mu.Lock()
	p, ok := s.procs[name]
	if ok {
		delete(s.procs, name)
	}
	s.mu.Unlock()

	if ok && p.alive() {
		go func() {
			if err := s.terminate(name, p); err != nil {
				s.log.Warn("failed to stop invalidated agent process",
					zap.String("agent", name), zap.Error(err))
			}
		}()
	}
}

// Running reports whether a live process is tracked for the agent.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[name]
	return ok && p.alive()
}

func (s *Supervisor) pipeOutput(name, stream string, scanner *bufio.Scanner) {
	for scanner.Scan() {
		s.log.Debug(scanner.Text(),
			zap.String("agent", name), zap.String("stream", stream))
	}
}

// monitorExit reaps the process and clears its table entry on unexpected
// exit so the next dispatch respawns.
func (s *Supervisor) monitorExit(name string, p *process) {
	err := p.cmd.Wait()
	close(p.exited)

	s.mu.Lock()
	if s.procs[name] == p {
		delete(s.procs, name)
	}
	stopping := p.stopping
	s.mu.Unlock()

	if stopping {
		return
	}
	if err != nil {
		s.log.Error("agent process exited unexpectedly",
			zap.String("agent", name),
			zap.Error(err))
	} else {
		s.log.Info("agent process exited",
			zap.String("agent", name),
			zap.Int("exit_code", p.cmd.ProcessState.ExitCode()))
	}
}
