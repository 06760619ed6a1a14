// Package acpserver turns a wrapped CLI into an ACP backend: an HTTP server
// exposing ping, manifest, and run endpoints, executing one CLI invocation
// per run and reporting the captured stdout as the run's text output.
package acpserver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/common/errors"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
)

// CommandSpec describes the CLI a server wraps. The run's prompt is appended
// as the final argument unless PromptOnStdin is set.
type CommandSpec struct {
	Name          string
	Description   string
	Command       string
	Args          []string
	WorkDir       string
	Env           map[string]string
	PromptOnStdin bool
}

// Preset returns the command spec for a named backend family. Family
// "custom" carries no command and expects the caller to fill it in.
func Preset(family string) (*CommandSpec, error) {
	switch family {
	case "opencode":
		return &CommandSpec{
			Name:        "opencode",
			Description: "OpenCode CLI wrapped as an ACP agent",
			Command:     "opencode",
			Args:        []string{"run"},
		}, nil
	case "gemini":
		return &CommandSpec{
			Name:          "gemini",
			Description:   "Gemini CLI wrapped as an ACP agent",
			Command:       "gemini",
			Args:          []string{"-p"},
			PromptOnStdin: false,
		}, nil
	case "custom":
		return &CommandSpec{Name: "custom"}, nil
	}
	return nil, errors.BadRequest(fmt.Sprintf("unknown agent preset: %s", family))
}

// Executor runs one CLI invocation per run.
type Executor struct {
	spec *CommandSpec
	log  *logger.Logger
}

// NewExecutor creates an executor for a command spec.
func NewExecutor(spec *CommandSpec, log *logger.Logger) *Executor {
	return &Executor{
		spec: spec,
		log:  log.WithFields(zap.String("component", "acp-executor")),
	}
}

// Execute runs the wrapped CLI with the prompt and returns captured stdout.
// Context cancellation kills the process.
func (e *Executor) Execute(ctx context.Context, prompt string) (string, error) {
	args := append([]string(nil), e.spec.Args...)
	if !e.spec.PromptOnStdin {
		args = append(args, prompt)
	}

	cmd := exec.CommandContext(ctx, e.spec.Command, args...)
	cmd.Dir = e.spec.WorkDir
	cmd.Env = os.Environ()
	for k, v := range e.spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if e.spec.PromptOnStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.Debug("executing wrapped command",
		zap.String("command", e.spec.Command),
		zap.Int("prompt_len", len(prompt)))

	err := cmd.Run()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("command failed: %s", truncate(detail, 500))
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
