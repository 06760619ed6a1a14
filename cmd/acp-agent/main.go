// The acp-agent binary wraps a CLI coding agent in the ACP HTTP surface so
// the gateway can supervise it as a local agent. The listen port comes from
// the ACP_PORT environment variable set by the supervisor, falling back to
// the --port flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/acpserver"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
)

func main() {
	var (
		preset     = flag.String("preset", "custom", "backend family: opencode, gemini, or custom")
		name       = flag.String("name", "", "agent name reported in the manifest (defaults to the preset name)")
		command    = flag.String("command", "", "command to execute per run (required for --preset=custom)")
		args       = flag.String("args", "", "comma-separated arguments passed before the prompt")
		workDir    = flag.String("workdir", "", "working directory for the wrapped command")
		stdin      = flag.Bool("prompt-on-stdin", false, "pass the prompt on stdin instead of as the final argument")
		port       = flag.Int("port", 8100, "listen port when ACP_PORT is not set")
		runTimeout = flag.Duration("run-timeout", 5*time.Minute, "per-run execution cap")
		logLevel   = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: *logLevel, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	spec, err := acpserver.Preset(*preset)
	if err != nil {
		log.Fatal("Invalid preset", zap.String("preset", *preset), zap.Error(err))
	}
	if *command != "" {
		spec.Command = *command
	}
	if *args != "" {
		spec.Args = strings.Split(*args, ",")
	}
	if *name != "" {
		spec.Name = *name
	}
	spec.WorkDir = *workDir
	spec.PromptOnStdin = *stdin

	if spec.Command == "" {
		log.Fatal("No command to wrap: pass --command or a non-custom --preset")
	}

	listenPort := *port
	if envPort := os.Getenv("ACP_PORT"); envPort != "" {
		p, err := strconv.Atoi(envPort)
		if err != nil {
			log.Fatal("Invalid ACP_PORT", zap.String("value", envPort))
		}
		listenPort = p
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	srv := acpserver.NewServer(spec, *runTimeout, log)
	srv.Routes(engine)

	server := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", listenPort),
		Handler: engine,
	}

	go func() {
		log.Info("ACP agent listening",
			zap.String("agent", spec.Name),
			zap.String("command", spec.Command),
			zap.Int("port", listenPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start ACP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down ACP agent...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("ACP server shutdown error", zap.Error(err))
	}
}
