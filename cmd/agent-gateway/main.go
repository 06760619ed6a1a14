// The agent-gateway binary hosts the run gateway: the agent registry, the
// local process supervisor, the run manager, and the management HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/agent/activity"
	"github.com/diane-assistant/agent-gateway/internal/agent/registry"
	"github.com/diane-assistant/agent-gateway/internal/agent/store"
	"github.com/diane-assistant/agent-gateway/internal/agent/supervisor"
	"github.com/diane-assistant/agent-gateway/internal/api"
	"github.com/diane-assistant/agent-gateway/internal/common/config"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
	"github.com/diane-assistant/agent-gateway/internal/db"
	"github.com/diane-assistant/agent-gateway/internal/events/bus"
	"github.com/diane-assistant/agent-gateway/internal/gateway"
	"github.com/diane-assistant/agent-gateway/internal/gateway/websocket"
	"github.com/diane-assistant/agent-gateway/internal/runs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting agent gateway...")

	// Storage
	pool, err := db.Open(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer pool.Close()

	agentStore, err := store.NewSQLStore(pool)
	if err != nil {
		log.Fatal("Failed to initialize agent store", zap.Error(err))
	}
	log.Info("Database ready", zap.String("driver", pool.DriverName()))

	// Event bus: NATS when configured, in-process otherwise.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	// Core components
	sup := supervisor.New(&cfg.Supervisor, log)
	reg := registry.New(agentStore, sup, log)
	if err := reg.EnsureDefaults(context.Background()); err != nil {
		log.Fatal("Failed to register built-in agents", zap.Error(err))
	}
	recorder := activity.NewRecorder(agentStore, cfg.Activity.RetentionDuration(), cfg.Activity.CleanupIntervalDuration(), log)
	recorder.Start()

	router := gateway.NewRouter(agentStore, sup, cfg.Runs.RequestTimeoutDuration(), log).WithRecorder(recorder)

	runManager := runs.NewManager(router, recorder, eventBus, cfg.Runs.SyncTimeoutDuration(), cfg.Runs.MaxEvents, log)

	hub := websocket.NewHub(log)
	if err := hub.Run(eventBus); err != nil {
		log.Fatal("Failed to attach websocket hub to event bus", zap.Error(err))
	}

	// HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	api.SetupRoutes(engine, reg, router, runManager, sup, recorder, hub, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agent gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	runManager.Shutdown(shutdownCtx)
	hub.Close()
	sup.StopAll(shutdownCtx)
	recorder.Stop()

	log.Info("Agent gateway stopped")
}
