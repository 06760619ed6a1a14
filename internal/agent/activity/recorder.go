// Package activity records one log row per half of every exchange with an
// agent backend. Recording is best-effort: storage failures are logged and
// never surface to the dispatch path.
package activity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/agent/store"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
)

// Message types recorded against exchanges.
const (
	MessagePing      = "ping"
	MessageList      = "list"
	MessageManifest  = "manifest"
	MessageRun       = "run"
	MessageRunStatus = "run_status"
	MessageCancel    = "cancel"
)

// Recorder writes exchange logs and prunes old ones.
type Recorder struct {
	logs      store.LogStore
	retention time.Duration
	interval  time.Duration
	log       *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRecorder creates a recorder. retention bounds how long rows are kept;
// interval is how often the pruner runs.
func NewRecorder(logs store.LogStore, retention, interval time.Duration, log *logger.Logger) *Recorder {
	return &Recorder{
		logs:      logs,
		retention: retention,
		interval:  interval,
		log:       log.WithFields(zap.String("component", "activity-recorder")),
		stopCh:    make(chan struct{}),
	}
}

// insertTimeout bounds a single log write once it is detached from the
// exchange context.
const insertTimeout = 5 * time.Second

// Request records the outbound half of an exchange. Returns the start time
// to pass to Response.
func (r *Recorder) Request(ctx context.Context, agentName, messageType string, payload interface{}) time.Time {
	started := time.Now()
	entry := &store.AgentLog{
		AgentName:   agentName,
		Direction:   store.LogDirectionRequest,
		MessageType: messageType,
		Content:     encodePayload(payload),
	}
	r.insert(ctx, entry)
	return started
}

// Response records the inbound half with the elapsed duration. A non-nil
// err lands in the row's error column.
func (r *Recorder) Response(ctx context.Context, agentName, messageType string, payload interface{}, exchangeErr error, started time.Time) {
	duration := time.Since(started).Milliseconds()
	entry := &store.AgentLog{
		AgentName:   agentName,
		Direction:   store.LogDirectionResponse,
		MessageType: messageType,
		Content:     encodePayload(payload),
		DurationMs:  &duration,
	}
	if exchangeErr != nil {
		msg := exchangeErr.Error()
		entry.Error = &msg
	}
	r.insert(ctx, entry)
}

// insert writes one row detached from the exchange context. The response
// half of a timed-out or cancelled exchange arrives after its run context
// is already done, and that row is the one carrying the failure detail.
func (r *Recorder) insert(ctx context.Context, entry *store.AgentLog) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), insertTimeout)
	defer cancel()

	if err := r.logs.Insert(ctx, entry); err != nil {
		r.log.Warn("failed to record exchange log",
			zap.String("agent", entry.AgentName),
			zap.String("direction", string(entry.Direction)),
			zap.Error(err))
	}
}

// List returns an agent's exchange log, newest first.
func (r *Recorder) List(ctx context.Context, agentName string, limit, offset int) ([]*store.AgentLog, error) {
	return r.logs.ListByAgent(ctx, agentName, limit, offset)
}

// Start launches the background pruner.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.pruneLoop()
}

// Stop halts the pruner and waits for it to exit.
func (r *Recorder) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Recorder) pruneLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.pruneOnce()
		}
	}
}

func (r *Recorder) pruneOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-r.retention)
	removed, err := r.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		r.log.Warn("failed to prune agent logs", zap.Error(err))
		return
	}
	if removed > 0 {
		r.log.Info("pruned agent logs",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff))
	}
}

func encodePayload(payload interface{}) *string {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}
