package acp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestClientPingUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(srv.URL, time.Second)
	assert.Error(t, client.Ping(context.Background()))
}

func TestClientCreateRunSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/runs", r.URL.Path)

		var req RunCreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "echo", req.AgentName)
		require.Equal(t, RunModeSync, req.Mode)

		_ = json.NewEncoder(w).Encode(Run{
			AgentName: req.AgentName,
			RunID:     "run-1",
			Status:    RunStatusCompleted,
			Output:    []Message{NewAgentMessage(TextOutput(req.Input))},
			CreatedAt: time.Now().UTC(),
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	run, err := client.CreateRun(context.Background(), RunCreateRequest{
		AgentName: "echo",
		Input:     []Message{NewUserMessage("ping")},
		Mode:      RunModeSync,
	})
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, "ping", run.TextOutput())
}

func TestClientParsesBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "server_error", "message": "model overloaded"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.CreateRun(context.Background(), RunCreateRequest{AgentName: "echo"})
	require.Error(t, err)

	acpErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "server_error", acpErr.Code)
	assert.Equal(t, "model overloaded", acpErr.Message)
}

func TestClientMalformedErrorBodyIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>gateway exploded</html>"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.GetRun(context.Background(), "run-1")
	require.Error(t, err)

	acpErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "protocol_error", acpErr.Code)
}

func TestClientWaitForCompletion(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := RunStatusInProgress
		if polls >= 3 {
			status = RunStatusCompleted
		}
		_ = json.NewEncoder(w).Encode(Run{RunID: "run-9", Status: status})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	run, err := client.WaitForCompletion(context.Background(), "run-9", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.GreaterOrEqual(t, polls, 3)
}

func TestClientWaitForCompletionReturnsOnAwaiting(t *testing.T) {
	await := "approval"
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		_ = json.NewEncoder(w).Encode(Run{
			RunID:        "run-9",
			SessionID:    "sess-42",
			Status:       RunStatusAwaiting,
			AwaitRequest: &await,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	run, err := client.WaitForCompletion(context.Background(), "run-9", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, RunStatusAwaiting, run.Status)
	assert.Equal(t, "sess-42", run.SessionID)
	require.NotNil(t, run.AwaitRequest)
	assert.Equal(t, 1, polls, "an awaiting run ends the poll loop")
}

func TestClientWaitForCompletionContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Run{RunID: "run-9", Status: RunStatusInProgress})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.WaitForCompletion(ctx, "run-9", 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
