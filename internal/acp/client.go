package acp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one ACP server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL. A zero timeout keeps
// the http.Client deadline unset; callers bound requests via context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server base URL the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks if the ACP server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed with status %d", resp.StatusCode)
	}
	return nil
}

// ListAgents returns the agents the server exposes.
func (c *Client) ListAgents(ctx context.Context, limit, offset int) ([]AgentManifest, error) {
	url := fmt.Sprintf("%s/agents?limit=%d&offset=%d", c.baseURL, limit, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result AgentsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Code: ErrCodeProtocol, Message: fmt.Sprintf("failed to decode agents list: %v", err)}
	}
	return result.Agents, nil
}

// GetAgent returns a specific agent's manifest.
func (c *Client) GetAgent(ctx context.Context, name string) (*AgentManifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/agents/"+name, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var agent AgentManifest
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		return nil, &Error{Code: ErrCodeProtocol, Message: fmt.Sprintf("failed to decode agent manifest: %v", err)}
	}
	return &agent, nil
}

// CreateRun creates a run. In sync mode the call blocks until the backend's
// run finishes; in async mode the backend replies immediately with the
// created run.
func (c *Client) CreateRun(ctx context.Context, createReq RunCreateRequest) (*Run, error) {
	body, err := json.Marshal(createReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, c.parseError(resp)
	}
	return decodeRun(resp.Body)
}

// GetRun returns the current state of a run.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+runID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}
	return decodeRun(resp.Body)
}

// CancelRun asks the backend to cancel a run.
func (c *Client) CancelRun(ctx context.Context, runID string) (*Run, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs/"+runID+"/cancel", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, c.parseError(resp)
	}
	return decodeRun(resp.Body)
}

// WaitForCompletion polls a run until it reaches a terminal state, parks in
// awaiting, or the context is done. An awaiting run is returned as-is so the
// caller can surface the pending request instead of burning the timeout.
func (c *Client) WaitForCompletion(ctx context.Context, runID string, pollInterval time.Duration) (*Run, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.IsTerminal() || run.Status == RunStatusAwaiting {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func decodeRun(r io.Reader) (*Run, error) {
	var run Run
	if err := json.NewDecoder(r).Decode(&run); err != nil {
		return nil, &Error{Code: ErrCodeProtocol, Message: fmt.Sprintf("failed to decode run: %v", err)}
	}
	return &run, nil
}

// parseError turns a non-2xx response into an *Error. A body that is not a
// well-formed ACP error payload is a protocol violation, not a backend error.
func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var wrapper struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil && wrapper.Error.Code != "" {
		return wrapper.Error
	}

	var acpErr Error
	if err := json.Unmarshal(body, &acpErr); err == nil && acpErr.Code != "" {
		return &acpErr
	}

	return &Error{
		Code:    ErrCodeProtocol,
		Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200)),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
