// Package client is the Go client for the Cartograph agent API. Agents use
// it to register, poll for dispatched commands and report check results and
// acknowledgements back to the control plane.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cartograph-io/cartograph/models"
)

// Client talks to one Cartograph server on behalf of one agent.
type Client struct {
	baseURL    string
	agentID    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token used on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// New creates a client for the given server and agent identity.
func New(baseURL, agentID string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if agentID == "" {
		return nil, fmt.Errorf("agentID is required")
	}

	c := &Client{
		baseURL:    baseURL,
		agentID:    agentID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Register announces the agent and its scheduling labels.
func (c *Client) Register(ctx context.Context, name string, labels map[string]string) error {
	body := map[string]any{"id": c.agentID, "name": name, "labels": labels}
	return c.do(ctx, http.MethodPost, "/api/v1/agents/register", body, nil)
}

// Dispatch mirrors the server's dispatch envelope: a command to execute or a
// cancellation to honor.
type Dispatch struct {
	Kind      string          `json:"kind"`
	CommandID string          `json:"commandId"`
	Command   *models.Command `json:"command,omitempty"`
}

// PollDispatches drains the agent's pending dispatch queue. Polling counts
// as a heartbeat on the server.
func (c *Client) PollDispatches(ctx context.Context) ([]Dispatch, error) {
	var dispatches []Dispatch
	path := fmt.Sprintf("/api/v1/agents/%s/dispatches", c.agentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &dispatches); err != nil {
		return nil, err
	}
	return dispatches, nil
}

// BatchResult summarises how the server received a report batch.
type BatchResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// ReportChecks submits a batch of health-check results.
func (c *Client) ReportChecks(ctx context.Context, reports []models.CheckReport) (*BatchResult, error) {
	var result BatchResult
	path := fmt.Sprintf("/api/v1/agents/%s/reports/checks", c.agentID)
	if err := c.do(ctx, http.MethodPost, path, reports, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReportAcks submits a batch of command acknowledgements.
func (c *Client) ReportAcks(ctx context.Context, reports []models.AckReport) (*BatchResult, error) {
	var result BatchResult
	path := fmt.Sprintf("/api/v1/agents/%s/reports/acks", c.agentID)
	if err := c.do(ctx, http.MethodPost, path, reports, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
