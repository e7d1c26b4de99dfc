// Package client talks to a running slumber daemon over its HTTP control
// surface. It is used by the CLI subcommands and usable by embedders.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig targets a daemon on the default listen address.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8113",
		Timeout: 15 * time.Second,
	}
}

// Client is a thin wrapper over net/http for the daemon API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable reports whether the daemon answers on the base URL.
func (c *Client) IsReachable(ctx context.Context) bool {
	var out []InstanceStatus
	return c.get(ctx, "/instances", &out) == nil
}

// List returns all configured instances with their runtime status.
func (c *Client) List(ctx context.Context) ([]InstanceStatus, error) {
	var out []InstanceStatus
	if err := c.get(ctx, "/instances", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns the daemon's view of one instance.
func (c *Client) Status(ctx context.Context, name string) (InstanceStatus, error) {
	var out InstanceStatus
	err := c.get(ctx, "/instances/"+name+"/status", &out)
	return out, err
}

// Ping asks the daemon to status-query the live instance.
func (c *Client) Ping(ctx context.Context, name string) (PingResult, error) {
	var out PingResult
	err := c.get(ctx, "/instances/"+name+"/ping", &out)
	return out, err
}

// History returns recent lifecycle entries for one instance.
func (c *Client) History(ctx context.Context, name string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if err := c.get(ctx, "/instances/"+name+"/history", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start launches the instance.
func (c *Client) Start(ctx context.Context, name string) (ActionResult, error) {
	return c.action(ctx, name, "start")
}

// Stop gracefully stops the instance.
func (c *Client) Stop(ctx context.Context, name string) (ActionResult, error) {
	return c.action(ctx, name, "stop")
}

// Restart stops then starts the instance.
func (c *Client) Restart(ctx context.Context, name string) (ActionResult, error) {
	return c.action(ctx, name, "restart")
}

// Wake triggers the deduplicated wake path, as a ping would.
func (c *Client) Wake(ctx context.Context, name string) (ActionResult, error) {
	return c.action(ctx, name, "wake")
}

// SendCommand forwards one console command line to the instance.
func (c *Client) SendCommand(ctx context.Context, name, command string) error {
	body, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/instances/"+name+"/command", body, nil)
}

func (c *Client) action(ctx context.Context, name, verb string) (ActionResult, error) {
	var out ActionResult
	err := c.do(ctx, http.MethodPost, "/instances/"+name+"/"+verb, nil, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "err", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon: HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
