// Package client talks to a running warden daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client is an HTTP client for the warden daemon API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the local-daemon defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a client for the daemon at cfg.BaseURL.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080/api"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		logger:  cfg.Logger,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Start asks the daemon to start (and keep supervising) a process.
func (c *Client) Start(ctx context.Context, req StartRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/start", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.doOK(httpReq)
}

// Stop asks the daemon to stop a process (or all matches for a wildcard).
func (c *Client) Stop(ctx context.Context, name, wildcard string, wait time.Duration) error {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if wildcard != "" {
		q.Set("wildcard", wildcard)
	}
	if wait > 0 {
		q.Set("wait", wait.String())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stop?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return c.doOK(httpReq)
}

// Status fetches the status of one named process.
func (c *Client) Status(ctx context.Context, name string) (ProcessStatus, error) {
	var st ProcessStatus
	q := url.Values{"name": {name}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status?"+q.Encode(), nil)
	if err != nil {
		return st, err
	}
	err = c.doJSON(httpReq, &st)
	return st, err
}

// StatusMatch fetches statuses for every process matching a '*' wildcard.
func (c *Client) StatusMatch(ctx context.Context, wildcard string) ([]ProcessStatus, error) {
	var sts []ProcessStatus
	q := url.Values{"wildcard": {wildcard}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	err = c.doJSON(httpReq, &sts)
	return sts, err
}

func (c *Client) doOK(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, er.Error)
	}
	return fmt.Errorf("daemon returned %d", resp.StatusCode)
}
