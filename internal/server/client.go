package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/raysh454/fatt/internal/distributed"
	"github.com/raysh454/fatt/internal/webclient"
)

// Client talks to a master's admin API.
type Client struct {
	baseURL string
	web     webclient.WebClient
}

// NewClient returns a client for the admin API at addr, given as host:port
// or a full http:// URL.
func NewClient(addr string, web webclient.WebClient) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{baseURL: base, web: web}
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	resp, err := c.web.Do(ctx, &webclient.Request{
		Method:  method,
		URL:     c.baseURL + path,
		Headers: http.Header{"Accept": []string{"application/json"}},
	})
	if err != nil {
		return fmt.Errorf("admin api %s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return distributed.ErrWorkerNotFound
	}
	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if json.Unmarshal(resp.Body, &e) == nil && e.Error != "" {
			return fmt.Errorf("admin api %s %s: %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("admin api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode admin api response: %w", err)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var h HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Workers(ctx context.Context) (*WorkersSnapshot, error) {
	var snap WorkersSnapshot
	if err := c.do(ctx, http.MethodGet, "/workers", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) Worker(ctx context.Context, id string) (*distributed.ConnectedWorker, error) {
	var w distributed.ConnectedWorker
	if err := c.do(ctx, http.MethodGet, "/workers/"+url.PathEscape(id), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// StopWorker asks the master to shut the worker down.
func (c *Client) StopWorker(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/workers/"+url.PathEscape(id), nil)
}
