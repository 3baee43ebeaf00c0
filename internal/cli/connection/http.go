package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yndnr/iotmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/iotmesh-go/internal/server/httpserver"
)

// AdminClient reads the admin HTTP surface of a server.
type AdminClient struct {
	baseURL string
	client  *http.Client
}

// NewAdminClient creates a client for the admin listener at server.
func NewAdminClient(server string) *AdminClient {
	baseURL := server
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &AdminClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// BaseURL returns the base URL of the client.
func (c *AdminClient) BaseURL() string {
	return c.baseURL
}

// Health fetches /healthz. A degraded server still yields a response.
func (c *AdminClient) Health(ctx context.Context) (*httpserver.HealthResponse, error) {
	resp, err := c.get(ctx, "/healthz")
	if err != nil {
		return nil, err
	}
	var out httpserver.HealthResponse
	if resp.StatusCode == http.StatusServiceUnavailable {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		return &out, nil
	}
	if err := ParseResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats fetches /v1/stats.
func (c *AdminClient) Stats(ctx context.Context) (*httpserver.StatsResponse, error) {
	var out httpserver.StatsResponse
	if err := c.getJSON(ctx, "/v1/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sessions fetches /v1/sessions.
func (c *AdminClient) Sessions(ctx context.Context) (*httpserver.SessionsResponse, error) {
	var out httpserver.SessionsResponse
	if err := c.getJSON(ctx, "/v1/sessions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Domain fetches /v1/domains/{name}.
func (c *AdminClient) Domain(ctx context.Context, name string) (*httpserver.DomainResponse, error) {
	var out httpserver.DomainResponse
	if err := c.getJSON(ctx, "/v1/domains/"+url.PathEscape(name), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Version fetches /v1/version.
func (c *AdminClient) Version(ctx context.Context) (*buildinfo.Info, error) {
	var out buildinfo.Info
	if err := c.getJSON(ctx, "/v1/version", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *AdminClient) getJSON(ctx context.Context, path string, target any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	return ParseResponse(resp, target)
}

func (c *AdminClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "iotmesh/"+buildinfo.Version)
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}

// ParseResponse decodes a JSON response body into target. Error statuses
// are turned into errors carrying the server's code and message.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp httpserver.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Message != "" {
			return fmt.Errorf("[%s] %s", errResp.Code, errResp.Message)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
