// Package httpapi implements the provider capability interface against a
// JSON-over-HTTP model gateway: one POST endpoint per capability, bearer
// token auth. This is the primary provider in production.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vantor/conveyor/provider"
)

// Compile-time interface check.
var _ provider.Provider = (*Client)(nil)

const (
	pathParseOrder      = "/v1/parse-order"
	pathAssessRisk      = "/v1/assess-risk"
	pathOptimizeRouting = "/v1/optimize-routing"
	pathAnalyzePricing  = "/v1/analyze-pricing"
	pathHealth          = "/v1/health"
)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithName sets the name reported in health checks and logs.
// Defaults to "httpapi".
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithTimeout sets the per-request timeout. Defaults to 30s. The
// breaker's call timeout still applies on top of this.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client speaks the gateway's JSON protocol.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration
	hc      *http.Client
}

// New creates a Client for the gateway at baseURL authenticating with
// apiKey.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		name:    "httpapi",
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hc == nil {
		c.hc = &http.Client{Timeout: c.timeout}
	}
	return c
}

// Name implements provider.Provider.
func (c *Client) Name() string { return c.name }

// post sends a JSON body to path and decodes a JSON response into T.
func post[T any](ctx context.Context, c *Client, path string, body any) (*T, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("httpapi: encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("httpapi: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpapi: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("httpapi: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("httpapi: decode %s response: %w", path, err)
	}
	return &out, nil
}

// ParseOrder implements provider.Provider.
func (c *Client) ParseOrder(ctx context.Context, doc provider.OrderDocument) (*provider.ParsedOrder, error) {
	return post[provider.ParsedOrder](ctx, c, pathParseOrder, doc)
}

// AssessRisk implements provider.Provider.
func (c *Client) AssessRisk(ctx context.Context, order *provider.ParsedOrder) (*provider.RiskAssessment, error) {
	return post[provider.RiskAssessment](ctx, c, pathAssessRisk, map[string]any{"order": order})
}

// OptimizeRouting implements provider.Provider.
func (c *Client) OptimizeRouting(ctx context.Context, order *provider.ParsedOrder, candidates []provider.VendorCandidate) (*provider.RoutingDecision, error) {
	return post[provider.RoutingDecision](ctx, c, pathOptimizeRouting, map[string]any{
		"order":      order,
		"candidates": candidates,
	})
}

// AnalyzePricing implements provider.Provider.
func (c *Client) AnalyzePricing(ctx context.Context, items []provider.OrderLine) (*provider.PricingAnalysis, error) {
	return post[provider.PricingAnalysis](ctx, c, pathAnalyzePricing, map[string]any{"items": items})
}

// HealthCheck implements provider.Provider with a GET against the
// gateway's health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathHealth, nil)
	if err != nil {
		return fmt.Errorf("httpapi: build health request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("httpapi: health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpapi: health: status %d", resp.StatusCode)
	}
	return nil
}
