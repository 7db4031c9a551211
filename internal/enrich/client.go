// Package enrich integrates the A-Leads verification and firmographic
// enrichment API. The lifecycle job uses it to validate new prospect
// emails and to fill company fields the tracking snippet cannot see.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/nurture-engine/internal/pkg/httpretry"
)

// ErrNotFound means the API has no record for the email or domain.
var ErrNotFound = errors.New("enrichment record not found")

const cacheTTL = 24 * time.Hour

// Verification is the outcome of an email deliverability check.
type Verification struct {
	Email  string  `json:"email"`
	Status string  `json:"status"` // valid, invalid, catch_all, unknown
	Score  float64 `json:"score"`
}

// Deliverable reports whether the address is safe to mail.
func (v *Verification) Deliverable() bool {
	return v.Status == "valid" || v.Status == "catch_all"
}

// Firmographics are company attributes keyed by domain.
type Firmographics struct {
	Domain        string  `json:"domain"`
	CompanyName   string  `json:"company_name"`
	Industry      string  `json:"industry"`
	EmployeeCount int     `json:"employee_count"`
	AnnualRevenue float64 `json:"annual_revenue_usd"`
}

// Client calls the A-Leads API with retries and a 24h Redis cache.
// Enrichment results change slowly, so the cache absorbs most lookups.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
	redis      *redis.Client
}

// NewClient creates an enrichment client. Pass a nil redis client to skip
// caching.
func NewClient(baseURL, apiKey string, timeout time.Duration, redisClient *redis.Client) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpretry.New(&http.Client{Timeout: timeout}, 2),
		redis:      redisClient,
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// Enabled reports whether the client has credentials to call out with.
func (c *Client) Enabled() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// Verify checks deliverability of one address.
func (c *Client) Verify(ctx context.Context, email string) (*Verification, error) {
	cacheKey := "enrich:verify:" + email

	var cached Verification
	if c.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	body, err := c.doRequest(ctx, "/v1/verify?email="+url.QueryEscape(email))
	if err != nil {
		return nil, err
	}

	var v Verification
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("parse verification response: %w", err)
	}

	c.cachePut(ctx, cacheKey, &v)
	return &v, nil
}

// EnrichCompany fetches firmographics for a company domain.
func (c *Client) EnrichCompany(ctx context.Context, domain string) (*Firmographics, error) {
	cacheKey := "enrich:company:" + domain

	var cached Firmographics
	if c.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	body, err := c.doRequest(ctx, "/v1/company?domain="+url.QueryEscape(domain))
	if err != nil {
		return nil, err
	}

	var f Firmographics
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("parse company response: %w", err)
	}

	c.cachePut(ctx, cacheKey, &f)
	return &f, nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (c *Client) cacheGet(ctx context.Context, key string, out interface{}) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (c *Client) cachePut(ctx context.Context, key string, v interface{}) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.redis.Set(ctx, key, data, cacheTTL)
}
