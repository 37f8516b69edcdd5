package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cexll/jira-relay/internal/ticket"
)

// CommentPathTemplate is the REST path for adding an issue comment.
const CommentPathTemplate = "/rest/api/2/issue/{issueId}/comment"

// maxResponseBody caps how much of an error body is kept for diagnostics.
const maxResponseBody = 64 << 10

// Auth signs outbound requests.
type Auth interface {
	Apply(req *http.Request) error
}

// BasicAuth authenticates with an Atlassian account email and API token.
type BasicAuth struct {
	Email string
	Token string
}

// Apply sets the basic authorization header.
func (a BasicAuth) Apply(req *http.Request) error {
	if a.Email == "" || a.Token == "" {
		return errors.New("jira basic auth requires email and token")
	}
	req.SetBasicAuth(a.Email, a.Token)
	return nil
}

// Response is the raw outcome of a tracker call. Non-2xx statuses are not errors.
type Response struct {
	StatusCode int
	Body       string
}

// Client posts comments to a Jira instance.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	auth       Auth
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the transport timeout on a copy of the HTTP client, so a
// shared client passed to WithHTTPClient is never modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.httpClient
			hc.Timeout = d
			c.httpClient = &hc
		}
	}
}

// WithRateLimit paces outbound requests to rps per second. rps <= 0 disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a client for baseURL (e.g. https://acme.atlassian.net).
func NewClient(baseURL string, auth Auth, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("jira base URL is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse jira base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("jira base URL must be absolute: %s", baseURL)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    u,
		auth:       auth,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CommentURL resolves the comment endpoint for issueKey.
func (c *Client) CommentURL(issueKey string) string {
	path := strings.Replace(CommentPathTemplate, "{issueId}", url.PathEscape(issueKey), 1)
	return c.baseURL.String() + path
}

type commentRequest struct {
	Body string `json:"body"`
}

// AddComment posts body as a new comment on issueKey. Any HTTP status is
// returned as a Response; only transport-level failures produce an error.
func (c *Client) AddComment(ctx context.Context, issueKey, body string) (*Response, error) {
	if issueKey == "" {
		return nil, errors.New("issue key is required")
	}
	if !ticket.IsKey(issueKey) {
		return nil, fmt.Errorf("invalid issue key %q", issueKey)
	}

	payload, err := json.Marshal(commentRequest{Body: body})
	if err != nil {
		return nil, fmt.Errorf("encode comment: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.CommentURL(issueKey), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		if err := c.auth.Apply(req); err != nil {
			return nil, fmt.Errorf("authorize request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira http error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: string(respBody)}, nil
}
