package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/workspacekit/workspace-cli/internal/auth"
	"github.com/workspacekit/workspace-cli/internal/instrumentation"
	"github.com/workspacekit/workspace-cli/internal/logging"
	"github.com/workspacekit/workspace-cli/internal/ratelimit"
	"github.com/workspacekit/workspace-cli/internal/retry"
)

// TokenSource supplies bearer tokens for outgoing requests. auth.Manager is
// the production implementation.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Response is the terminal result of one logical request.
type Response struct {
	Status int
	Header http.Header
	Body   json.RawMessage
}

// ClientConfig assembles a client's collaborators. Service identity, rate
// configuration, and retry tuning are all plain parameters.
type ClientConfig struct {
	Service Service
	Tokens  TokenSource

	// Limiter is the shared per-service bucket. Callers that fan out
	// concurrently must pass the same instance for the same service.
	Limiter *ratelimit.Limiter

	Policy     *retry.Policy
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *instrumentation.Metrics
}

// Client performs logical requests against one upstream service, composing
// rate limiting, token lifecycle, and retry into a single operation.
type Client struct {
	service Service
	tokens  TokenSource
	limiter *ratelimit.Limiter
	policy  *retry.Policy
	http    *http.Client
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewClient builds a client for one service.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		service: cfg.Service,
		tokens:  cfg.Tokens,
		limiter: cfg.Limiter,
		policy:  cfg.Policy,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if c.limiter == nil {
		c.limiter = ratelimit.NewLimiter(cfg.Service.Limits)
	}
	if c.policy == nil {
		c.policy = retry.NewPolicy(0, 0, 0)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Service returns the upstream service this client is bound to.
func (c *Client) Service() Service {
	return c.service
}

// Execute performs one logical JSON request: acquire a rate token, attach a
// fresh bearer token, issue the call, and classify the outcome, retrying
// transient failures with backoff. body may be nil for bodyless methods.
func (c *Client) Execute(ctx context.Context, method, path string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, NewError(CodeInvalidRequest, "encode request body: %v", err)
		}
	}
	return c.do(ctx, method, c.service.BaseURL+path, "application/json", payload)
}

// do runs the retry loop for one wire-level call. Batch calls come through
// here too, with a multipart payload.
func (c *Client) do(ctx context.Context, method, url, contentType string, payload []byte) (*Response, error) {
	b := c.policy.Backoff()
	refreshed401 := false
	var lastErr *Error

	for attempt := 0; ; {
		resp, err := c.attempt(ctx, method, url, contentType, payload)
		if err != nil {
			// Token lifecycle failures and cancellations surface as-is.
			var apiErr *Error
			if errors.As(err, &apiErr) {
				return nil, apiErr
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Transport-level failure with no status: retryable.
			lastErr = WrapError(CodeNetworkError, err, err.Error())
			attempt++
			if attempt >= c.policy.MaxAttempts {
				return nil, lastErr
			}
			c.recordRetry(ctx, "network")
			if serr := c.policy.Sleep(ctx, b.Next(0)); serr != nil {
				return nil, serr
			}
			continue
		}

		status := resp.Status
		switch {
		case status >= 200 && status < 300:
			return resp, nil

		case status == http.StatusUnauthorized && !refreshed401:
			// One forced refresh outside the retry counter: the recorded
			// expiry can lag an upstream revocation.
			refreshed401 = true
			c.logger.Debug("401 received, forcing token refresh",
				logging.Service(c.service.Name), logging.Operation("api.refresh401"))
			if _, rerr := c.tokens.ForceRefresh(ctx); rerr != nil {
				return nil, tokenError(rerr)
			}
			continue

		case status == http.StatusUnauthorized:
			return nil, errorFromResponse(status, resp.Header, resp.Body)

		case retry.Classify(status, nil) == retry.Retryable:
			retryAfter := retry.RetryAfter(resp.Header)
			if status == http.StatusTooManyRequests {
				c.limiter.SetRetryAfter(retryAfter)
			}
			lastErr = errorFromResponse(status, resp.Header, resp.Body)
			attempt++
			if attempt >= c.policy.MaxAttempts {
				return nil, lastErr
			}
			c.recordRetry(ctx, fmt.Sprintf("http_%d", status))
			c.logger.Warn("retrying request",
				logging.Service(c.service.Name), logging.Status(status),
				logging.Attempt(attempt))
			if serr := c.policy.Sleep(ctx, b.Next(retryAfter)); serr != nil {
				return nil, serr
			}
			continue

		default:
			return nil, errorFromResponse(status, resp.Header, resp.Body)
		}
	}
}

// attempt performs a single wire attempt: rate acquisition, token fetch,
// HTTP exchange, body read. Every suspension honours ctx.
func (c *Client) attempt(ctx context.Context, method, url, contentType string, payload []byte) (*Response, error) {
	waitStart := time.Now()
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	c.metrics.RecordRateLimitWait(ctx, c.service.Name, time.Since(waitStart))

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, tokenError(err)
	}

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, NewError(CodeInvalidRequest, "build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	c.metrics.RecordAPIRequest(ctx, c.service.Name, method, httpResp.StatusCode, time.Since(start))

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   respBody,
	}, nil
}

func (c *Client) recordRetry(ctx context.Context, reason string) {
	c.metrics.RecordRetry(ctx, c.service.Name, reason)
}

// tokenError maps token lifecycle failures onto the taxonomy.
func tokenError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, auth.ErrTokenExpired):
		return WrapError(CodeTokenExpired, err, err.Error())
	case errors.Is(err, auth.ErrNotAuthenticated):
		return WrapError(CodeAuthenticationFailed, err, err.Error())
	default:
		return WrapError(CodeAuthenticationFailed, err, err.Error())
	}
}
