package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/workspacekit/workspace-cli/internal/instrumentation"
	"github.com/workspacekit/workspace-cli/internal/ratelimit"
	"github.com/workspacekit/workspace-cli/internal/retry"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// RateOverrides replace built-in per-service limits.
	RateOverrides map[string]ratelimit.Limits

	Policy     *retry.Policy
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *instrumentation.Metrics
}

// Session is the explicit per-invocation context: one resolved account and
// its token manager, plus the shared rate registry all clients draw from.
// It replaces any ambient "current account" lookup inside the core.
type Session struct {
	account  string
	tokens   TokenSource
	registry *ratelimit.Registry
	policy   *retry.Policy
	http     *http.Client
	logger   *slog.Logger
	metrics  *instrumentation.Metrics

	mu      sync.Mutex
	clients map[string]*Client
}

// NewSession binds an account's token source to a fresh rate registry.
func NewSession(account string, tokens TokenSource, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		account:  account,
		tokens:   tokens,
		registry: ratelimit.NewRegistry(opts.RateOverrides),
		policy:   opts.Policy,
		http:     opts.HTTPClient,
		logger:   logger,
		metrics:  opts.Metrics,
		clients:  make(map[string]*Client),
	}
}

// Account returns the account this session is bound to.
func (s *Session) Account() string {
	return s.account
}

// ClientFor returns the session's client for a service, creating it on
// first use. Repeated calls share one client, and through it one rate
// bucket, so fan-out within an invocation is throttled in aggregate.
func (s *Session) ClientFor(name string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[name]; ok {
		return c, nil
	}

	svc, ok := LookupService(name)
	if !ok {
		return nil, NewError(CodeInvalidRequest, "unknown service %q", name)
	}

	c := NewClient(ClientConfig{
		Service:    svc,
		Tokens:     s.tokens,
		Limiter:    s.registry.For(name),
		Policy:     s.policy,
		HTTPClient: s.http,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})
	s.clients[name] = c
	return c, nil
}
