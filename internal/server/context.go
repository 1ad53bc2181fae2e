package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/workspacekit/workspace-cli/internal/api"
	"github.com/workspacekit/workspace-cli/internal/auth"
	"github.com/workspacekit/workspace-cli/internal/config"
	"github.com/workspacekit/workspace-cli/internal/instrumentation"
	"github.com/workspacekit/workspace-cli/internal/logging"
	"github.com/workspacekit/workspace-cli/internal/ratelimit"
	"github.com/workspacekit/workspace-cli/internal/retry"
)

// Options configures a Runtime.
type Options struct {
	Config *config.Config

	// Store overrides the default keyring-first chain, mainly for tests.
	Store auth.Store

	Logger     *slog.Logger
	Metrics    *instrumentation.Metrics
	HTTPClient *http.Client
}

// Runtime is the shared state for one process invocation. It owns the
// session cache; a session per account, created on first use.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg     *config.Config
	store   auth.Store
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	http    *http.Client

	mu       sync.Mutex
	managers map[string]*auth.Manager
	sessions map[string]*api.Session
	shutdown bool
}

// NewRuntime assembles the runtime from configuration.
func NewRuntime(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return nil, err
		}
	}

	store := opts.Store
	if store == nil {
		fileDir, err := tokenDir()
		if err != nil {
			return nil, err
		}
		store, err = auth.NewChainStore(auth.NewKeyringStore(), auth.NewFileStore(fileDir))
		if err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	runCtx, cancel := context.WithCancel(ctx)
	return &Runtime{
		ctx:      runCtx,
		cancel:   cancel,
		cfg:      cfg,
		store:    store,
		logger:   logger,
		metrics:  opts.Metrics,
		http:     httpClient,
		managers: make(map[string]*auth.Manager),
		sessions: make(map[string]*api.Session),
	}, nil
}

func tokenDir() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tokens"), nil
}

// Context returns the runtime's lifecycle context.
func (r *Runtime) Context() context.Context {
	return r.ctx
}

// Config returns the loaded configuration.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Store returns the token store chain.
func (r *Runtime) Store() auth.Store {
	return r.store
}

// ResolveAccount maps an explicit account argument onto an account id,
// falling back to the configured active account.
func (r *Runtime) ResolveAccount(account string) string {
	if account != "" {
		return account
	}
	if r.cfg.ActiveAccount != "" {
		return r.cfg.ActiveAccount
	}
	return config.DefaultAccount
}

// ManagerFor returns the token manager for an account, creating and caching
// it on first use. Missing credentials are not an error here; refresh will
// fail with a descriptive error only when a refresh is actually needed.
func (r *Runtime) ManagerFor(account string) (*auth.Manager, error) {
	account = r.ResolveAccount(account)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return nil, fmt.Errorf("runtime is shutting down")
	}

	if m, ok := r.managers[account]; ok {
		return m, nil
	}

	var creds *auth.Credentials
	if path := r.cfg.CredentialsPathFor(account); path != "" {
		c, err := auth.ReadCredentials(path)
		if err != nil {
			return nil, fmt.Errorf("load credentials for account %q: %w", account, err)
		}
		creds = c
	} else {
		r.logger.Debug("no credentials file found, refresh will be unavailable",
			logging.Account(account))
	}

	m := auth.NewManager(account, r.store, auth.ManagerOptions{
		Credentials: creds,
		RetryPolicy: r.retryPolicy(),
		Logger:      r.logger,
		HTTPClient:  r.http,
	})
	r.managers[account] = m
	return m, nil
}

// SessionFor returns the API session for an account, creating and caching it
// on first use.
func (r *Runtime) SessionFor(account string) (*api.Session, error) {
	account = r.ResolveAccount(account)

	r.mu.Lock()
	if s, ok := r.sessions[account]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	mgr, err := r.ManagerFor(account)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[account]; ok {
		return s, nil
	}
	s := api.NewSession(account, mgr, api.SessionOptions{
		RateOverrides: r.rateOverrides(),
		Policy:        r.retryPolicy(),
		HTTPClient:    r.http,
		Logger:        r.logger,
		Metrics:       r.metrics,
	})
	r.sessions[account] = s
	return s, nil
}

func (r *Runtime) retryPolicy() *retry.Policy {
	return retry.NewPolicy(r.cfg.Retry.MaxAttempts, r.cfg.Retry.BaseDelay, r.cfg.Retry.MaxDelay)
}

func (r *Runtime) rateOverrides() map[string]ratelimit.Limits {
	if len(r.cfg.RateLimits) == 0 {
		return nil
	}
	overrides := make(map[string]ratelimit.Limits, len(r.cfg.RateLimits))
	for name, rl := range r.cfg.RateLimits {
		overrides[name] = ratelimit.Limits{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
		}
	}
	return overrides
}

// HTTPTimeout exposes the configured per-request timeout.
func (r *Runtime) HTTPTimeout() time.Duration {
	return r.cfg.HTTPTimeout
}

// Shutdown cancels the runtime context and drops the session cache. Safe to
// call more than once.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return
	}
	r.shutdown = true
	r.cancel()
	r.sessions = make(map[string]*api.Session)
	r.managers = make(map[string]*auth.Manager)
}

// IsShutdown reports whether Shutdown has been called.
func (r *Runtime) IsShutdown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdown
}
