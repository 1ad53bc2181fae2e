package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/workspacekit/workspace-cli/internal/logging"
	"github.com/workspacekit/workspace-cli/internal/retry"
)

var (
	// ErrNotAuthenticated indicates no token record exists for the account.
	ErrNotAuthenticated = errors.New("auth: not authenticated, run 'workspace-cli auth login' first")

	// ErrTokenExpired indicates the refresh token was rejected by the
	// authorization server. Interactive re-authentication is required; the
	// manager never restarts the consent flow on its own.
	ErrTokenExpired = errors.New("auth: refresh token rejected, run 'workspace-cli auth login' again")
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Credentials supply the OAuth client used for the refresh grant.
	Credentials *Credentials

	// Reauth, when set, re-mints tokens for records that carry no refresh
	// token (the service-account grant).
	Reauth Authenticator

	// RetryPolicy governs retries of refresh calls that fail transiently.
	RetryPolicy *retry.Policy

	Logger     *slog.Logger
	HTTPClient *http.Client

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager owns the token lifecycle for one account: load-or-authenticate,
// expiry detection, serialized refresh, and persistence after refresh. It is
// safe for concurrent use by multiple in-flight requests.
type Manager struct {
	account string
	store   Store
	creds   *Credentials
	reauth  Authenticator
	policy  *retry.Policy
	logger  *slog.Logger
	http    *http.Client
	now     func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	current *Record
}

// NewManager constructs a manager scoped to one account's store entry. It
// does not itself authenticate.
func NewManager(account string, store Store, opts ManagerOptions) *Manager {
	m := &Manager{
		account: account,
		store:   store,
		creds:   opts.Credentials,
		reauth:  opts.Reauth,
		policy:  opts.RetryPolicy,
		logger:  opts.Logger,
		http:    opts.HTTPClient,
		now:     opts.Now,
	}
	if m.policy == nil {
		m.policy = retry.NewPolicy(0, 0, 0)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Account returns the account identifier this manager is scoped to.
func (m *Manager) Account() string {
	return m.account
}

// EnsureAuthenticated makes sure a usable token record exists, driving the
// given authorization flow when none does, and persists the result.
func (m *Manager) EnsureAuthenticated(ctx context.Context, flow Authenticator) error {
	if _, err := m.AccessToken(ctx); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotAuthenticated) && !errors.Is(err, ErrTokenExpired) {
		return err
	}

	rec, err := flow.Authorize(ctx)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if err := m.persist(ctx, rec); err != nil {
		return err
	}
	m.logger.Info("authenticated",
		logging.Operation("auth.login"), logging.Account(m.account))
	return nil
}

// AccessToken returns a fresh access token, refreshing first when the
// current one is within the skew margin of expiry. Concurrent callers share
// a single in-flight refresh per account.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	rec, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if rec.Valid(m.now()) {
		return rec.AccessToken, nil
	}
	return m.refreshShared(ctx, false)
}

// ForceRefresh discards the cached access token and refreshes regardless of
// its recorded expiry. Used by the API client after a 401.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	return m.refreshShared(ctx, true)
}

// Logout deletes the account's persisted record. Idempotent.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	if err := m.store.Delete(ctx, m.account); err != nil {
		return err
	}
	m.logger.Info("logged out",
		logging.Operation("auth.logout"), logging.Account(m.account))
	return nil
}

// ListAccounts enumerates accounts known to the underlying store.
func (m *Manager) ListAccounts(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// load returns the cached record, reading from the store on first use.
// Corrupt persisted data is downgraded to "no token" so the caller re-runs
// authentication instead of crashing.
func (m *Manager) load(ctx context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return *m.current, nil
	}

	rec, err := m.store.Get(ctx, m.account)
	switch {
	case err == nil:
		m.current = &rec
		return rec, nil
	case errors.Is(err, ErrCorrupt):
		m.logger.Warn("persisted token record corrupt, forcing re-authentication",
			logging.Account(m.account), logging.Err(err))
		return Record{}, ErrNotAuthenticated
	case errors.Is(err, ErrNotFound):
		return Record{}, ErrNotAuthenticated
	default:
		return Record{}, err
	}
}

// refreshShared collapses overlapping refresh calls for this account into
// one wire-level refresh (single-flight). The force flag distinguishes a
// 401-driven refresh from an expiry-driven one so a caller that raced a
// completed refresh still gets the new token without a second request.
func (m *Manager) refreshShared(ctx context.Context, force bool) (string, error) {
	// The refresh runs detached from any single caller's context: one
	// caller giving up must not abort the shared refresh for the others.
	// Each caller still unblocks on its own context below.
	refreshCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(m.account, func() (interface{}, error) {
		rec, err := m.load(refreshCtx)
		if err != nil {
			return "", err
		}
		// Another caller may have refreshed while we waited on the group.
		if !force && rec.Valid(m.now()) {
			return rec.AccessToken, nil
		}
		fresh, err := m.refresh(refreshCtx, rec)
		if err != nil {
			return "", err
		}
		return fresh.AccessToken, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// refresh performs one token refresh and persists the result. Records
// without a refresh token fall back to the configured re-authorizer.
func (m *Manager) refresh(ctx context.Context, rec Record) (Record, error) {
	if rec.RefreshToken == "" {
		if m.reauth == nil {
			return Record{}, ErrTokenExpired
		}
		fresh, err := m.reauth.Authorize(ctx)
		if err != nil {
			return Record{}, fmt.Errorf("re-authorization failed: %w", err)
		}
		if err := m.persist(ctx, fresh); err != nil {
			return Record{}, err
		}
		return fresh, nil
	}

	if m.creds == nil {
		return Record{}, errors.New("auth: no client credentials configured for refresh")
	}

	conf := m.creds.OAuthConfig("")
	if m.http != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.http)
	}

	// The refresh grant is itself an HTTP call; transient failures go
	// through the same retry policy as ordinary API calls.
	b := m.policy.Backoff()
	var lastErr error
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken})
		tok, err := ts.Token()
		if err == nil {
			fresh := RecordFromToken(tok, rec.RefreshToken, rec.Scopes)
			if perr := m.persist(ctx, fresh); perr != nil {
				return Record{}, perr
			}
			m.logger.Debug("token refreshed",
				logging.Operation("auth.refresh"), logging.Account(m.account))
			return fresh, nil
		}

		status := 0
		var retryAfter time.Duration
		var rerr *oauth2.RetrieveError
		transportErr := err
		if errors.As(err, &rerr) && rerr.Response != nil {
			status = rerr.Response.StatusCode
			retryAfter = retry.RetryAfter(rerr.Response.Header)
			transportErr = nil
		}

		switch retry.Classify(status, transportErr) {
		case retry.Retryable:
			lastErr = err
			m.logger.Warn("token refresh failed, retrying",
				logging.Operation("auth.refresh"), logging.Account(m.account),
				logging.Attempt(attempt), logging.Err(err))
			if attempt == m.policy.MaxAttempts {
				break
			}
			if serr := m.policy.Sleep(ctx, b.Next(retryAfter)); serr != nil {
				return Record{}, serr
			}
		default:
			// A definitive rejection means the refresh token is revoked or
			// expired. The caller must re-run interactive authentication.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Record{}, err
			}
			return Record{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
	}
	return Record{}, fmt.Errorf("token refresh failed after %d attempts: %w",
		m.policy.MaxAttempts, lastErr)
}

func (m *Manager) persist(ctx context.Context, rec Record) error {
	if err := m.store.Put(ctx, m.account, rec); err != nil {
		return fmt.Errorf("persist token record: %w", err)
	}
	m.mu.Lock()
	m.current = &rec
	m.mu.Unlock()
	return nil
}
