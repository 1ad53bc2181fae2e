package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/workspacekit/workspace-cli/internal/logging"
)

const (
	// Loopback redirect target registered with Google for installed apps.
	// Google accepts any port on 127.0.0.1 but the credentials commonly pin
	// this one.
	redirectPort = 8085
	redirectURL  = "http://127.0.0.1:8085"

	callbackTimeout = 5 * time.Minute
)

const callbackPage = `<html><body><h1>Authorization successful!</h1>
<p>You can close this window and return to the terminal.</p></body></html>`

// Authenticator drives an authorization flow that yields a token record.
type Authenticator interface {
	Authorize(ctx context.Context) (Record, error)
}

// InstalledFlow is the interactive authorization-code flow for installed
// applications: it opens a loopback listener, prints the consent URL, waits
// for the redirect, and exchanges the code using PKCE.
type InstalledFlow struct {
	Credentials *Credentials
	Logger      *slog.Logger

	// Prompt receives the URL the user must open. Defaults to stdout-style
	// printing by the caller; tests inject a function that drives the
	// redirect themselves.
	Prompt func(authURL string)
}

var _ Authenticator = (*InstalledFlow)(nil)

// Authorize runs the flow and returns the freshly minted record.
func (f *InstalledFlow) Authorize(ctx context.Context) (Record, error) {
	conf := f.Credentials.OAuthConfig(redirectURL)

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	authURL := conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(verifier),
	)

	code, err := f.captureAuthCode(ctx, state, authURL)
	if err != nil {
		return Record{}, err
	}

	if f.Logger != nil {
		f.Logger.Debug("exchanging authorization code", logging.Operation("auth.exchange"))
	}

	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Record{}, fmt.Errorf("token exchange failed: %w", err)
	}

	return RecordFromToken(tok, "", Scopes), nil
}

// captureAuthCode serves the loopback redirect and returns the first
// authorization code whose state matches.
func (f *InstalledFlow) captureAuthCode(ctx context.Context, state, authURL string) (string, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", redirectPort))
	if err != nil {
		return "", fmt.Errorf("bind loopback port %d: %w", redirectPort, err)
	}
	defer ln.Close()

	if f.Prompt != nil {
		f.Prompt(authURL)
	}

	type result struct {
		code string
		err  error
	}
	resultCh := make(chan result, 1)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if errCode := q.Get("error"); errCode != "" {
				http.Error(w, "authorization denied", http.StatusBadRequest)
				resultCh <- result{err: fmt.Errorf("authorization denied: %s", errCode)}
				return
			}
			if q.Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				resultCh <- result{err: errors.New("authorization response state mismatch")}
				return
			}
			code := q.Get("code")
			if code == "" {
				http.Error(w, "missing code", http.StatusBadRequest)
				resultCh <- result{err: errors.New("no authorization code in callback")}
				return
			}
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, callbackPage)
			resultCh <- result{code: code}
		}),
	}

	go srv.Serve(ln)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(ctx, callbackTimeout)
	defer cancel()

	select {
	case res := <-resultCh:
		return res.code, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for authorization callback: %w", ctx.Err())
	}
}
