package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driveRedirect simulates the browser: it extracts the state from the
// consent URL and hits the loopback callback with the given code.
func driveRedirect(t *testing.T, authURL, code string, mangleState bool) {
	t.Helper()
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	if mangleState {
		state = "tampered-" + state
	}

	go func() {
		resp, err := http.Get(fmt.Sprintf("%s/?state=%s&code=%s", redirectURL, state, code))
		if err == nil {
			resp.Body.Close()
		}
	}()
}

func TestInstalledFlowAuthorize(t *testing.T) {
	var gotCode, gotVerifier string
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotCode = r.FormValue("code")
		gotVerifier = r.FormValue("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"flow-access","refresh_token":"flow-refresh","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	flow := &InstalledFlow{
		Credentials: &Credentials{
			ClientID:     "id",
			ClientSecret: "secret",
			AuthURI:      "https://accounts.google.com/o/oauth2/auth",
			TokenURI:     tokenSrv.URL,
		},
		Prompt: func(authURL string) {
			// The consent URL must request offline access with PKCE.
			assert.Contains(t, authURL, "access_type=offline")
			assert.Contains(t, authURL, "prompt=consent")
			assert.Contains(t, authURL, "code_challenge_method=S256")
			driveRedirect(t, authURL, "auth-code-123", false)
		},
	}

	rec, err := flow.Authorize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "flow-access", rec.AccessToken)
	assert.Equal(t, "flow-refresh", rec.RefreshToken)
	assert.Equal(t, Scopes, rec.Scopes)
	assert.Equal(t, "auth-code-123", gotCode)
	assert.NotEmpty(t, gotVerifier, "exchange must carry the PKCE verifier")
}

func TestInstalledFlowStateMismatch(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("a tampered state must never reach the token endpoint")
	}))
	defer tokenSrv.Close()

	flow := &InstalledFlow{
		Credentials: &Credentials{
			ClientID:     "id",
			ClientSecret: "secret",
			AuthURI:      "https://accounts.google.com/o/oauth2/auth",
			TokenURI:     tokenSrv.URL,
		},
		Prompt: func(authURL string) {
			driveRedirect(t, authURL, "auth-code-123", true)
		},
	}

	_, err := flow.Authorize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state mismatch")
}
