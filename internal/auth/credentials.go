package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// Scopes is the full Google Workspace scope set requested at login.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/documents",
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/presentations",
	"https://www.googleapis.com/auth/tasks",
}

const (
	defaultAuthURI  = "https://accounts.google.com/o/oauth2/auth"
	defaultTokenURI = "https://oauth2.googleapis.com/token"
)

// Credentials are the OAuth client settings read from a Google Cloud
// credentials.json download.
type Credentials struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURI      string   `json:"auth_uri"`
	TokenURI     string   `json:"token_uri"`
	RedirectURIs []string `json:"redirect_uris"`
	ProjectID    string   `json:"project_id"`
}

// ReadCredentials loads and validates a credentials.json file. Both
// "installed" and "web" application types are accepted.
func ReadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return ParseCredentials(data)
}

// ParseCredentials decodes credentials.json content.
func ParseCredentials(data []byte) (*Credentials, error) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON: %w", err)
	}

	raw, ok := wrapper["installed"]
	if !ok {
		raw, ok = wrapper["web"]
	}
	if !ok {
		return nil, fmt.Errorf("credentials must contain an %q or %q key", "installed", "web")
	}

	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("invalid credentials JSON: %w", err)
	}

	if strings.TrimSpace(creds.ClientID) == "" {
		return nil, fmt.Errorf("credentials: client_id cannot be empty")
	}
	if strings.TrimSpace(creds.ClientSecret) == "" {
		return nil, fmt.Errorf("credentials: client_secret cannot be empty")
	}
	if creds.AuthURI == "" {
		creds.AuthURI = defaultAuthURI
	}
	if creds.TokenURI == "" {
		creds.TokenURI = defaultTokenURI
	}
	return &creds, nil
}

// OAuthConfig builds the oauth2 configuration for the interactive flow.
func (c *Credentials) OAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURI,
			TokenURL: c.TokenURI,
		},
	}
}
