package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// ServiceAccountKey is the parsed form of a Google service-account JSON key.
type ServiceAccountKey struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
	ProjectID   string `json:"project_id"`
}

// ReadServiceAccountKey loads and validates a service-account key file.
func ReadServiceAccountKey(path string) (*ServiceAccountKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account key: %w", err)
	}

	var key ServiceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("invalid service account JSON: %w", err)
	}
	if key.Type != "service_account" {
		return nil, fmt.Errorf("credentials type %q is not a service account", key.Type)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("service account key missing client_email or private_key")
	}
	if key.TokenURI == "" {
		key.TokenURI = defaultTokenURI
	}
	return &key, nil
}

// ServiceAccountFlow authenticates with a signed JWT assertion instead of an
// interactive consent. Tokens minted this way carry no refresh token; expiry
// is handled by minting a fresh assertion.
type ServiceAccountFlow struct {
	Key *ServiceAccountKey

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client

	now func() time.Time
}

var _ Authenticator = (*ServiceAccountFlow)(nil)

// Authorize signs a JWT bearer assertion and exchanges it for an access
// token at the key's token endpoint.
func (f *ServiceAccountFlow) Authorize(ctx context.Context) (Record, error) {
	now := time.Now
	if f.now != nil {
		now = f.now
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(f.Key.PrivateKey))
	if err != nil {
		return Record{}, fmt.Errorf("parse service account private key: %w", err)
	}

	issued := now().UTC()
	claims := jwt.MapClaims{
		"iss":   f.Key.ClientEmail,
		"scope": strings.Join(Scopes, " "),
		"aud":   f.Key.TokenURI,
		"iat":   issued.Unix(),
		"exp":   issued.Add(time.Hour).Unix(),
	}

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		return Record{}, fmt.Errorf("sign service account assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Key.TokenURI,
		strings.NewReader(form.Encode()))
	if err != nil {
		return Record{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("service account token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return Record{}, fmt.Errorf("service account token request rejected (%d): %s %s",
			resp.StatusCode, body.Error, body.ErrorDescription)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return Record{}, fmt.Errorf("decode service account token response: %w", err)
	}
	if tok.AccessToken == "" {
		return Record{}, fmt.Errorf("service account token response contained no access token")
	}

	return Record{
		AccessToken: tok.AccessToken,
		Expiry:      issued.Add(time.Duration(tok.ExpiresIn) * time.Second),
		Scopes:      Scopes,
	}, nil
}
