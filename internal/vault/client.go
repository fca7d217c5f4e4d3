// Package vault is the HTTPS/JSON client for the password-manager vault:
// config discovery, prelogin KDF lookup, password and refresh-token grants,
// and the sync payload fetch. It speaks plain net/http and encoding/json.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultURL is the vault server used when the user supplies none at login.
const DefaultURL = "https://vault.bitwarden.com"

const userAgent = "bw-ssh-agent"

// clientVersion is sent as the bitwarden-client-version header. It tracks
// internal/version.Version at build time via the CLI, defaulting to "dev".
var clientVersion = "dev"

// SetClientVersion overrides the version string sent on every request.
func SetClientVersion(v string) {
	if v != "" {
		clientVersion = v
	}
}

// Client talks to a single vault deployment over HTTPS.
type Client struct {
	http *http.Client
}

// NewClient returns a Client with a constant User-Agent and identifying
// headers on every request.
func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) newRequest(ctx context.Context, method, reqURL string, body string, contentType string) (*http.Request, error) {
	var bodyReader *strings.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	} else {
		bodyReader = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("bitwarden-client-name", userAgent)
	req.Header.Set("bitwarden-client-version", clientVersion)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %d", ErrRemoteAuth, req.URL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetConfig fetches GET {server}/api/config.
func (c *Client) GetConfig(ctx context.Context, serverURL string) (*ConfigResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+"/api/config", "", "")
	if err != nil {
		return nil, err
	}
	var out ConfigResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Prelogin fetches POST {identity}/accounts/prelogin.
func (c *Client) Prelogin(ctx context.Context, identityURL, email string) (*PreloginResponse, error) {
	body, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost,
		strings.TrimRight(identityURL, "/")+"/accounts/prelogin", string(body), "application/json")
	if err != nil {
		return nil, err
	}
	var out PreloginResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PasswordLogin performs the password grant against
// POST {identity}/connect/token.
func (c *Client) PasswordLogin(ctx context.Context, identityURL, email, masterKeyHash string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":       {"password"},
		"client_id":        {"browser"},
		"deviceType":       {"21"},
		"deviceName":       {"bw-ssh-agent"},
		"deviceIdentifier": {uuid.NewString()},
		"username":         {email},
		"password":         {masterKeyHash},
		"scope":            {"api offline_access"},
		"devicePushToken":  {""},
	}
	return c.connectToken(ctx, identityURL, form)
}

// RefreshToken performs the refresh_token grant against
// POST {identity}/connect/token.
func (c *Client) RefreshToken(ctx context.Context, identityURL, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"browser"},
		"refresh_token": {refreshToken},
	}
	return c.connectToken(ctx, identityURL, form)
}

func (c *Client) connectToken(ctx context.Context, identityURL string, form url.Values) (*TokenResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost,
		strings.TrimRight(identityURL, "/")+"/connect/token", form.Encode(),
		"application/x-www-form-urlencoded; charset=utf-8")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	var out TokenResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sync fetches GET {api}/sync?excludeDomains=true with a bearer token.
func (c *Client) Sync(ctx context.Context, apiURL, accessToken string) (*SyncResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		strings.TrimRight(apiURL, "/")+"/sync?excludeDomains=true", "", "")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var out SyncResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
