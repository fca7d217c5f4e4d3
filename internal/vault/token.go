package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/teidesu/bw-ssh-agent/internal/store"
)

// TokenRenewMargin is how far ahead of expiry a token is proactively
// refreshed.
const TokenRenewMargin = 60 * time.Second

// TokenManager holds the current access/refresh token pair and refreshes
// the access token just before it expires, persisting the result.
type TokenManager struct {
	client      *Client
	store       store.Store
	identityURL string

	accessToken  string
	refreshToken string
	expiresAt    int64
}

// NewTokenManager builds a TokenManager seeded from an already-loaded
// AuthBlob, avoiding a second store round trip.
func NewTokenManager(client *Client, st store.Store, identityURL string, auth *store.AuthBlob) *TokenManager {
	return &TokenManager{
		client:       client,
		store:        st,
		identityURL:  identityURL,
		accessToken:  auth.AccessToken,
		refreshToken: auth.RefreshToken,
		expiresAt:    auth.ExpiresAt,
	}
}

// AccessToken returns a token known to be valid for at least
// TokenRenewMargin, refreshing and persisting a new one first if necessary.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	now := time.Now().Unix()
	if now <= m.expiresAt-int64(TokenRenewMargin.Seconds()) {
		return m.accessToken, nil
	}

	resp, err := m.client.RefreshToken(ctx, m.identityURL, m.refreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}

	m.accessToken = resp.AccessToken
	m.expiresAt = time.Now().Unix() + resp.ExpiresIn
	if resp.RefreshToken != "" {
		m.refreshToken = resp.RefreshToken
	}

	if err := m.store.UpdateAuthTokens(ctx, m.accessToken, m.expiresAt, resp.RefreshToken); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}

	return m.accessToken, nil
}
