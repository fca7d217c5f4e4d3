// Package store defines the persistence interface for identities and the
// single auth session row. Implementations must be safe for concurrent use.
package store

import "context"

// Store is the persistence interface the signing handler and sync
// orchestrator depend on.
type Store interface {
	// UpsertIdentity inserts or replaces the identity with this ID.
	UpsertIdentity(ctx context.Context, id *Identity) error
	// GetIdentityByPublicKey looks up an identity by its RFC4253 public-key
	// blob. Returns nil, nil if absent.
	GetIdentityByPublicKey(ctx context.Context, publicKey []byte) (*Identity, error)
	// GetIdentity looks up an identity by its vault id. Returns nil, nil if
	// absent.
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	// DeleteIdentity removes the identity with this ID, if present.
	DeleteIdentity(ctx context.Context, id string) error
	// ListIdentities returns every persisted identity, in persistence order.
	ListIdentities(ctx context.Context) ([]*Identity, error)

	// SaveAuth replaces the single AuthBlob row wholesale, as happens on
	// login.
	SaveAuth(ctx context.Context, auth *AuthBlob) error
	// GetAuth returns the single AuthBlob row, or nil, nil if no login has
	// happened yet.
	GetAuth(ctx context.Context) (*AuthBlob, error)
	// UpdateAuthTokens updates access_token and expires_at in place, as
	// happens on token refresh. newRefreshToken is also stored when the
	// vault rotated it; pass "" to leave the existing refresh_token alone.
	UpdateAuthTokens(ctx context.Context, accessToken string, expiresAt int64, newRefreshToken string) error

	// Close releases database resources.
	Close() error
}

// Identity is the persisted record for one vault-exposed key. PrivateKey
// and IntermediateKey are opaque VaultEncryptedString values; the store
// never interprets them.
type Identity struct {
	ID              string
	Name            string
	PublicKey       []byte
	PrivateKey      string
	IntermediateKey *string // nil when the vault item carries no intermediate key
}

// AuthBlob binds the vault session to sealed key material. SealedMasterKey
// and SealedSymmetricKey are ciphertexts produced by the sealing worker;
// nothing but the sealing worker may interpret them. SealedMasterKey is
// written at login but never subsequently read; it is kept for forward
// compatibility.
type AuthBlob struct {
	VaultURL           string
	AccessToken        string
	RefreshToken       string
	ExpiresAt          int64
	SealedMasterKey    []byte
	SealedSymmetricKey []byte
}
