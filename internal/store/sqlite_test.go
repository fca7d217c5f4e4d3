package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIdentity_UpsertGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	intermediate := "2.iv|ct|mac"
	id := &Identity{
		ID:              "vault-id-1",
		Name:            "work",
		PublicKey:       []byte("pubkey-blob"),
		PrivateKey:      "2.iv|ct|mac",
		IntermediateKey: &intermediate,
	}

	if err := s.UpsertIdentity(ctx, id); err != nil {
		t.Fatalf("UpsertIdentity: %v", err)
	}

	got, err := s.GetIdentityByPublicKey(ctx, []byte("pubkey-blob"))
	if err != nil {
		t.Fatalf("GetIdentityByPublicKey: %v", err)
	}
	if got == nil || got.Name != "work" {
		t.Fatalf("got %+v", got)
	}
	if got.IntermediateKey == nil || *got.IntermediateKey != intermediate {
		t.Fatalf("intermediate key not round-tripped: %+v", got)
	}

	id.Name = "personal"
	if err := s.UpsertIdentity(ctx, id); err != nil {
		t.Fatalf("UpsertIdentity (update): %v", err)
	}
	got, err = s.GetIdentity(ctx, "vault-id-1")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if got.Name != "personal" {
		t.Fatalf("got name %q, want personal", got.Name)
	}

	if err := s.DeleteIdentity(ctx, "vault-id-1"); err != nil {
		t.Fatalf("DeleteIdentity: %v", err)
	}
	got, err = s.GetIdentity(ctx, "vault-id-1")
	if err != nil {
		t.Fatalf("GetIdentity after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %+v", got)
	}
}

func TestIdentity_PublicKeyUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertIdentity(ctx, &Identity{ID: "a", Name: "a", PublicKey: []byte("dup"), PrivateKey: "x"}); err != nil {
		t.Fatalf("UpsertIdentity: %v", err)
	}
	err := s.UpsertIdentity(ctx, &Identity{ID: "b", Name: "b", PublicKey: []byte("dup"), PrivateKey: "y"})
	if err == nil {
		t.Fatal("expected unique constraint violation for duplicate public key")
	}
}

func TestListIdentities_Empty(t *testing.T) {
	s := openTestStore(t)
	got, err := s.ListIdentities(context.Background())
	if err != nil {
		t.Fatalf("ListIdentities: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d identities, want 0", len(got))
	}
}

func TestAuth_SaveGetReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetAuth(ctx)
	if err != nil {
		t.Fatalf("GetAuth: %v", err)
	}
	if got != nil {
		t.Fatal("expected no AuthBlob before first login")
	}

	auth := &AuthBlob{
		VaultURL:           "https://vault.bitwarden.com",
		AccessToken:        "access-1",
		RefreshToken:       "refresh-1",
		ExpiresAt:          1000,
		SealedMasterKey:    []byte("sealed-master"),
		SealedSymmetricKey: []byte("sealed-symmetric"),
	}
	if err := s.SaveAuth(ctx, auth); err != nil {
		t.Fatalf("SaveAuth: %v", err)
	}

	got, err = s.GetAuth(ctx)
	if err != nil {
		t.Fatalf("GetAuth: %v", err)
	}
	if got.AccessToken != "access-1" {
		t.Fatalf("got %+v", got)
	}

	// Re-login replaces the row wholesale.
	auth2 := &AuthBlob{
		VaultURL: "https://vault.bitwarden.com", AccessToken: "access-2",
		RefreshToken: "refresh-2", ExpiresAt: 2000,
		SealedMasterKey: []byte("m2"), SealedSymmetricKey: []byte("s2"),
	}
	if err := s.SaveAuth(ctx, auth2); err != nil {
		t.Fatalf("SaveAuth (replace): %v", err)
	}
	got, err = s.GetAuth(ctx)
	if err != nil {
		t.Fatalf("GetAuth: %v", err)
	}
	if got.AccessToken != "access-2" || got.RefreshToken != "refresh-2" {
		t.Fatalf("replace did not take effect: %+v", got)
	}
}

func TestAuth_UpdateTokensInPlace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveAuth(ctx, &AuthBlob{
		VaultURL: "https://vault.bitwarden.com", AccessToken: "old",
		RefreshToken: "refresh-1", ExpiresAt: 100,
		SealedMasterKey: []byte("m"), SealedSymmetricKey: []byte("s"),
	}); err != nil {
		t.Fatalf("SaveAuth: %v", err)
	}

	if err := s.UpdateAuthTokens(ctx, "new-access", 200, ""); err != nil {
		t.Fatalf("UpdateAuthTokens: %v", err)
	}
	got, err := s.GetAuth(ctx)
	if err != nil {
		t.Fatalf("GetAuth: %v", err)
	}
	if got.AccessToken != "new-access" || got.ExpiresAt != 200 || got.RefreshToken != "refresh-1" {
		t.Fatalf("got %+v", got)
	}

	if err := s.UpdateAuthTokens(ctx, "newer-access", 300, "refresh-2"); err != nil {
		t.Fatalf("UpdateAuthTokens (rotate refresh): %v", err)
	}
	got, err = s.GetAuth(ctx)
	if err != nil {
		t.Fatalf("GetAuth: %v", err)
	}
	if got.RefreshToken != "refresh-2" {
		t.Fatalf("refresh token not rotated: %+v", got)
	}
}
