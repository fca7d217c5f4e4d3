package syncorch

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/teidesu/bw-ssh-agent/internal/sealing"
	"github.com/teidesu/bw-ssh-agent/internal/store"
	"github.com/teidesu/bw-ssh-agent/internal/vault"
	"github.com/teidesu/bw-ssh-agent/internal/vaultcrypto"
)

func encryptForTest(t *testing.T, key vaultcrypto.ExpandedKey, plaintext []byte) string {
	t.Helper()

	block, err := aes.NewCipher(key.Enc[:])
	if err != nil {
		t.Fatal(err)
	}

	padding := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(padding)}, padding)...)

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatal(err)
	}

	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	mac := hmac.New(sha256.New, key.Mac[:])
	mac.Write(iv)
	mac.Write(ct)

	return fmt.Sprintf("2.%s|%s|%s",
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(ct),
		base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func randomExpandedKey(t *testing.T) vaultcrypto.ExpandedKey {
	t.Helper()
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	k, err := vaultcrypto.ExpandedKeyFromBytes(raw)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func openSSHPEM(t *testing.T, key interface{}) []byte {
	t.Helper()
	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}
	return pem.EncodeToMemory(block)
}

func fieldPtr(s string) *string { return &s }

func TestOrchestrator_ExposeSyncsThenDeletesOnSecondRun(t *testing.T) {
	accountKey := randomExpandedKey(t)
	rawAccountKey := append(append([]byte{}, accountKey.Enc[:]...), accountKey.Mac[:]...)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	wantBlob := signer.PublicKey().Marshal()

	cipherWithNote := vault.CipherDetails{
		ID:         "cipher-1",
		Name:       encryptForTest(t, accountKey, []byte("work")),
		Notes:      encryptForTest(t, accountKey, openSSHPEM(t, priv)),
		Type:       vault.CipherSecureNote,
		SecureNote: &vault.CipherSecureNoteData{Type: 0},
		Fields: []vault.CipherField{
			{
				Name:  fieldPtr(encryptForTest(t, accountKey, []byte(exposeTag))),
				Type:  vault.FieldHidden,
				Value: fieldPtr(encryptForTest(t, accountKey, []byte("1"))),
			},
		},
	}

	syncBody, err := json.Marshal(vault.SyncResponse{Ciphers: []vault.CipherDetails{cipherWithNote}})
	if err != nil {
		t.Fatal(err)
	}

	var serveExposed = true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if serveExposed {
			w.Write(syncBody) //nolint:errcheck
		} else {
			json.NewEncoder(w).Encode(vault.SyncResponse{}) //nolint:errcheck
		}
	}))
	defer srv.Close()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sf := sealing.Start(filepath.Join(t.TempDir(), "keypair.pem"))
	t.Cleanup(sf.Terminate)
	if err := sf.EnsureKeypair(); err != nil {
		t.Fatal(err)
	}
	sealedSymmetric, err := sf.Encrypt(rawAccountKey)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	auth := &store.AuthBlob{
		VaultURL: srv.URL, AccessToken: "at", RefreshToken: "rt",
		ExpiresAt: 1 << 40, SealedMasterKey: []byte("unused"), SealedSymmetricKey: sealedSymmetric,
	}
	if err := st.SaveAuth(ctx, auth); err != nil {
		t.Fatal(err)
	}

	client := vault.NewClient()
	tokens := vault.NewTokenManager(client, st, srv.URL, auth)
	orch := New(client, tokens, sf, st, srv.URL)

	summary, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Found != 1 || summary.Upserted != 1 || summary.Deleted != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	identity, err := st.GetIdentity(ctx, "cipher-1")
	if err != nil {
		t.Fatal(err)
	}
	if identity == nil {
		t.Fatal("expected identity to be persisted")
	}
	if identity.Name != "work" {
		t.Fatalf("got name %q, want work", identity.Name)
	}
	if !bytes.Equal(identity.PublicKey, wantBlob) {
		t.Fatal("persisted public key does not match the note's derived key")
	}

	serveExposed = false
	summary, err = orch.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if summary.Deleted != 1 {
		t.Fatalf("expected the stale identity to be deleted, got %+v", summary)
	}

	identity, err = st.GetIdentity(ctx, "cipher-1")
	if err != nil {
		t.Fatal(err)
	}
	if identity != nil {
		t.Fatal("expected identity to be deleted after a run without the exposed note")
	}
}

func TestOrchestrator_NonExposedItemIsSkipped(t *testing.T) {
	accountKey := randomExpandedKey(t)
	rawAccountKey := append(append([]byte{}, accountKey.Enc[:]...), accountKey.Mac[:]...)

	cipherNotExposed := vault.CipherDetails{
		ID:         "cipher-2",
		Name:       encryptForTest(t, accountKey, []byte("personal note")),
		Notes:      encryptForTest(t, accountKey, []byte("just text, not a key")),
		Type:       vault.CipherSecureNote,
		SecureNote: &vault.CipherSecureNoteData{Type: 0},
	}

	syncBody, err := json.Marshal(vault.SyncResponse{Ciphers: []vault.CipherDetails{cipherNotExposed}})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(syncBody) //nolint:errcheck
	}))
	defer srv.Close()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sf := sealing.Start(filepath.Join(t.TempDir(), "keypair.pem"))
	t.Cleanup(sf.Terminate)
	if err := sf.EnsureKeypair(); err != nil {
		t.Fatal(err)
	}
	sealedSymmetric, err := sf.Encrypt(rawAccountKey)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	auth := &store.AuthBlob{
		VaultURL: srv.URL, AccessToken: "at", RefreshToken: "rt",
		ExpiresAt: 1 << 40, SealedMasterKey: []byte("unused"), SealedSymmetricKey: sealedSymmetric,
	}
	if err := st.SaveAuth(ctx, auth); err != nil {
		t.Fatal(err)
	}

	client := vault.NewClient()
	tokens := vault.NewTokenManager(client, st, srv.URL, auth)
	orch := New(client, tokens, sf, st, srv.URL)

	summary, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Found != 0 || summary.Upserted != 0 {
		t.Fatalf("non-exposed item should not be synced, got %+v", summary)
	}
}

func TestOrchestrator_NotLoggedIn(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sf := sealing.Start(filepath.Join(t.TempDir(), "keypair.pem"))
	t.Cleanup(sf.Terminate)

	client := vault.NewClient()
	orch := New(client, nil, sf, st, "https://vault.example.com")

	_, err = orch.Run(context.Background())
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("got %v, want ErrNotLoggedIn", err)
	}
}
