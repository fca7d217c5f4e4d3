// Package signing implements the SignRequest and RequestIdentities state
// machines: resolving a persisted identity, unsealing its key material
// through the sealing worker, and producing an SSH signature without ever
// writing decrypted key material to disk.
package signing

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/teidesu/bw-ssh-agent/internal/protocol"
	"github.com/teidesu/bw-ssh-agent/internal/sealing"
	"github.com/teidesu/bw-ssh-agent/internal/secret"
	"github.com/teidesu/bw-ssh-agent/internal/store"
	"github.com/teidesu/bw-ssh-agent/internal/vaultcrypto"
)

// Handler resolves SSH agent requests against a Store and a sealing
// Facade. It holds no key material itself between requests; everything
// unsealed during a sign is zeroized before the method returns.
type Handler struct {
	store   store.Store
	sealing *sealing.Facade
}

// NewHandler builds a Handler over the given store and sealing facade.
func NewHandler(st store.Store, sf *sealing.Facade) *Handler {
	return &Handler{store: st, sealing: sf}
}

// Identities implements RequestIdentities: one entry per persisted
// identity, in persistence order.
func (h *Handler) Identities(ctx context.Context) (protocol.Response, error) {
	ids, err := h.store.ListIdentities(ctx)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("list identities: %w", err)
	}

	out := make([]protocol.Identity, 0, len(ids))
	for _, id := range ids {
		out = append(out, protocol.Identity{KeyBlob: id.PublicKey, KeyComment: id.Name})
	}
	return protocol.IdentitiesAnswer(out), nil
}

// Sign resolves the identity for pubkeyBlob, unseals the account key,
// decrypts the private key and produces a signature over data. Any
// expected failure (unknown key, not logged in, unsupported algorithm,
// decryption failure) yields a plain Failure response rather than an
// error; err is reserved for unexpected, operator-visible conditions.
func (h *Handler) Sign(ctx context.Context, pubkeyBlob, data []byte, flags protocol.SignatureFlags) (protocol.Response, error) {
	identity, err := h.store.GetIdentityByPublicKey(ctx, pubkeyBlob)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("look up identity: %w", err)
	}
	if identity == nil {
		return protocol.Failure(), nil
	}

	auth, err := h.store.GetAuth(ctx)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("load auth: %w", err)
	}
	if auth == nil {
		return protocol.Failure(), nil
	}

	rawSymmetric, err := h.sealing.Decrypt(auth.SealedSymmetricKey)
	if err != nil {
		return protocol.Failure(), nil //nolint:nilerr
	}
	defer rawSymmetric.Zero()

	effectiveKey, err := vaultcrypto.ExpandedKeyFromBytes(rawSymmetric)
	if err != nil {
		return protocol.Failure(), nil //nolint:nilerr
	}
	defer effectiveKey.Zero()

	if identity.IntermediateKey != nil {
		itemKeyBytes, err := vaultcrypto.Decrypt(effectiveKey, *identity.IntermediateKey)
		if err != nil {
			return protocol.Failure(), nil //nolint:nilerr
		}
		itemKey, keyErr := vaultcrypto.ExpandedKeyFromBytes(itemKeyBytes)
		secret.Bytes(itemKeyBytes).Zero()
		if keyErr != nil {
			return protocol.Failure(), nil //nolint:nilerr
		}
		effectiveKey.Zero()
		effectiveKey = itemKey
		defer effectiveKey.Zero()
	}

	privKeyPEM, err := vaultcrypto.Decrypt(effectiveKey, identity.PrivateKey)
	if err != nil {
		return protocol.Failure(), nil //nolint:nilerr
	}
	defer secret.Bytes(privKeyPEM).Zero()

	raw, err := ssh.ParseRawPrivateKey(privKeyPEM)
	if err != nil {
		return protocol.Failure(), nil //nolint:nilerr
	}

	algoName, signature, err := signWith(raw, data, flags)
	if err != nil {
		return protocol.Failure(), nil //nolint:nilerr
	}

	return protocol.SignResponse(algoName, signature), nil
}

// signWith dispatches on the key's concrete type: RSA keys pick their hash
// from flags and sign with explicit PKCS#1 v1.5, since ssh.Signer does not
// expose a per-call hash choice; every other key type signs with its
// native algorithm and ignores flags.
func signWith(raw interface{}, data []byte, flags protocol.SignatureFlags) (string, []byte, error) {
	if rsaKey, ok := raw.(*rsa.PrivateKey); ok {
		return signRSA(rsaKey, data, flags)
	}

	signer, err := ssh.NewSignerFromKey(raw)
	if err != nil {
		return "", nil, fmt.Errorf("build signer: %w", err)
	}
	sig, err := signer.Sign(rand.Reader, data)
	if err != nil {
		return "", nil, fmt.Errorf("sign: %w", err)
	}
	return sig.Format, sig.Blob, nil
}

func signRSA(key *rsa.PrivateKey, data []byte, flags protocol.SignatureFlags) (string, []byte, error) {
	var (
		hash     crypto.Hash
		hashed   []byte
		algoName string
	)
	switch {
	case flags.Has(protocol.FlagRSASHA2_512):
		sum := sha512.Sum512(data)
		hash, hashed, algoName = crypto.SHA512, sum[:], "rsa-sha2-512"
	case flags.Has(protocol.FlagRSASHA2_256):
		sum := sha256.Sum256(data)
		hash, hashed, algoName = crypto.SHA256, sum[:], "rsa-sha2-256"
	default:
		return "", nil, ErrUnsupportedAlgorithm
	}

	sig, err := rsa.SignPKCS1v15(rand.Reader, key, hash, hashed)
	if err != nil {
		return "", nil, fmt.Errorf("rsa sign: %w", err)
	}
	return algoName, sig, nil
}
