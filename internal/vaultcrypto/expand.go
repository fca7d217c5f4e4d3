package vaultcrypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ExpandedKey is the 64-byte (enc, mac) pair HKDF derives from a 32-byte
// secret. Callers must call Zero when the key is no longer needed.
type ExpandedKey struct {
	Enc [32]byte
	Mac [32]byte
}

// Zero overwrites both halves of the key in place.
func (k *ExpandedKey) Zero() {
	for i := range k.Enc {
		k.Enc[i] = 0
	}
	for i := range k.Mac {
		k.Mac[i] = 0
	}
}

// Expand derives an ExpandedKey from a 32-byte secret via HKDF-SHA-256
// with info strings "enc" and "mac". The secret is treated as an
// already-extracted PRK, so this calls the expand step directly rather
// than running HKDF-Extract over it again.
func Expand(secret []byte) (ExpandedKey, error) {
	if len(secret) != 32 {
		return ExpandedKey{}, ErrMalformed
	}

	var out ExpandedKey

	encReader := hkdf.Expand(sha256.New, secret, []byte("enc"))
	if _, err := io.ReadFull(encReader, out.Enc[:]); err != nil {
		return ExpandedKey{}, err
	}

	macReader := hkdf.Expand(sha256.New, secret, []byte("mac"))
	if _, err := io.ReadFull(macReader, out.Mac[:]); err != nil {
		out.Zero()
		return ExpandedKey{}, err
	}

	return out, nil
}

// ExpandedKeyFromBytes splits an already-expanded 64-byte key (enc||mac)
// into an ExpandedKey without running HKDF again. This is the shape the
// vault's own "Key" response and a decrypted intermediate_key arrive in:
// both are 64-byte enc||mac pairs to be used directly, not raw secrets
// needing expansion.
func ExpandedKeyFromBytes(b []byte) (ExpandedKey, error) {
	if len(b) != 64 {
		return ExpandedKey{}, ErrMalformed
	}
	var out ExpandedKey
	copy(out.Enc[:], b[:32])
	copy(out.Mac[:], b[32:])
	return out, nil
}
