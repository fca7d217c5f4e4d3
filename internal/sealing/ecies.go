package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// eciesEncrypt and eciesDecrypt emulate the enclave's
// "ECIES-standard variable-IV, X9.63-SHA256, AES-GCM" algorithm using
// stdlib primitives: an ephemeral P-256 ECDH exchange feeds an
// HKDF-SHA-256 key-derivation step (standing in for X9.63-SHA256) that
// produces a 32-byte AES-GCM key. The wire format is
// ephemeral_pubkey(65) || nonce(12) || ciphertext+tag, all emitted by
// Encrypt and expected by Decrypt.
const (
	ephemeralPubLen = 65 // uncompressed P-256 point
	nonceLen        = 12
)

func eciesEncrypt(pub *ecdh.PublicKey, plaintext []byte) ([]byte, error) {
	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	shared, err := ephemeral.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("sealing: ecdh: %w", err)
	}

	aead, err := aesGCMFromSharedSecret(shared, ephemeral.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ct := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, ephemeralPubLen+nonceLen+len(ct))
	out = append(out, ephemeral.PublicKey().Bytes()...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

func eciesDecrypt(priv *ecdh.PrivateKey, envelope []byte) ([]byte, error) {
	if len(envelope) < ephemeralPubLen+nonceLen {
		return nil, fmt.Errorf("sealing: envelope too short")
	}

	ephemeralPubBytes := envelope[:ephemeralPubLen]
	nonce := envelope[ephemeralPubLen : ephemeralPubLen+nonceLen]
	ct := envelope[ephemeralPubLen+nonceLen:]

	ephemeralPub, err := ecdh.P256().NewPublicKey(ephemeralPubBytes)
	if err != nil {
		return nil, fmt.Errorf("sealing: invalid ephemeral public key: %w", err)
	}

	shared, err := priv.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("sealing: ecdh: %w", err)
	}

	aead, err := aesGCMFromSharedSecret(shared, ephemeralPubBytes)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("sealing: authentication failed: %w", err)
	}
	return plaintext, nil
}

func aesGCMFromSharedSecret(shared, info []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, shared, nil, info)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
