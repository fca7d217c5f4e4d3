package vaultcrypto

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// KDFType mirrors the KDF identifiers the vault's prelogin response names.
// Only KDFPBKDF2 is supported; any other value is an UnsupportedCryptoError.
type KDFType int

const (
	KDFPBKDF2   KDFType = 0
	KDFArgon2id KDFType = 1
)

// MasterKey derives the 32-byte master key per
// PBKDF2-HMAC-SHA-256(password, salt=email-lowercased, iterations, dkLen=32).
// kdf must be KDFPBKDF2; any other id is rejected before any derivation work.
func MasterKey(kdf KDFType, password, email string, iterations int) ([]byte, error) {
	if kdf != KDFPBKDF2 {
		return nil, fmt.Errorf("%w: kdf type %d", ErrUnsupportedCrypto, kdf)
	}
	if iterations <= 0 {
		return nil, fmt.Errorf("%w: non-positive iteration count", ErrUnsupportedCrypto)
	}
	salt := strings.ToLower(email)
	return pbkdf2.Key([]byte(password), []byte(salt), iterations, 32, sha256.New), nil
}

// MasterKeyHash derives the value sent as "password" to the identity
// endpoint: PBKDF2-HMAC-SHA-256(master_key, salt=password, iterations=1,
// dkLen=32), base64-standard-encoded.
func MasterKeyHash(masterKey []byte, password string) string {
	hash := pbkdf2.Key(masterKey, []byte(password), 1, 32, sha256.New)
	return base64.StdEncoding.EncodeToString(hash)
}
