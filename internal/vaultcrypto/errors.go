package vaultcrypto

import "errors"

var (
	// ErrUnsupportedCrypto marks a non-PBKDF2 KDF id or a non-type-2 vault
	// ciphertext. Fatal to the specific operation.
	ErrUnsupportedCrypto = errors.New("vaultcrypto: unsupported crypto scheme")

	// ErrMacVerify marks an authentication tag mismatch. The associated
	// ciphertext must never be decrypted further.
	ErrMacVerify = errors.New("vaultcrypto: mac verification failed")

	// ErrMalformed marks an encstr that doesn't parse as any recognized shape.
	ErrMalformed = errors.New("vaultcrypto: malformed encrypted string")
)
