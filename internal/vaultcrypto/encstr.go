package vaultcrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// encType identifies the vault encryption scheme tag. Only typeAESCBCHMAC
// is ever accepted; the others exist so a value recognizably parses before
// being rejected in Decrypt.
type encType int

const (
	typeAESCBCHMAC encType = 2
	typeLegacy     encType = 3
)

// parsed is the split form of a VaultEncryptedString prior to validation.
type parsed struct {
	typ    encType
	pieces []string
}

// parseEncStr splits a VaultEncryptedString of the form
// "<type>.<iv_b64>|<ct_b64>|<mac_b64>", or recognizes the single-piece
// legacy form as type 3. It never returns an error for a value that merely
// carries an unsupported type; that rejection happens in Decrypt, so a
// single-piece legacy value parses cleanly and is then refused.
func parseEncStr(s string) (parsed, error) {
	headerPieces := strings.SplitN(s, ".", 2)
	if len(headerPieces) == 1 {
		return parsed{typ: typeLegacy, pieces: []string{headerPieces[0]}}, nil
	}

	typNum, err := strconv.Atoi(headerPieces[0])
	if err != nil {
		return parsed{}, fmt.Errorf("%w: non-numeric type tag", ErrMalformed)
	}

	return parsed{typ: encType(typNum), pieces: strings.Split(headerPieces[1], "|")}, nil
}

// Decrypt parses and authenticates-then-decrypts a VaultEncryptedString
// using a 64-byte ExpandedKey. Only type 2 (AES-256-CBC with HMAC-SHA-256
// over iv||ct) is supported; anything else, including the legacy
// single-piece form, is ErrUnsupportedCrypto. A MAC mismatch is
// ErrMacVerify and the ciphertext is never decrypted.
func Decrypt(key ExpandedKey, encStr string) ([]byte, error) {
	p, err := parseEncStr(encStr)
	if err != nil {
		return nil, err
	}

	if p.typ != typeAESCBCHMAC {
		return nil, fmt.Errorf("%w: encryption type %d", ErrUnsupportedCrypto, p.typ)
	}
	if len(p.pieces) != 3 {
		return nil, fmt.Errorf("%w: expected 3 pieces, got %d", ErrMalformed, len(p.pieces))
	}

	iv, err := base64.StdEncoding.DecodeString(p.pieces[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv encoding", ErrMalformed)
	}
	ct, err := base64.StdEncoding.DecodeString(p.pieces[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrMalformed)
	}
	mac, err := base64.StdEncoding.DecodeString(p.pieces[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad mac encoding", ErrMalformed)
	}

	expected := hmac.New(sha256.New, key.Mac[:])
	expected.Write(iv)
	expected.Write(ct)
	if !hmac.Equal(mac, expected.Sum(nil)) {
		return nil, ErrMacVerify
	}

	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", ErrMalformed)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv not %d bytes", ErrMalformed, aes.BlockSize)
	}

	block, err := aes.NewCipher(key.Enc[:])
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ct)

	return pkcs7Unpad(plaintext)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrMalformed)
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > len(data) || padding > aes.BlockSize {
		return nil, fmt.Errorf("%w: invalid padding", ErrMalformed)
	}
	if !bytes.Equal(data[len(data)-padding:], bytes.Repeat([]byte{byte(padding)}, padding)) {
		return nil, fmt.Errorf("%w: invalid padding bytes", ErrMalformed)
	}
	return data[:len(data)-padding], nil
}
