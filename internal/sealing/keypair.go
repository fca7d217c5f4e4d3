package sealing

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
)

// keyLabel is the well-known label the persistent keypair is bound to.
const keyLabel = "desu.tei.bw-ssh-agent.main-key"

// pemType is the PEM block type used for the persisted keypair. Access
// control metadata (biometric/passcode gating) has no portable enforcement
// point in Go, so it is recorded as a header comment only.
const pemType = "EC PRIVATE KEY"

// loadOrCreateKeypair loads the P-256 keypair persisted at path, or
// generates and persists a new one there with the label recorded as a PEM
// header. An existing file is found by its path; its label is not checked.
func loadOrCreateKeypair(path string) (*ecdh.PrivateKey, error) {
	if fileExists(path) {
		return loadKeypair(path)
	}
	return generateKeypair(path)
}

func loadKeypair(path string) (*ecdh.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemType {
		return nil, fmt.Errorf("sealing: invalid keypair file %s", path)
	}

	priv, err := ecdh.P256().NewPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("sealing: invalid keypair contents: %w", err)
	}
	return priv, nil
}

func generateKeypair(path string) (*ecdh.PrivateKey, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	block := &pem.Block{
		Type: pemType,
		Headers: map[string]string{
			"Label":         keyLabel,
			"AccessControl": "device-unlocked,biometry-or-passcode,private-key-usage",
		},
		Bytes: priv.Bytes(),
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	if err := pem.Encode(f, block); err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return priv, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
