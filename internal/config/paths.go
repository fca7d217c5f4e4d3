// Package config resolves the on-disk locations the daemon and CLI agree on:
// the config directory, the Unix socket, the PID file and the database file.
package config

import (
	"os"
	"path/filepath"
)

const dirName = "bw-ssh-agent"

// Dir returns the base configuration directory for the daemon, creating it
// if necessary. It follows the platform's user-config convention via
// os.UserConfigDir().
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, dirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// SocketPath returns the canonical Unix-domain socket path.
func SocketPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agent.sock"), nil
}

// PIDPath returns the canonical PID file path.
func PIDPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agent.pid"), nil
}

// DatabasePath returns the canonical SQLite database path.
func DatabasePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agent.db"), nil
}

// KeypairPath returns the PEM file backing the sealing worker's persistent
// keypair.
func KeypairPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sealing.pem"), nil
}
