package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// WritePID writes the current process id to the canonical PID file.
func WritePID() error {
	path, err := PIDPath()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// RemovePID removes the PID file, ignoring a not-exist error.
func RemovePID() error {
	path, err := PIDPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsRunning reports whether the daemon named by the canonical PID file is
// still alive. A missing or unparsable PID file means "not running".
func IsRunning() (bool, error) {
	path, err := PIDPath()
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually signaling the process.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false, nil
	}
	return true, nil
}

// RemoveStaleSocket removes the socket file at path if it exists. Called
// before bind so a crashed daemon doesn't block the next start.
func RemoveStaleSocket(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}
