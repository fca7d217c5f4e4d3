// Package sealing owns the enclave-resident keypair and mediates every
// operation against it through a dedicated goroutine: the native sealing
// API is not safely concurrent and may block on user interaction, so all
// handles live on one goroutine and callers communicate only by
// command/response messages.
package sealing

import (
	"crypto/ecdh"
	"errors"
	"fmt"
	"runtime"
)

// ErrSealing wraps any failure the worker reports back to a caller: a
// failed keypair lookup, a failed encrypt/decrypt, or the analogue of a
// denied biometric prompt.
var ErrSealing = errors.New("sealing: worker error")

type commandKind int

const (
	cmdEnsureKeypair commandKind = iota
	cmdEncrypt
	cmdDecrypt
	cmdTerminate
)

type command struct {
	kind  commandKind
	data  []byte
	reply chan response
}

type response struct {
	data []byte
	err  error
}

// Worker is the single goroutine that owns the P-256 keypair. Construct it
// with NewWorker and call Run in its own goroutine; communicate only via
// the exported Facade.
type Worker struct {
	keypairPath string
	commands    chan command

	priv *ecdh.PrivateKey
	pub  *ecdh.PublicKey
}

// NewWorker creates a worker bound to the given keypair file. The keypair
// is not loaded until the first EnsureKeypair command.
func NewWorker(keypairPath string) *Worker {
	return &Worker{
		keypairPath: keypairPath,
		commands:    make(chan command),
	}
}

// Run processes commands until it receives Terminate or the command
// channel is closed. It owns the sole reference to the keypair's private
// handle; Terminate drops it before returning.
func (w *Worker) Run() {
	// A native keystore binding would not tolerate migrating between OS
	// threads mid-call, so the worker pins itself for its whole lifetime.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for cmd := range w.commands {
		switch cmd.kind {
		case cmdTerminate:
			w.priv = nil
			w.pub = nil
			cmd.reply <- response{}
			return

		case cmdEnsureKeypair:
			err := w.ensureKeypair()
			cmd.reply <- response{err: err}

		case cmdEncrypt:
			out, err := w.encrypt(cmd.data)
			cmd.reply <- response{data: out, err: err}

		case cmdDecrypt:
			out, err := w.decrypt(cmd.data)
			cmd.reply <- response{data: out, err: err}
		}
	}
}

func (w *Worker) ensureKeypair() error {
	if w.priv != nil {
		return nil
	}
	priv, err := loadOrCreateKeypair(w.keypairPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSealing, err)
	}
	w.priv = priv
	w.pub = priv.PublicKey()
	return nil
}

func (w *Worker) encrypt(data []byte) ([]byte, error) {
	if w.pub == nil {
		return nil, fmt.Errorf("%w: keypair not ensured", ErrSealing)
	}
	out, err := eciesEncrypt(w.pub, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealing, err)
	}
	return out, nil
}

func (w *Worker) decrypt(data []byte) ([]byte, error) {
	if w.priv == nil {
		return nil, fmt.Errorf("%w: keypair not ensured", ErrSealing)
	}
	out, err := eciesDecrypt(w.priv, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealing, err)
	}
	return out, nil
}
