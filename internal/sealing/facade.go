package sealing

import (
	"fmt"
	"sync"

	"github.com/teidesu/bw-ssh-agent/internal/secret"
)

// Facade is the client-side handle to a running Worker. It serializes calls
// with an internal lock so only one command is outstanding at a time,
// matching the single-threaded worker.
type Facade struct {
	mu       sync.Mutex
	commands chan command
}

// Start launches a Worker goroutine bound to keypairPath and returns a
// Facade for it.
func Start(keypairPath string) *Facade {
	w := NewWorker(keypairPath)
	go w.Run()
	return &Facade{commands: w.commands}
}

// EnsureKeypair looks up the persistent keypair, generating one if absent.
func (f *Facade) EnsureKeypair() error {
	resp := f.send(command{kind: cmdEnsureKeypair})
	return resp.err
}

// Encrypt seals data under the enclave public key.
func (f *Facade) Encrypt(data []byte) ([]byte, error) {
	resp := f.send(command{kind: cmdEncrypt, data: data})
	return resp.data, resp.err
}

// Decrypt unseals data with the enclave private key. The returned secret
// must be zeroized by the caller once consumed.
func (f *Facade) Decrypt(data []byte) (secret.Bytes, error) {
	resp := f.send(command{kind: cmdDecrypt, data: data})
	if resp.err != nil {
		return nil, resp.err
	}
	return secret.Bytes(resp.data), nil
}

// Terminate sends Terminate and waits for the worker to drop its key
// handles and exit its loop.
func (f *Facade) Terminate() {
	f.send(command{kind: cmdTerminate})
}

func (f *Facade) send(cmd command) response {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd.reply = make(chan response, 1)
	f.commands <- cmd
	resp, ok := <-cmd.reply
	if !ok {
		return response{err: fmt.Errorf("%w: worker channel closed", ErrSealing)}
	}
	return resp
}
