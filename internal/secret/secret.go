// Package secret provides a thin zeroizing wrapper for key material that
// must not outlive the operation it was decrypted for: master keys,
// expanded keys, intermediate keys and decrypted private keys.
package secret

// Bytes holds sensitive data that the caller must Zero when done. It is a
// plain byte slice with a name that makes "this needs zeroizing" visible
// at call sites; Go has no destructors, so callers are responsible for
// calling Zero (typically via defer) rather than letting the value escape
// into a long-lived container.
type Bytes []byte

// Zero overwrites b in place with zero bytes.
func (b Bytes) Zero() {
	for i := range b {
		b[i] = 0
	}
}
