package vault

import "errors"

// ErrRemoteAuth marks a non-2xx response from the identity or sync
// endpoints.
var ErrRemoteAuth = errors.New("vault: remote authentication error")
