package signing

import "errors"

// ErrUnsupportedAlgorithm marks an RSA sign request whose flags select
// SHA-1 (i.e. neither SHA2_256 nor SHA2_512 bit is set), which this agent
// refuses.
var ErrUnsupportedAlgorithm = errors.New("signing: SHA-1 requested, unsupported")
