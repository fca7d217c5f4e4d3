package protocol

import "errors"

// ErrProtocolParse marks a malformed wire frame. Callers should drop the
// connection rather than attempt to recover framing.
var ErrProtocolParse = errors.New("protocol: malformed frame")
