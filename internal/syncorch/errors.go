package syncorch

import "errors"

// ErrNotLoggedIn marks a sync attempt made before any successful login.
var ErrNotLoggedIn = errors.New("syncorch: not logged in")
