package rate

import "errors"

// ErrRateLimited is returned while a key has no tokens left.
var ErrRateLimited = errors.New("rate limited")
