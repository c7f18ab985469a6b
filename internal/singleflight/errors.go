package singleflight

import "errors"

// ErrInProgress is returned by TryDo when another call with the same key
// is already in progress.
var ErrInProgress = errors.New("singleflight: call already in progress")

// ErrAbandoned is delivered to waiters when the owning function panicked
// before producing a result.
var ErrAbandoned = errors.New("singleflight: owner abandoned call")
