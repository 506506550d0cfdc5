package driven

import (
	"context"
	"errors"
	"time"
)

// ErrLockNotObtained is returned by Locker.Obtain when the key is held elsewhere.
var ErrLockNotObtained = errors.New("lock not obtained")

// Locker provides mutual exclusion keyed by string.
type Locker interface {
	// Obtain acquires key for at most ttl. The returned release func must be
	// called when the caller is done.
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
