package driven

import (
	"context"
	"time"
)

// EphemeralStore is a persisted key-value store whose entries expire. It
// backs cancellation tokens and OAuth state nonces so both survive restarts
// and work across replicas.
type EphemeralStore interface {
	// PutIfAbsent stores value under key for ttl. It returns false, without
	// overwriting, if an unexpired entry already exists.
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Take returns and deletes the value under key. ok is false when the key
	// is missing or expired.
	Take(ctx context.Context, key string) (value string, ok bool, err error)
}
