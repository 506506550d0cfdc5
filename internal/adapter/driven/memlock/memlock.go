// Package memlock is the single-process Locker used when no Redis address is
// configured.
package memlock

import (
	"context"
	"sync"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Locker = (*Locker)(nil)

// Locker is a keyed try-lock. Leases expire after their ttl so a caller that
// never releases cannot wedge a key.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	seq    uint64
	now    func() time.Time
}

type lease struct {
	token   uint64
	expires time.Time
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{leases: make(map[string]lease), now: time.Now}
}

// Obtain acquires key for ttl or returns driven.ErrLockNotObtained.
func (l *Locker) Obtain(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expires) {
		return nil, driven.ErrLockNotObtained
	}

	l.seq++
	token := l.seq
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		// Only the holder of this lease may clear it.
		if held, ok := l.leases[key]; ok && held.token == token {
			delete(l.leases, key)
		}
	}, nil
}
