// Package redis implements the ephemeral store and the distributed exchange
// lock on Redis, for deployments running more than one marketpay replica.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.EphemeralStore = (*EphemeralStore)(nil)
	_ driven.Locker         = (*Locker)(nil)
)

// keyPrefix namespaces every key this service writes.
const keyPrefix = "marketpay:"

// Connect opens a client to addr and verifies it with a PING.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// EphemeralStore keeps expiring entries as plain Redis keys with a TTL.
type EphemeralStore struct {
	rdb *goredis.Client
}

// NewEphemeralStore creates an EphemeralStore on rdb.
func NewEphemeralStore(rdb *goredis.Client) *EphemeralStore {
	return &EphemeralStore{rdb: rdb}
}

// PutIfAbsent stores value with SET NX so an existing entry is never replaced.
func (s *EphemeralStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyPrefix+key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Take reads and deletes the entry atomically with GETDEL.
func (s *EphemeralStore) Take(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.GetDel(ctx, keyPrefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis getdel: %w", err)
	}
	return val, true, nil
}

// Locker hands out redislock leases. Obtain never retries: a held key means
// another replica is mid-exchange for that vendor.
type Locker struct {
	client *redislock.Client
	logger *slog.Logger
}

// NewLocker creates a Locker on rdb.
func NewLocker(rdb *goredis.Client, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{client: redislock.New(rdb), logger: logger}
}

// Obtain acquires key for ttl.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lock, err := l.client.Obtain(ctx, keyPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, driven.ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func() {
		// The caller's context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("release lock", "key", key, "error", err)
		}
	}, nil
}
