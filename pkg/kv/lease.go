package kv

import (
	"context"
	"fmt"
	"time"
)

// Lease is a named, expiring lock held by one owner at a time.
type Lease struct {
	store Store
	key   string
	owner []byte
	ttl   time.Duration
}

// NewLease creates a lease on key for owner. The lease expires ttl after
// it was last acquired or renewed.
func NewLease(store Store, key, owner string, ttl time.Duration) *Lease {
	return &Lease{store: store, key: key, owner: []byte(owner), ttl: ttl}
}

// Acquire takes the lease, or renews it when this owner already holds it.
// Returns false if another owner holds it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.store.SetNX(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", l.key, err)
	}
	if ok {
		return true, nil
	}
	ok, err = l.store.CompareAndExpire(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("renewing lease %s: %w", l.key, err)
	}
	return ok, nil
}

// Release gives the lease up if this owner holds it.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("releasing lease %s: %w", l.key, err)
	}
	return nil
}
