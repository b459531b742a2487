package lease

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned by Acquire when another holder kept the lease
// for the whole wait.
var ErrNotAcquired = errors.New("lease not acquired")

// retryInterval is the pause between acquisition attempts.
const retryInterval = 10 * time.Millisecond

// Record describes a held lease.
type Record struct {
	Key        string        `json:"key"`
	HolderID   string        `json:"holderId"`
	AcquiredAt time.Time     `json:"acquiredAt"`
	TTL        time.Duration `json:"ttl"`

	// token is the backend's representation of the record, used for
	// compare-and-delete on release.
	token string
}

// ExpiresAt is the instant after which the lease may be taken over.
func (r *Record) ExpiresAt() time.Time {
	return r.AcquiredAt.Add(r.TTL)
}

// Expired reports whether the lease has lapsed at now.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt())
}

// Locker is a mutual exclusion primitive shared by every context that uses
// the same credentials. A lease that is not released lapses after its TTL.
type Locker interface {
	// TryAcquire makes one attempt to take the lease for holderID.
	TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (*Record, bool, error)

	// Confirm reports whether rec is still held and unexpired.
	Confirm(ctx context.Context, rec *Record) (bool, error)

	// Release gives up rec. Releasing a lease that was lost is not an error.
	Release(ctx context.Context, rec *Record) error
}

// Acquire retries TryAcquire until it succeeds or wait elapses. A zero wait
// makes exactly one attempt.
func Acquire(ctx context.Context, l Locker, key, holderID string, ttl, wait time.Duration) (*Record, error) {
	deadline := time.Now().Add(wait)

	for {
		rec, ok, err := l.TryAcquire(ctx, key, holderID, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return rec, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNotAcquired
		}

		timer := time.NewTimer(min(retryInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
