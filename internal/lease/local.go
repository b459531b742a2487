package lease

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker. Coordinators that share one Local exclude
// each other; it offers nothing across processes.
type Local struct {
	mu     sync.Mutex
	leases map[string]*Record
	now    func() time.Time
}

// NewLocal creates an empty in-process locker.
func NewLocal() *Local {
	return &Local{
		leases: make(map[string]*Record),
		now:    time.Now,
	}
}

// TryAcquire takes the lease if it is free or has lapsed.
func (l *Local) TryAcquire(_ context.Context, key, holderID string, ttl time.Duration) (*Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && !cur.Expired(now) {
		return nil, false, nil
	}

	rec := &Record{Key: key, HolderID: holderID, AcquiredAt: now, TTL: ttl}
	l.leases[key] = rec
	cp := *rec
	return &cp, true, nil
}

// Confirm reports whether rec is still the current, unexpired holder.
func (l *Local) Confirm(_ context.Context, rec *Record) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.leases[rec.Key]
	return ok && cur.HolderID == rec.HolderID && !cur.Expired(l.now()), nil
}

// Release frees the lease if rec still holds it.
func (l *Local) Release(_ context.Context, rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.leases[rec.Key]; ok && cur.HolderID == rec.HolderID {
		delete(l.leases, rec.Key)
	}
	return nil
}
