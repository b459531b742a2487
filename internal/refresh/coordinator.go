package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"jwtauth/internal/lease"
	"jwtauth/internal/storage"
	"jwtauth/internal/tokenstore"
	"jwtauth/pkg/logging"
	"jwtauth/pkg/oauth"
)

const (
	DefaultLeaseTTL       = 10 * time.Second
	DefaultAcquireWait    = 100 * time.Millisecond
	DefaultRefreshTimeout = 30 * time.Second

	// cleanupTimeout bounds releasing the lease and marker after a cycle,
	// which runs even when the cycle itself timed out.
	cleanupTimeout = 5 * time.Second
)

// State is the coordination state of a Coordinator.
type State int32

const (
	// Idle means no refresh cycle is running in this context.
	Idle State = iota
	// RefreshInFlight means this context owns the lease and is calling the
	// refresh endpoint.
	RefreshInFlight
	// WaitingOnPeer means another context owns the refresh and this one
	// waits for its result.
	WaitingOnPeer
)

// String makes State satisfy the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case RefreshInFlight:
		return "RefreshInFlight"
	case WaitingOnPeer:
		return "WaitingOnPeer"
	default:
		return "Unknown"
	}
}

// Refresher exchanges a refresh token for a new credential. It is
// implemented by *oauth.Client.
type Refresher interface {
	Refresh(ctx context.Context, subject, refreshToken string) (*oauth.Credential, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLeaseTTL sets how long a refresh lease and marker stay valid, and so
// how long waiters wait for a peer before presuming it crashed.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.leaseTTL = ttl
		}
	}
}

// WithAcquireWait sets how long a cycle tries to take the lease before it
// waits on the holder instead.
func WithAcquireWait(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.acquireWait = d
		}
	}
}

// WithRefreshTimeout bounds a whole refresh cycle.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// WithClock sets the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// Coordinator makes sure that, however many callers in however many
// contexts find the access token expired at once, a single call reaches the
// refresh endpoint and every caller gets its result.
//
// Callers in this process join one in-flight cycle. Contexts sharing the
// medium exclude each other with a lease; the loser waits until the winner
// publishes the new credential through the store, or until the lease would
// have lapsed, in which case it competes again.
type Coordinator struct {
	store     *tokenstore.Store
	locker    lease.Locker
	medium    storage.Medium
	refresher Refresher
	key       string

	leaseTTL       time.Duration
	acquireWait    time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	group singleflight.Group
	state atomic.Int32
}

// New creates a Coordinator. key names both the lease and the marker kept
// in medium, conventionally "<namespace>-refreshing".
func New(store *tokenstore.Store, locker lease.Locker, medium storage.Medium, refresher Refresher, key string, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          store,
		locker:         locker,
		medium:         medium,
		refresher:      refresher,
		key:            key,
		leaseTTL:       DefaultLeaseTTL,
		acquireWait:    DefaultAcquireWait,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current coordination state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		logging.Debug("Refresh", "State %s -> %s", old, s)
	}
}

// Refresh obtains a new credential for the one currently stored.
//
// It fails with oauth.ErrLoggedOut when there is no credential, and with
// oauth.ErrRefreshTokenExpired, after clearing the credential, when the
// refresh token is dead. Other refresh failures also clear the credential
// and are returned as *oauth.TransientRefreshError.
//
// Concurrent callers receive the same *oauth.Credential, which must not be
// modified. Cancelling ctx abandons the caller's wait; the shared cycle
// continues for the others.
func (c *Coordinator) Refresh(ctx context.Context) (*oauth.Credential, error) {
	current := c.store.Get()
	if current == nil {
		return nil, oauth.ErrLoggedOut
	}
	if oauth.IsRefreshExpired(current, c.now()) {
		logging.Info("Refresh", "Refresh token for subject=%s expired at %s, logging out",
			current.Subject, current.RefreshExpiry.Format(time.RFC3339))
		if err := c.store.Clear(ctx); err != nil {
			logging.Error("Refresh", err, "Failed to clear credential")
		}
		return nil, oauth.ErrRefreshTokenExpired
	}

	ch := c.group.DoChan(c.key, func() (interface{}, error) {
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		defer c.setState(Idle)
		return c.cycle(cycleCtx, current)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth.Credential), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cycle runs one coordinated refresh of stale.
func (c *Coordinator) cycle(ctx context.Context, stale *oauth.Credential) (*oauth.Credential, error) {
	holderID := uuid.NewString()

	for {
		rec, err := lease.Acquire(ctx, c.locker, c.key, holderID, c.leaseTTL, c.acquireWait)
		switch {
		case errors.Is(err, lease.ErrNotAcquired):
			logging.Debug("Refresh", "Lease %s held by another context", c.key)
		case err != nil:
			return nil, fmt.Errorf("failed to acquire refresh lease: %w", err)
		default:
			cred, owned, err := c.refreshAsOwner(ctx, rec, stale)
			if owned {
				return cred, err
			}
		}

		cred, done, err := c.waitForPeer(ctx, stale)
		if done {
			return cred, err
		}
		logging.Info("Refresh", "No refresh result within %s, presuming the holder crashed", c.leaseTTL)
	}
}

// refreshAsOwner refreshes while holding rec. owned is false when it turns
// out another context is refreshing after all.
func (c *Coordinator) refreshAsOwner(ctx context.Context, rec *lease.Record, stale *oauth.Credential) (cred *oauth.Credential, owned bool, err error) {
	defer c.cleanup(ctx, func(ctx context.Context) error { return c.locker.Release(ctx, rec) })

	marker, err := c.readMarker(ctx)
	if err != nil {
		return nil, true, err
	}
	if marker.InFlight(c.now(), rec.HolderID) {
		logging.Debug("Refresh", "Refresh by %s in flight since %s", marker.HolderID, marker.StartedAt.Format(time.RFC3339))
		return nil, false, nil
	}

	// Read through the medium; the cache may lag behind a peer's refresh.
	latest, err := c.store.Reload(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read credential: %w", err)
	}
	if latest == nil {
		return nil, true, oauth.ErrLoggedOut
	}
	now := c.now()
	if !oauth.SameAccessToken(latest, stale) && !oauth.IsAccessExpired(latest, now) {
		logging.Debug("Refresh", "Credential already refreshed by another context")
		return latest, true, nil
	}
	if oauth.IsRefreshExpired(latest, now) {
		return nil, true, c.terminate(ctx, oauth.ErrRefreshTokenExpired)
	}

	if err := c.writeMarker(ctx, Marker{HolderID: rec.HolderID, StartedAt: now, TTL: c.leaseTTL}); err != nil {
		return nil, true, err
	}
	defer c.cleanup(ctx, func(ctx context.Context) error { return c.deleteMarker(ctx, rec.HolderID) })

	confirmed, err := c.locker.Confirm(ctx, rec)
	if err != nil {
		return nil, true, fmt.Errorf("failed to confirm refresh lease: %w", err)
	}
	if !confirmed {
		logging.Warn("Refresh", "Lost lease %s before refreshing", c.key)
		return nil, false, nil
	}

	c.setState(RefreshInFlight)
	logging.Info("Refresh", "Refreshing credential for subject=%s", latest.Subject)

	fresh, err := c.refresher.Refresh(ctx, latest.Subject, latest.RefreshToken)
	if err != nil {
		if errors.Is(err, oauth.ErrRefreshTokenExpired) {
			return nil, true, c.terminate(ctx, oauth.ErrRefreshTokenExpired)
		}
		var backendErr *oauth.BackendError
		if errors.As(err, &backendErr) {
			return nil, true, c.terminate(ctx, &oauth.TransientRefreshError{Err: backendErr})
		}
		return nil, true, c.terminate(ctx, &oauth.TransientRefreshError{Err: err})
	}

	if err := c.store.Set(ctx, fresh); err != nil {
		return nil, true, fmt.Errorf("failed to store refreshed credential: %w", err)
	}
	logging.Info("Refresh", "Refreshed credential for subject=%s (access expires: %s)",
		fresh.Subject, fresh.AccessExpiry.Format(time.RFC3339))
	return fresh, true, nil
}

// terminate clears the credential after a failed refresh and returns err.
func (c *Coordinator) terminate(ctx context.Context, err error) error {
	logging.Warn("Refresh", "Refresh failed, logging out: %v", err)
	c.cleanup(ctx, c.store.Clear)
	return err
}

// cleanup runs fn with a context that survives the end of the cycle.
func (c *Coordinator) cleanup(ctx context.Context, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logging.Warn("Refresh", "Cleanup after refresh failed: %v", err)
	}
}

// waitForPeer waits for another context to publish a credential replacing
// stale. done is false when nothing arrived within the lease TTL.
func (c *Coordinator) waitForPeer(ctx context.Context, stale *oauth.Credential) (cred *oauth.Credential, done bool, err error) {
	c.setState(WaitingOnPeer)

	updates, stop := c.store.Updates()
	defer stop()

	usable := func(cred *oauth.Credential) bool {
		return !oauth.SameAccessToken(cred, stale) && !oauth.IsAccessExpired(cred, c.now())
	}

	current, err := c.store.Reload(ctx)
	if err != nil {
		logging.Warn("Refresh", "Failed to read credential, using cached value: %v", err)
		current = c.store.Get()
	}
	if current == nil {
		return nil, true, oauth.ErrLoggedOut
	}
	if usable(current) {
		return current, true, nil
	}

	timer := time.NewTimer(c.leaseTTL)
	defer timer.Stop()

	for {
		select {
		case cred := <-updates:
			if cred == nil {
				return nil, true, oauth.ErrLoggedOut
			}
			if usable(cred) {
				logging.Debug("Refresh", "Received credential refreshed by another context")
				return cred, true, nil
			}
		case <-timer.C:
			return nil, false, nil
		case <-ctx.Done():
			return nil, true, fmt.Errorf("waiting for refresh by another context: %w", ctx.Err())
		}
	}
}
