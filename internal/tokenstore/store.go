package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"jwtauth/internal/storage"
	"jwtauth/pkg/logging"
	"jwtauth/pkg/oauth"
)

// Listener is called with every change of the stored credential. A nil
// credential means it was cleared. Listeners run synchronously in write
// order and must not write to the Store.
type Listener func(*oauth.Credential)

// Store is the single authoritative credential cache of one context. It is
// persisted in a storage.Medium shared with every other context using the
// same credentials, and follows their changes.
type Store struct {
	medium storage.Medium
	key    string

	mu      sync.RWMutex
	current *oauth.Credential

	// writeMu serializes local writes with applied external changes, so
	// listeners observe changes in the order they were made.
	writeMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[uint64]Listener
	nextID      uint64

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Store persisting under key in medium. The current value is
// loaded before New returns, and changes made by other contexts are followed
// until Close. The medium stays owned by the caller.
func New(ctx context.Context, medium storage.Medium, key string) (*Store, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		medium:    medium,
		key:       key,
		listeners: make(map[uint64]Listener),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	// Watch before loading so no change between the two is lost.
	events, err := medium.Watch(watchCtx, key)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s: %w", key, err)
	}

	current, err := s.load(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	s.current = current

	if current != nil {
		logging.Debug("TokenStore", "Loaded credential for subject=%s (access expires: %s, refresh expires: %s)",
			current.Subject, current.AccessExpiry.Format(time.RFC3339), current.RefreshExpiry.Format(time.RFC3339))
	}

	go s.follow(events)
	return s, nil
}

// load reads the persisted credential. A missing or undecodable value is
// treated as no credential.
func (s *Store) load(ctx context.Context) (*oauth.Credential, error) {
	data, err := s.medium.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.key, err)
	}

	var c oauth.Credential
	if err := json.Unmarshal(data, &c); err != nil {
		logging.Warn("TokenStore", "Ignoring undecodable credential under %s: %v", s.key, err)
		return nil, nil
	}
	if c.AccessToken == "" {
		return nil, nil
	}
	return &c, nil
}

// Get returns a copy of the current credential, or nil when logged out.
func (s *Store) Get() *oauth.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// LoggedIn reports whether a credential is held.
func (s *Store) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// Set persists c and notifies listeners. Setting the value already held is a
// no-op. Setting nil is the same as Clear.
func (s *Store) Set(ctx context.Context, c *oauth.Credential) error {
	if c == nil || c.AccessToken == "" {
		return s.Clear(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.Get().Equal(c) {
		return nil
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := s.medium.Put(ctx, s.key, data); err != nil {
		logging.Warn("TokenStore", "SECURITY_AUDIT: credential storage failed for subject=%s: %v", c.Subject, err)
		return fmt.Errorf("failed to persist credential: %w", err)
	}

	logging.Info("TokenStore", "SECURITY_AUDIT: credential stored for subject=%s (access expires: %s, refresh expires: %s)",
		c.Subject, c.AccessExpiry.Format(time.RFC3339), c.RefreshExpiry.Format(time.RFC3339))

	s.apply(c.Clone())
	return nil
}

// Clear removes the credential from every context sharing the medium.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.medium.Delete(ctx, s.key); err != nil {
		logging.Warn("TokenStore", "SECURITY_AUDIT: credential deletion failed: %v", err)
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	if !s.LoggedIn() {
		return nil
	}
	logging.Info("TokenStore", "SECURITY_AUDIT: credential cleared")
	s.apply(nil)
	return nil
}

// apply replaces the current credential and notifies listeners. The caller
// holds writeMu.
func (s *Store) apply(c *oauth.Credential) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()

	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(c.Clone())
	}
}

// follow applies changes made by other contexts. Events only trigger a
// reload: the medium also reports this context's own writes, possibly late,
// so the latest persisted value is what counts.
func (s *Store) follow(events <-chan storage.Event) {
	defer close(s.done)

	for ev := range events {
		logging.Debug("TokenStore", "Observed %s of %s", ev.Type, ev.Key)
		s.reload()
	}
}

func (s *Store) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.Reload(ctx); err != nil {
		logging.Warn("TokenStore", "Failed to reload credential after change: %v", err)
	}
}

// Reload reads the credential from the medium, applies it when its access
// token differs from the cached one, and returns a copy of it. Unlike Get it
// does not depend on change events having arrived.
func (s *Store) Reload(ctx context.Context) (*oauth.Credential, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	latest, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if oauth.SameAccessToken(latest, s.Get()) {
		return latest, nil
	}

	if latest == nil {
		logging.Info("TokenStore", "Credential cleared by another context")
	} else {
		logging.Info("TokenStore", "Credential for subject=%s updated by another context (access expires: %s)",
			latest.Subject, latest.AccessExpiry.Format(time.RFC3339))
	}
	s.apply(latest)
	return latest.Clone(), nil
}

// Subscribe registers fn for every subsequent change and returns a function
// that unregisters it.
func (s *Store) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// Updates returns a channel that receives changes of the credential. A slow
// reader only sees the latest value. The returned function stops the updates
// and closes the channel.
func (s *Store) Updates() (<-chan *oauth.Credential, func()) {
	ch := make(chan *oauth.Credential, 1)
	var (
		mu     sync.Mutex
		closed bool
	)

	unsubscribe := s.Subscribe(func(c *oauth.Credential) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		for {
			select {
			case ch <- c:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})

	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}

// Close stops following other contexts. The medium is not closed.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
