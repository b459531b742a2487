package storage

import (
	"bytes"
	"context"
	"sync"

	"jwtauth/pkg/logging"
)

// watchBufferSize is the per-watcher event buffer. A watcher that falls
// further behind loses events.
const watchBufferSize = 64

// hub fans change events out to watchers and suppresses repeats of a key's
// last known value.
type hub struct {
	name string

	mu       sync.Mutex
	closed   bool
	watchers map[string]map[chan Event]struct{}
	last     map[string][]byte
}

func newHub(name string) *hub {
	return &hub{
		name:     name,
		watchers: make(map[string]map[chan Event]struct{}),
		last:     make(map[string][]byte),
	}
}

// subscribe registers a watcher for key. The channel is closed when ctx is
// done or the hub is closed.
func (h *hub) subscribe(ctx context.Context, key string) (<-chan Event, error) {
	ch := make(chan Event, watchBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if h.watchers[key] == nil {
		h.watchers[key] = make(map[chan Event]struct{})
	}
	h.watchers[key][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.unsubscribe(key, ch)
	}()

	return ch, nil
}

func (h *hub) unsubscribe(key string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.watchers[key]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(h.watchers, key)
	}
	close(ch)
}

// watchedKeys returns the keys that currently have watchers.
func (h *hub) watchedKeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := make([]string, 0, len(h.watchers))
	for key := range h.watchers {
		keys = append(keys, key)
	}
	return keys
}

// seed records the current value of key without notifying anyone.
func (h *hub) seed(key string, value []byte, present bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if present {
		h.last[key] = bytes.Clone(value)
	} else {
		delete(h.last, key)
	}
}

// publishPut notifies watchers of key unless value equals the last known one.
func (h *hub) publishPut(key string, value []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.last[key]; ok && bytes.Equal(prev, value) {
		return
	}
	h.last[key] = bytes.Clone(value)
	h.broadcastLocked(Event{Key: key, Type: EventPut, Value: bytes.Clone(value)})
}

// publishDelete notifies watchers of key unless it was already absent.
func (h *hub) publishDelete(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.last[key]; !ok {
		return
	}
	delete(h.last, key)
	h.broadcastLocked(Event{Key: key, Type: EventDelete})
}

func (h *hub) broadcastLocked(ev Event) {
	if h.closed {
		return
	}
	for ch := range h.watchers[ev.Key] {
		select {
		case ch <- ev:
		default:
			logging.Warn(h.name, "Watcher for %s is full, dropping %s event", ev.Key, ev.Type)
		}
	}
}

// close closes every watcher channel.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for key, set := range h.watchers {
		for ch := range set {
			close(ch)
		}
		delete(h.watchers, key)
	}
}
