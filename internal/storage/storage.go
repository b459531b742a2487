package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("key not found")

// ErrClosed is returned by operations on a closed Medium.
var ErrClosed = errors.New("medium closed")

// EventType distinguishes writes from deletions.
type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

// String makes EventType satisfy the fmt.Stringer interface.
func (t EventType) String() string {
	switch t {
	case EventPut:
		return "put"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event describes a change of a key's value.
type Event struct {
	Key   string
	Type  EventType
	Value []byte // nil for EventDelete
}

// Medium is a key-value store shared between every context that uses the
// same credentials, with change notification.
//
// Watch reports changes of value, whichever context made them, including
// the caller's own writes. Writing the value a key already holds produces no
// event. The returned channel is closed when ctx is done or the Medium is
// closed.
type Medium interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Watch(ctx context.Context, key string) (<-chan Event, error)
	Close() error
}

// validKey keeps keys usable as file names, Redis key suffixes and Secret
// data keys alike.
var validKey = regexp.MustCompile(`^[A-Za-z0-9][-._A-Za-z0-9]*$`)

// ValidateKey returns an error unless key can be stored by every Medium.
func ValidateKey(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}
