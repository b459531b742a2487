package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"jwtauth/pkg/logging"
)

// DefaultPollInterval is the fallback polling interval when fsnotify is not
// available.
const DefaultPollInterval = 2 * time.Second

const tempFilePrefix = ".tmp-"

// File is a Medium backed by one file per key in a directory. Other
// processes using the same directory observe each other's writes through
// fsnotify, or through polling where fsnotify is unavailable.
type File struct {
	dir          string
	pollInterval time.Duration

	// writeMu serializes writes from this process.
	writeMu sync.Mutex

	hub *hub

	mu        sync.Mutex
	started   bool
	closed    bool
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// FileOption configures a File medium.
type FileOption func(*File)

// WithPollInterval sets the polling interval used when fsnotify is not
// available.
func WithPollInterval(d time.Duration) FileOption {
	return func(f *File) {
		f.pollInterval = d
	}
}

// NewFile creates a file medium rooted at dir, creating it with 0700
// permissions if needed.
func NewFile(dir string, opts ...FileOption) (*File, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}

	f := &File{
		dir:          dir,
		pollInterval: DefaultPollInterval,
		hub:          newHub("FileStorage"),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// Dir returns the storage directory.
func (f *File) Dir() string {
	return f.dir
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, key)
}

// Get returns the value stored under key, or ErrNotFound.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Put writes value atomically with 0600 permissions.
func (f *File) Put(_ context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	tmp, err := os.CreateTemp(f.dir, tempFilePrefix+key+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions on %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", key, err)
	}

	f.hub.publishPut(key, value)
	return nil
}

// Delete removes the file of key. Deleting a missing key is not an error.
func (f *File) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	f.hub.publishDelete(key)
	return nil
}

// Watch reports changes of key made by this or any other process.
func (f *File) Watch(ctx context.Context, key string) (<-chan Event, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := f.start(); err != nil {
		return nil, err
	}

	ch, err := f.hub.subscribe(ctx, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path(key))
	f.hub.seed(key, data, err == nil)
	return ch, nil
}

// start launches the directory watcher once.
func (f *File) start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if f.started {
		return nil
	}
	f.started = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("FileStorage", "fsnotify not available, falling back to polling: %v", err)
		go f.pollForChanges()
		return nil
	}

	if err := watcher.Add(f.dir); err != nil {
		logging.Warn("FileStorage", "Failed to watch directory %s, falling back to polling: %v", f.dir, err)
		watcher.Close()
		go f.pollForChanges()
		return nil
	}
	f.fsWatcher = watcher

	// Capture channels before releasing lock to avoid races with Close.
	go f.processEvents(watcher.Events, watcher.Errors)

	logging.Debug("FileStorage", "Started watching %s", f.dir)
	return nil
}

// processEvents handles fsnotify events.
func (f *File) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	defer close(f.doneCh)

	for {
		select {
		case <-f.stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			f.handleEvent(event)

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("FileStorage", err, "fsnotify error")
		}
	}
}

func (f *File) handleEvent(event fsnotify.Event) {
	key := filepath.Base(event.Name)
	if strings.HasPrefix(key, tempFilePrefix) || ValidateKey(key) != nil {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	logging.Debug("FileStorage", "Storage file changed: %s (%s)", key, event.Op)
	f.refresh(key)
}

// refresh reads key from disk and publishes the difference to watchers.
func (f *File) refresh(key string) {
	data, err := os.ReadFile(f.path(key))
	switch {
	case err == nil:
		f.hub.publishPut(key, data)
	case errors.Is(err, os.ErrNotExist):
		f.hub.publishDelete(key)
	default:
		logging.Warn("FileStorage", "Failed to read %s after change: %v", key, err)
	}
}

// pollForChanges implements fallback polling when fsnotify is not available.
func (f *File) pollForChanges() {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return

		case <-ticker.C:
			for _, key := range f.hub.watchedKeys() {
				f.refresh(key)
			}
		}
	}
}

// Close stops the watcher and closes every watcher channel.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	started := f.started
	close(f.stopCh)
	watcher := f.fsWatcher
	f.fsWatcher = nil
	f.mu.Unlock()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			logging.Warn("FileStorage", "Error closing fsnotify watcher: %v", err)
		}
	}
	if started {
		<-f.doneCh
	}

	f.hub.close()
	return nil
}
