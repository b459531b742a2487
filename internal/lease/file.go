package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"jwtauth/pkg/logging"
)

const lockSuffix = ".lock"

// File is a Locker for processes sharing a directory. A lease is a lock file
// holding the JSON encoded Record; creating it fails while it exists.
type File struct {
	dir string
	now func() time.Time
}

// NewFile creates a file locker in dir, creating it with 0700 permissions.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create lease directory %s: %w", dir, err)
	}
	return &File{dir: dir, now: time.Now}, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, key+lockSuffix)
}

// TryAcquire creates the lock file. A lapsed lock file left by a crashed
// holder is broken first.
func (f *File) TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (*Record, bool, error) {
	rec := &Record{Key: key, HolderID: holderID, AcquiredAt: f.now(), TTL: ttl}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode lease: %w", err)
	}

	ok, err := f.create(key, data)
	if err != nil {
		return nil, false, err
	}
	if ok {
		rec.token = string(data)
		return rec, true, nil
	}

	cur, err := f.read(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Released between our attempt and the read; next attempt wins.
			return nil, false, nil
		}
		return nil, false, err
	}
	if cur != nil && !cur.Expired(f.now()) {
		return nil, false, nil
	}

	if !f.breakStale(key, cur) {
		return nil, false, nil
	}

	ok, err = f.create(key, data)
	if !ok || err != nil {
		return nil, false, err
	}
	rec.token = string(data)
	return rec, true, nil
}

// create publishes the lock file with its full content in one step: the
// record is written to a temp file that is then hard linked into place,
// which fails if the lock already exists.
func (f *File) create(key string, data []byte) (bool, error) {
	tmp, err := os.CreateTemp(f.dir, ".lease-"+key+"-*")
	if err != nil {
		return false, fmt.Errorf("failed to create lock file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to write lock file for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("failed to close lock file for %s: %w", key, err)
	}

	if err := os.Link(tmpName, f.path(key)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock file for %s: %w", key, err)
	}
	return true, nil
}

// read returns the current lock record. An unreadable record counts as
// stale (nil, nil).
func (f *File) read(key string) (*Record, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		logging.Warn("FileLease", "Ignoring unreadable lock file for %s: %v", key, err)
		return nil, nil
	}
	rec.token = string(data)
	return &rec, nil
}

// breakStale moves the stale lock aside. Only one contender can rename a
// given file; if what was moved is not the stale record we inspected, it is
// put back.
func (f *File) breakStale(key string, stale *Record) bool {
	aside := f.path(key) + ".stale-" + uuid.NewString()
	if err := os.Rename(f.path(key), aside); err != nil {
		return false
	}
	defer os.Remove(aside)

	data, err := os.ReadFile(aside)
	if err == nil && (stale == nil || string(data) == stale.token) {
		logging.Info("FileLease", "Broke expired lease %s", key)
		return true
	}

	// Someone else broke it and acquired a fresh lease in between.
	if err := os.Link(aside, f.path(key)); err != nil {
		logging.Warn("FileLease", "Failed to restore lease %s: %v", key, err)
	}
	return false
}

// Confirm reports whether the lock file still holds rec and has not lapsed.
func (f *File) Confirm(_ context.Context, rec *Record) (bool, error) {
	cur, err := f.read(rec.Key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return cur != nil && cur.HolderID == rec.HolderID && !cur.Expired(f.now()), nil
}

// Release removes the lock file if rec still holds it.
func (f *File) Release(_ context.Context, rec *Record) error {
	cur, err := f.read(rec.Key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if cur == nil || cur.HolderID != rec.HolderID {
		return nil
	}
	if err := os.Remove(f.path(rec.Key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lease %s: %w", rec.Key, err)
	}
	return nil
}
