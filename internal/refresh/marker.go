package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jwtauth/internal/storage"
	"jwtauth/pkg/logging"
)

// Marker is written next to the credential while a context refreshes it, so
// that others can tell a refresh is underway.
type Marker struct {
	HolderID  string        `json:"holderId"`
	StartedAt time.Time     `json:"startedAt"`
	TTL       time.Duration `json:"ttl"`
}

// InFlight reports whether m describes a live refresh by someone other than
// holderID.
func (m *Marker) InFlight(now time.Time, holderID string) bool {
	if m == nil || m.HolderID == "" || m.HolderID == holderID {
		return false
	}
	return now.Before(m.StartedAt.Add(m.TTL))
}

// readMarker returns the current marker, nil if there is none. An
// undecodable marker is treated as absent.
func (c *Coordinator) readMarker(ctx context.Context) (*Marker, error) {
	data, err := c.medium.Get(ctx, c.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh marker: %w", err)
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		logging.Warn("Refresh", "Ignoring undecodable refresh marker: %v", err)
		return nil, nil
	}
	return &m, nil
}

func (c *Coordinator) writeMarker(ctx context.Context, m Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode refresh marker: %w", err)
	}
	if err := c.medium.Put(ctx, c.key, data); err != nil {
		return fmt.Errorf("failed to write refresh marker: %w", err)
	}
	return nil
}

// deleteMarker removes the marker if holderID still owns it. A marker
// written by a context that took over the lease is left alone.
func (c *Coordinator) deleteMarker(ctx context.Context, holderID string) error {
	m, err := c.readMarker(ctx)
	if err != nil {
		return err
	}
	if m == nil || m.HolderID != holderID {
		return nil
	}
	if err := c.medium.Delete(ctx, c.key); err != nil {
		return fmt.Errorf("failed to delete refresh marker: %w", err)
	}
	return nil
}
