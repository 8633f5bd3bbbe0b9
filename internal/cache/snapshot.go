// Package cache holds per-entity profile snapshots with a lazy TTL. There
// is no background sweeper: staleness is checked on read, and the
// aggregator invalidates an entity's snapshot after every successful ingest.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/formworks/profile-cli/internal/model"
)

// DefaultTTL is how long a snapshot stays fresh unless configured otherwise.
const DefaultTTL = 5 * time.Minute

// Clock supplies the current time; tests inject a fake.
type Clock func() time.Time

// LoadFunc rebuilds a profile from the authoritative source on a cache miss.
type LoadFunc func(ctx context.Context) (*model.Profile, error)

// Profiles caches one snapshot per entity. Only the load path and
// Invalidate mutate, so readers always observe a complete snapshot.
type Profiles struct {
	mu        sync.RWMutex
	snapshots map[string]model.CachedProfileSnapshot
	clock     Clock
}

// New creates a snapshot cache. A nil clock uses time.Now.
func New(clock Clock) *Profiles {
	if clock == nil {
		clock = time.Now
	}
	return &Profiles{
		snapshots: make(map[string]model.CachedProfileSnapshot),
		clock:     clock,
	}
}

// Valid reports whether the entity's snapshot exists and is within maxAge.
// The boundary is strict: a snapshot exactly maxAge old is still valid.
func (c *Profiles) Valid(entityID string, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[entityID]
	if !ok {
		return false
	}
	return c.clock().Sub(snap.FetchedAt) <= maxAge
}

// Get returns the entity's profile, reloading through load when the
// snapshot is missing or stale. The returned profile is a clone; callers
// may not mutate shared state through it.
func (c *Profiles) Get(ctx context.Context, entityID string, maxAge time.Duration, load LoadFunc) (*model.Profile, error) {
	c.mu.RLock()
	snap, ok := c.snapshots[entityID]
	fresh := ok && c.clock().Sub(snap.FetchedAt) <= maxAge
	c.mu.RUnlock()

	if fresh {
		return snap.Profile.Clone(), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if snap, ok := c.snapshots[entityID]; ok && c.clock().Sub(snap.FetchedAt) <= maxAge {
		return snap.Profile.Clone(), nil
	}

	profile, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = model.NewProfile(entityID)
	}

	c.snapshots[entityID] = model.CachedProfileSnapshot{
		Profile:   profile,
		FetchedAt: c.clock(),
	}
	zap.L().Debug("cache: snapshot refreshed",
		zap.String("entity_id", entityID),
		zap.Int("fields", len(profile.Fields)),
	)
	return profile.Clone(), nil
}

// Invalidate drops the entity's snapshot. The next read reloads.
func (c *Profiles) Invalidate(entityID string) {
	c.mu.Lock()
	delete(c.snapshots, entityID)
	c.mu.Unlock()
}

// FetchedAt returns when the entity's snapshot was taken, if present.
func (c *Profiles) FetchedAt(entityID string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[entityID]
	return snap.FetchedAt, ok
}
