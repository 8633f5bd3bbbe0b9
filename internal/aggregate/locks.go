package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/formworks/profile-cli/internal/resilience"
)

// DefaultLockTimeout bounds how long an ingest waits for an entity's write
// lock before giving up with a retryable error.
const DefaultLockTimeout = 10 * time.Second

// entityLocks serializes writers per entity while letting different
// entities proceed fully in parallel. Entries are reference-counted so the
// map does not grow with every entity ever seen.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*lockEntry)}
}

// acquire blocks until the entity's lock is held, the timeout elapses, or
// the context is canceled. A timeout is reported as transient: the caller
// should retry the whole ingestion call.
func (l *entityLocks) acquire(ctx context.Context, entityID string, timeout time.Duration) (release func(), err error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	l.mu.Lock()
	entry, ok := l.locks[entityID]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[entityID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	drop := func() {
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, entityID)
		}
		l.mu.Unlock()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
		return func() {
			<-entry.sem
			drop()
		}, nil
	case <-timer.C:
		drop()
		return nil, resilience.NewTransientError(
			eris.Errorf("aggregate: timed out acquiring write lock for entity %s after %s", entityID, timeout))
	case <-ctx.Done():
		drop()
		return nil, eris.Wrapf(ctx.Err(), "aggregate: acquiring write lock for entity %s", entityID)
	}
}
