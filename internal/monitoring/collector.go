// Package monitoring keeps in-process counters for the consolidation core,
// served by the /stats endpoint.
package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSnapshot holds a point-in-time view of system activity.
type MetricsSnapshot struct {
	DocumentsIngested   int64 `json:"documents_ingested"`
	RecordsAccepted     int64 `json:"records_accepted"`
	RecordsDropped      int64 `json:"records_dropped"`
	ConflictsOpen       int64 `json:"conflicts_open"`
	LowConfidenceOpen   int64 `json:"low_confidence_open"`
	ResolutionsApplied  int64 `json:"resolutions_applied"`
	SuggestionQueries   int64 `json:"suggestion_queries"`
	CacheHits           int64 `json:"cache_hits"`
	CacheMisses         int64 `json:"cache_misses"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector accumulates counters across all entities. All methods are safe
// for concurrent use and safe on a nil receiver, so instrumentation points
// never need nil checks.
type Collector struct {
	documentsIngested  atomic.Int64
	recordsAccepted    atomic.Int64
	recordsDropped     atomic.Int64
	resolutionsApplied atomic.Int64
	suggestionQueries  atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64

	mu                sync.Mutex
	conflictsOpen     map[string]int
	lowConfidenceOpen map[string]int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		conflictsOpen:     make(map[string]int),
		lowConfidenceOpen: make(map[string]int),
	}
}

// DocumentIngested records one processed document with its accepted and
// dropped record counts.
func (c *Collector) DocumentIngested(accepted, dropped int) {
	if c == nil {
		return
	}
	c.documentsIngested.Add(1)
	c.recordsAccepted.Add(int64(accepted))
	c.recordsDropped.Add(int64(dropped))
}

// SetOpenItems records the current open review items for an entity.
func (c *Collector) SetOpenItems(entityID string, conflicts, lowConfidence int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.conflictsOpen[entityID] = conflicts
	c.lowConfidenceOpen[entityID] = lowConfidence
	c.mu.Unlock()
}

// ResolutionApplied records one human resolution.
func (c *Collector) ResolutionApplied() {
	if c == nil {
		return
	}
	c.resolutionsApplied.Add(1)
}

// SuggestionQuery records one suggestion request and whether it was served
// from a fresh snapshot.
func (c *Collector) SuggestionQuery(cacheHit bool) {
	if c == nil {
		return
	}
	c.suggestionQueries.Add(1)
	if cacheHit {
		c.cacheHits.Add(1)
	} else {
		c.cacheMisses.Add(1)
	}
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{CollectedAt: time.Now().UTC()}
	}
	snap := MetricsSnapshot{
		DocumentsIngested:  c.documentsIngested.Load(),
		RecordsAccepted:    c.recordsAccepted.Load(),
		RecordsDropped:     c.recordsDropped.Load(),
		ResolutionsApplied: c.resolutionsApplied.Load(),
		SuggestionQueries:  c.suggestionQueries.Load(),
		CacheHits:          c.cacheHits.Load(),
		CacheMisses:        c.cacheMisses.Load(),
		CollectedAt:        time.Now().UTC(),
	}
	c.mu.Lock()
	for _, n := range c.conflictsOpen {
		snap.ConflictsOpen += int64(n)
	}
	for _, n := range c.lowConfidenceOpen {
		snap.LowConfidenceOpen += int64(n)
	}
	c.mu.Unlock()
	return snap
}
