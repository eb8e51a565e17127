package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/litetts/synthcore/internal/observability"
	"github.com/rs/zerolog"
)

// entry is one resident voice embedding. Metadata fields (lastAccessed,
// accessCount) are updated under the cache lock; the payload is immutable
// once loaded.
type entry struct {
	voiceID      string
	data         []byte
	meta         Metadata
	loadedAt     time.Time
	lastAccessed time.Time
	accessCount  int64
	bytes        int64
	pinned       bool
}

// Stats is a point-in-time snapshot of cache counters
type Stats struct {
	Entries       int     `json:"entries"`
	PinnedEntries int     `json:"pinned_entries"`
	Capacity      int     `json:"capacity"`
	TotalBytes    int64   `json:"total_bytes"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	HitRatio      float64 `json:"hit_ratio"`
}

// Cache is a bounded, thread-safe store of voice embeddings with LRU
// eviction over unpinned entries. Loads for the same voice are coalesced,
// and the structural lock is never held across a Loader call.
type Cache struct {
	loader   Loader
	capacity int
	logger   zerolog.Logger

	mu         sync.Mutex
	entries    map[string]*entry
	loading    map[string]chan struct{} // in-flight loads, closed on completion
	totalBytes int64
	hits       int64
	misses     int64
	evictions  int64
}

// NewCache creates a voice embedding cache with the given entry capacity
func NewCache(loader Loader, capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		loader:   loader,
		capacity: capacity,
		logger:   observability.ComponentLogger("voice_cache"),
		entries:  make(map[string]*entry),
		loading:  make(map[string]chan struct{}),
	}
}

// Get returns the embedding for a voice, loading it on a miss. Two
// concurrent Gets for the same absent voice trigger exactly one Load.
func (c *Cache) Get(ctx context.Context, voiceID string) ([]byte, error) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[voiceID]; ok {
			e.lastAccessed = time.Now()
			e.accessCount++
			c.hits++
			data := e.data
			c.mu.Unlock()
			observability.RecordCacheHit()
			return data, nil
		}

		if ch, ok := c.loading[voiceID]; ok {
			// Another caller is loading this voice; wait and retry
			c.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		ch := make(chan struct{})
		c.loading[voiceID] = ch
		c.misses++
		c.mu.Unlock()
		observability.RecordCacheMiss()

		return c.load(ctx, voiceID, ch, false)
	}
}

// Preload loads a voice eagerly and pins it so ordinary capacity pressure
// never evicts it. Preloading an already-resident voice just pins it.
func (c *Cache) Preload(ctx context.Context, voiceID string) error {
	for {
		c.mu.Lock()
		if e, ok := c.entries[voiceID]; ok {
			e.pinned = true
			c.mu.Unlock()
			return nil
		}

		if ch, ok := c.loading[voiceID]; ok {
			c.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		ch := make(chan struct{})
		c.loading[voiceID] = ch
		c.mu.Unlock()

		_, err := c.load(ctx, voiceID, ch, true)
		return err
	}
}

// load invokes the loader outside the lock and inserts the result. ch is
// this caller's in-flight marker and is always closed before returning.
func (c *Cache) load(ctx context.Context, voiceID string, ch chan struct{}, pinned bool) ([]byte, error) {
	data, meta, err := c.loader.Load(ctx, voiceID)

	c.mu.Lock()
	delete(c.loading, voiceID)

	if err != nil {
		c.mu.Unlock()
		close(ch)
		c.logger.Warn().Str("voice", voiceID).Err(err).Msg("voice load failed")
		return nil, fmt.Errorf("failed to load voice %q: %w", voiceID, err)
	}

	e := &entry{
		voiceID:      voiceID,
		data:         data,
		meta:         meta,
		loadedAt:     time.Now(),
		lastAccessed: time.Now(),
		accessCount:  1,
		bytes:        int64(len(data)),
		pinned:       pinned,
	}

	if err := c.insertLocked(e); err != nil {
		c.mu.Unlock()
		close(ch)
		return nil, err
	}

	entries, bytes := len(c.entries), c.totalBytes
	c.mu.Unlock()
	close(ch)

	observability.SetCacheOccupancy(entries, bytes)
	c.logger.Debug().
		Str("voice", voiceID).
		Int64("bytes", e.bytes).
		Bool("pinned", pinned).
		Msg("voice embedding loaded")

	return data, nil
}

// insertLocked adds an entry, evicting first when at capacity. When every
// resident entry is pinned the cache may grow to twice its capacity before
// refusing the insert; pinned entries are never evicted for capacity.
func (c *Cache) insertLocked(e *entry) error {
	for len(c.entries) >= c.capacity {
		if !c.evictOldestUnpinnedLocked() {
			// All pinned: grace window up to 2x capacity
			if len(c.entries) >= 2*c.capacity {
				return fmt.Errorf("cache full: %d pinned entries at grace limit", len(c.entries))
			}
			break
		}
	}

	c.entries[e.voiceID] = e
	c.totalBytes += e.bytes
	return nil
}

// evictOldestUnpinnedLocked removes the least-recently-accessed unpinned
// entry; returns false when none exists
func (c *Cache) evictOldestUnpinnedLocked() bool {
	var victim *entry
	for _, e := range c.entries {
		if e.pinned {
			continue
		}
		if victim == nil || e.lastAccessed.Before(victim.lastAccessed) {
			victim = e
		}
	}
	if victim == nil {
		return false
	}

	delete(c.entries, victim.voiceID)
	c.totalBytes -= victim.bytes
	c.evictions++
	observability.RecordCacheEviction()
	c.logger.Debug().Str("voice", victim.voiceID).Msg("voice embedding evicted")
	return true
}

// Invalidate removes an entry regardless of pin state. Returns true when an
// entry was removed.
func (c *Cache) Invalidate(voiceID string) bool {
	c.mu.Lock()
	e, ok := c.entries[voiceID]
	if ok {
		delete(c.entries, voiceID)
		c.totalBytes -= e.bytes
	}
	entries, bytes := len(c.entries), c.totalBytes
	c.mu.Unlock()

	if ok {
		observability.SetCacheOccupancy(entries, bytes)
	}
	return ok
}

// Contains reports whether a voice is resident without touching its
// last-accessed metadata
func (c *Cache) Contains(voiceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[voiceID]
	return ok
}

// GetStats returns a snapshot of the cache counters
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	pinned := 0
	for _, e := range c.entries {
		if e.pinned {
			pinned++
		}
	}

	s := Stats{
		Entries:       len(c.entries),
		PinnedEntries: pinned,
		Capacity:      c.capacity,
		TotalBytes:    c.totalBytes,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	return s
}
