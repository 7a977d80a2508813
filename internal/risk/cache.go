package risk

import (
	"sync"
	"time"
)

type cacheEntry struct {
	assessment *RiskAssessment
	createdAt  time.Time
}

// assessmentCache is a bounded, mutex-guarded cache keyed by the
// content+user+time-window hash, with a secondary index by assessment ID.
// Eviction removes the oldest-created entry first.
type assessmentCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*cacheEntry
	byID    map[string]string // assessment ID -> cache key
}

func newAssessmentCache(maxSize int) *assessmentCache {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &assessmentCache{
		maxSize: maxSize,
		entries: make(map[string]*cacheEntry),
		byID:    make(map[string]string),
	}
}

func (c *assessmentCache) get(key string) *RiskAssessment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		return entry.assessment
	}
	return nil
}

func (c *assessmentCache) getByID(id string) *RiskAssessment {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.byID[id]
	if !ok {
		return nil
	}
	if entry, ok := c.entries[key]; ok {
		return entry.assessment
	}
	return nil
}

func (c *assessmentCache) put(key string, a *RiskAssessment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry{assessment: a, createdAt: time.Now()}
	c.byID[a.ID] = key
}

func (c *assessmentCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.createdAt
		}
	}
	if oldestKey != "" {
		entry := c.entries[oldestKey]
		delete(c.byID, entry.assessment.ID)
		delete(c.entries, oldestKey)
	}
}

func (c *assessmentCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
