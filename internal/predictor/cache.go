package predictor

import (
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/elys-network/ilpredictor/internal/types"
)

// cacheEntry is a computed prediction owned by a single predictor.
type cacheEntry struct {
	key       uint64
	request   types.PredictionRequest
	result    types.PredictionResult
	createdAt time.Time
}

// predictionCache is a bounded TTL cache keyed by a hash of the request.
// The stored request is compared on lookup so a hash collision is a miss.
type predictionCache struct {
	mu         sync.Mutex
	entries    map[uint64]cacheEntry
	ttl        time.Duration
	maxEntries int
}

func newPredictionCache(ttl time.Duration, maxEntries int) *predictionCache {
	return &predictionCache{
		entries:    make(map[uint64]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// cacheKey hashes the four request inputs.
func cacheKey(req types.PredictionRequest) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(req.CurrentPrice.String())
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(req.LowerBound.String())
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(req.UpperBound.String())
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(strconv.FormatInt(int64(req.TimeHorizon/time.Second), 10))
	return h.Sum64()
}

func (c *predictionCache) get(key uint64, req types.PredictionRequest, now time.Time) (types.PredictionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return types.PredictionResult{}, false
	}
	if now.Sub(entry.createdAt) >= c.ttl {
		delete(c.entries, key)
		return types.PredictionResult{}, false
	}
	if !entry.request.Equal(req) {
		return types.PredictionResult{}, false
	}
	return entry.result, true
}

func (c *predictionCache) put(key uint64, req types.PredictionRequest, result types.PredictionResult, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.pruneLocked(now)
		if len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = cacheEntry{key: key, request: req, result: result, createdAt: now}
}

func (c *predictionCache) pruneLocked(now time.Time) {
	for key, entry := range c.entries {
		if now.Sub(entry.createdAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
}

func (c *predictionCache) evictOldestLocked() {
	var (
		oldestKey uint64
		oldest    time.Time
		found     bool
	)
	for key, entry := range c.entries {
		if !found || entry.createdAt.Before(oldest) {
			oldestKey, oldest, found = key, entry.createdAt, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

func (c *predictionCache) setTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

func (c *predictionCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]cacheEntry)
}

func (c *predictionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
