package reconcile

import (
	"sync"

	"poolwatch/pkg/events"
)

// modelKey identifies the content a worker pool model was derived from.
// Histories are append-only, so the length plus the last timestamp is enough.
type modelKey struct {
	count  int
	lastTS int64
}

type cachedModel struct {
	key   modelKey
	model WorkerPoolModelWithHistory
}

// ModelCache memoizes derived models. It is an optimization only: a miss
// always re-derives from the full history.
type ModelCache struct {
	mu       sync.Mutex
	models   map[string]cachedModel
	relCount int
	rel      DataSetPools

	hits, misses uint64
}

// NewModelCache creates an empty cache
func NewModelCache() *ModelCache {
	return &ModelCache{models: make(map[string]cachedModel)}
}

// WorkerPoolModel returns the model for label, deriving it when history changed
func (c *ModelCache) WorkerPoolModel(label string, history []events.QueueEvent) WorkerPoolModelWithHistory {
	key := modelKey{count: len(history)}
	if n := len(history); n > 0 {
		key.lastTS = history[n-1].Timestamp
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.models[label]; ok && cached.key == key {
		c.hits++
		return cached.model.Clone()
	}
	c.misses++
	model := DeriveWorkerPoolModel(label, history)
	c.models[label] = cachedModel{key: key, model: model}
	return model.Clone()
}

// Relationship returns the dataset to pool relationship of the given pool events
func (c *ModelCache) Relationship(poolEvents func() []events.WorkerPoolStatusEvent, total int) DataSetPools {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rel != nil && c.relCount == total {
		c.hits++
		return c.rel
	}
	c.misses++
	c.rel = DeriveDatasetPoolRelationship(poolEvents())
	c.relCount = total
	return c.rel
}

// Stats reports cache hits and misses
func (c *ModelCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
