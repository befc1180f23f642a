// Copyright (C) 2026 Paragraf AI (oss@paragraf.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import (
	"container/list"
	"sync"
	"time"
)

// predictionCache is a TTL-bounded LRU cache for model fallback verdicts.
// Rule classification is cheap enough to rerun every time; only model
// round trips are worth remembering.
//
// Thread Safety: Safe for concurrent use.
type predictionCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	ttl     time.Duration
	maxSize int
}

type cacheEntry struct {
	key        string
	prediction Prediction
	expiresAt  time.Time
}

func newPredictionCache(ttl time.Duration, maxSize int) *predictionCache {
	return &predictionCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// get returns a live cached prediction. Expired entries are removed lazily.
func (c *predictionCache) get(key string) (Prediction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.entries[key]
	if !exists {
		return Prediction{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.lru.Remove(elem)
		delete(c.entries, key)
		return Prediction{}, false
	}

	c.lru.MoveToFront(elem)
	return entry.prediction, true
}

// set stores a prediction, evicting the least recently used entry at
// capacity.
func (c *predictionCache) set(key string, p Prediction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.entries[key]; exists {
		entry := elem.Value.(*cacheEntry)
		entry.prediction = p
		entry.expiresAt = time.Now().Add(c.ttl)
		c.lru.MoveToFront(elem)
		return
	}

	if c.lru.Len() >= c.maxSize {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	elem := c.lru.PushFront(&cacheEntry{
		key:        key,
		prediction: p,
		expiresAt:  time.Now().Add(c.ttl),
	})
	c.entries[key] = elem
}

func (c *predictionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
