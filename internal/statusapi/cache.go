// Package statusapi serves the latest published status document over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bissquit/status-aggregator/internal/domain"
	"github.com/patrickmn/go-cache"
)

// CacheSinkName identifies the cache among publish sinks.
const CacheSinkName = "cache"

type snapshot struct {
	raw []byte
	doc domain.StatusDocument
}

// Cache keeps published documents in memory for the read API.
// It implements publish.Sink.
type Cache struct {
	items *cache.Cache
}

// NewCache creates a cache whose entries expire after ttl.
// A non-positive ttl keeps entries until they are replaced.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		return &Cache{items: cache.New(cache.NoExpiration, 0)}
	}
	return &Cache{items: cache.New(ttl, 2*ttl)}
}

// Name returns the sink name.
func (c *Cache) Name() string { return CacheSinkName }

// SaveBlob decodes and stores a document under name.
func (c *Cache) SaveBlob(_ context.Context, name string, data []byte) error {
	var doc domain.StatusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode status document: %w", err)
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	c.items.Set(name, snapshot{raw: raw, doc: doc}, cache.DefaultExpiration)
	return nil
}

// Document returns the decoded document stored under name.
func (c *Cache) Document(name string) (domain.StatusDocument, bool) {
	s, ok := c.get(name)
	return s.doc, ok
}

// Raw returns the document bytes exactly as published.
func (c *Cache) Raw(name string) ([]byte, bool) {
	s, ok := c.get(name)
	return s.raw, ok
}

func (c *Cache) get(name string) (snapshot, bool) {
	v, ok := c.items.Get(name)
	if !ok {
		return snapshot{}, false
	}
	s, ok := v.(snapshot)
	return s, ok
}
