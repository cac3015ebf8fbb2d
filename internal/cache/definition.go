// Package cache implements the Cache Layer (§4.K): an in-process
// expirable LRU in front of the Definition Registry's Fields lookup, and a
// two-tier (LRU + optional Redis) positive-result cache in front of the
// `authenticate` transform's bcrypt compare.
package cache

import (
	"context"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/r3data-core/rdatacore/internal/definition"
)

// FieldsLoader is the registry surface DefinitionCache falls back to on a
// miss. Implemented by *definition.Registry.
type FieldsLoader interface {
	Fields(ctx context.Context, entityType string) ([]definition.FieldDefinition, error)
}

// DefinitionCache is the L1 tier: an expirable LRU keyed by entity type name
// with ttl 0 (never expire), since FieldDefinitions only ever change
// through a registry mutation, and every one of those calls Invalidate
// before it returns (§9 "Global state": the registry never observes a
// definition through a cache it just mutated). Bind must be called once,
// after the Registry it fronts exists, closing the load -> cache ->
// invalidate cycle.
type DefinitionCache struct {
	inner *expirable.LRU[string, []definition.FieldDefinition]

	loaderMu sync.Mutex
	loader   FieldsLoader
}

// NewDefinitionCache builds a DefinitionCache holding at most size entity
// types' field lists at once, never expiring an entry by age alone.
func NewDefinitionCache(size int) *DefinitionCache {
	return &DefinitionCache{
		inner: expirable.NewLRU[string, []definition.FieldDefinition](size, nil, 0),
	}
}

// Bind attaches the registry this cache fronts. Must be called before the
// cache serves any Fields call.
func (c *DefinitionCache) Bind(loader FieldsLoader) {
	c.loaderMu.Lock()
	defer c.loaderMu.Unlock()

	c.loader = loader
}

// Fields implements entity.DefinitionLookup, serving from the LRU on a hit
// and falling through to the bound registry on a miss.
func (c *DefinitionCache) Fields(ctx context.Context, entityType string) ([]definition.FieldDefinition, error) {
	if fields, ok := c.inner.Get(entityType); ok {
		return fields, nil
	}

	c.loaderMu.Lock()
	loader := c.loader
	c.loaderMu.Unlock()

	fields, err := loader.Fields(ctx, entityType)
	if err != nil {
		return nil, err
	}

	c.inner.Add(entityType, fields)

	return fields, nil
}

// Invalidate implements definition.Invalidator. The registry calls this
// with the mutated definition's name after every update and delete,
// per §4.K "cache invalidation strategy: explicit, on every mutation".
func (c *DefinitionCache) Invalidate(key string) {
	c.inner.Remove(key)
}

// InvalidateAll purges every cached entry. The Maintenance Worker calls this
// on every tick (§4.J "cache invalidation") as a safety net against a
// missed synchronous Invalidate — e.g. a registry mutation that committed
// its transaction but crashed before calling back into the cache.
func (c *DefinitionCache) InvalidateAll() {
	c.inner.Purge()
}
