package template

import (
	"fmt"
	"sync"

	"github.com/wisbric/scriptrt/pkg/tenant"
)

// maxMultiDepth bounds recursion through nested Multi updates (spec §4.3).
const maxMultiDepth = 16

// UpdateCause tags why a tenant bucket last changed, observed by the cache
// consumer (the dispatcher) to decide whether to re-create isolates.
type UpdateCause string

const (
	CauseNone             UpdateCause = "None"
	CauseRemovedExisting  UpdateCause = "RemovedExisting"
	CauseUpsertedExisting UpdateCause = "UpsertedExisting"
	CauseUpsertedNew      UpdateCause = "UpsertedNew"
	CauseFullSync         UpdateCause = "FullSync"
	CauseManual           UpdateCause = "Manual"
)

// bucket holds one tenant's ordered template list plus the cause of its
// most recent mutation. The Templates slice is never mutated in place;
// every update replaces it with a new slice.
type bucket struct {
	templates []*Template
	cause     UpdateCause
}

// Cache is a per-worker read-through view over the template store. It is
// mutated only by applying Update values (spec §4.3); the single source of
// truth lives in the database.
type Cache struct {
	mu      sync.RWMutex
	buckets map[tenant.ID]*bucket
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{buckets: make(map[tenant.ID]*bucket)}
}

// Get returns the tenant's current template list and whether it has an
// entry at all. The returned slice must not be mutated by the caller.
func (c *Cache) Get(t tenant.ID) ([]*Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.buckets[t]
	if !ok {
		return nil, false
	}
	return b.templates, true
}

// Tenants returns every tenant the cache currently holds a bucket for.
func (c *Cache) Tenants() []tenant.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]tenant.ID, 0, len(c.buckets))
	for t := range c.buckets {
		out = append(out, t)
	}
	return out
}

// Cause returns the last update cause recorded for a tenant, or CauseNone
// if the tenant has no bucket.
func (c *Cache) Cause(t tenant.ID) UpdateCause {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.buckets[t]
	if !ok {
		return CauseNone
	}
	return b.cause
}

// Update is a single cache mutation message.
type Update interface {
	apply(c *Cache, depth int) error
}

// Flush clears every tenant's bucket.
type Flush struct{}

func (Flush) apply(c *Cache, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets = make(map[tenant.ID]*bucket)
	return nil
}

// FullSyncOwner replaces a tenant's templates atomically. An empty list
// removes the tenant's bucket entirely.
type FullSyncOwner struct {
	Tenant    tenant.ID
	Templates []*Template
}

func (u FullSyncOwner) apply(c *Cache, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(u.Templates) == 0 {
		delete(c.buckets, u.Tenant)
		return nil
	}
	c.buckets[u.Tenant] = &bucket{templates: u.Templates, cause: CauseFullSync}
	return nil
}

// Upsert inserts or replaces a template by name within its tenant, creating
// the tenant's bucket if it does not yet exist.
type Upsert struct {
	Tenant   tenant.ID
	Template *Template
}

func (u Upsert) apply(c *Cache, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[u.Tenant]
	if !ok {
		c.buckets[u.Tenant] = &bucket{
			templates: []*Template{u.Template},
			cause:     CauseUpsertedNew,
		}
		return nil
	}

	next := make([]*Template, 0, len(b.templates)+1)
	replaced := false
	for _, existing := range b.templates {
		if existing.Name == u.Template.Name {
			next = append(next, u.Template)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	cause := CauseUpsertedExisting
	if !replaced {
		next = append(next, u.Template)
		cause = CauseUpsertedNew
	}
	c.buckets[u.Tenant] = &bucket{templates: next, cause: cause}
	return nil
}

// Remove deletes a template by name. A no-op if absent (spec §9 open
// question, resolved: silent no-op).
type Remove struct {
	Tenant tenant.ID
	Name   string
}

func (u Remove) apply(c *Cache, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[u.Tenant]
	if !ok {
		return nil
	}

	next := make([]*Template, 0, len(b.templates))
	removed := false
	for _, existing := range b.templates {
		if existing.Name == u.Name {
			removed = true
			continue
		}
		next = append(next, existing)
	}
	if !removed {
		return nil
	}
	c.buckets[u.Tenant] = &bucket{templates: next, cause: CauseRemovedExisting}
	return nil
}

// RegenerateMark flags that a regeneration was requested manually. It is
// purely observational: it does not alter the template list.
type RegenerateMark struct {
	Tenant tenant.ID
}

func (u RegenerateMark) apply(c *Cache, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[u.Tenant]
	if !ok {
		c.buckets[u.Tenant] = &bucket{cause: CauseManual}
		return nil
	}
	c.buckets[u.Tenant] = &bucket{templates: b.templates, cause: CauseManual}
	return nil
}

// Multi applies a list of updates in order, bounding nested Multi depth.
type Multi struct {
	Updates []Update
}

func (u Multi) apply(c *Cache, depth int) error {
	if depth >= maxMultiDepth {
		return fmt.Errorf("template cache: Multi nesting exceeds max depth %d", maxMultiDepth)
	}
	for _, inner := range u.Updates {
		if m, ok := inner.(Multi); ok {
			if err := m.apply(c, depth+1); err != nil {
				return err
			}
			continue
		}
		if err := inner.apply(c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Apply applies a single update message to the cache.
func (c *Cache) Apply(u Update) error {
	return u.apply(c, 0)
}
