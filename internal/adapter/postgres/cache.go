package postgres

import (
	"context"
	"sync"

	"github.com/couchcryptid/quake-alert-bot/internal/domain"
)

// recordStore is the store contract CachedStore decorates.
type recordStore interface {
	IsRecorded(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, rec domain.Record) error
	Ping(ctx context.Context) error
}

// CachedStore wraps a store with an in-memory LRU of recorded IDs. Only
// positive answers are cached: an ID that was not recorded is asked again,
// since it may be recorded later.
type CachedStore struct {
	inner recordStore
	cache *idCache
}

// NewCachedStore creates a cache decorator around a store.
func NewCachedStore(inner recordStore, maxEntries int) *CachedStore {
	return &CachedStore{
		inner: inner,
		cache: newIDCache(maxEntries),
	}
}

func (c *CachedStore) IsRecorded(ctx context.Context, id string) (bool, error) {
	if c.cache.contains(id) {
		return true, nil
	}
	recorded, err := c.inner.IsRecorded(ctx, id)
	if err != nil {
		return false, err
	}
	if recorded {
		c.cache.add(id)
	}
	return recorded, nil
}

func (c *CachedStore) Record(ctx context.Context, rec domain.Record) error {
	if err := c.inner.Record(ctx, rec); err != nil {
		return err
	}
	c.cache.add(rec.ID)
	return nil
}

func (c *CachedStore) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

// idCache is a thread-safe LRU set of earthquake IDs.
type idCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	id   string
	prev *entry
	next *entry
}

func newIDCache(maxEntries int) *idCache {
	return &idCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *idCache) contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return false
	}
	c.moveToFront(e)
	return true
}

func (c *idCache) add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok {
		c.moveToFront(e)
		return
	}

	e := &entry{id: id}
	c.entries[id] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *idCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *idCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.addToFront(e)
}

func (c *idCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *idCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *idCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.id)
	c.unlink(c.tail)
}
