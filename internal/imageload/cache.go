package imageload

import (
	"container/list"
	"sync"
	"time"
)

// entry is a cached load result. A failed load is cached too, with its own
// shorter TTL, so a broken URL is not refetched on every redraw.
type entry struct {
	key  string
	data []byte
	err  error
	exp  time.Time // zero = no expiry
	elem *list.Element
}

// cache is an LRU with per-entry expiry, safe for concurrent use.
type cache struct {
	mu       sync.Mutex
	items    map[string]*entry
	order    *list.List // MRU at front
	maxItems int        // 0 = unlimited
	now      func() time.Time
}

func newCache(maxItems int) *cache {
	return &cache{
		items:    make(map[string]*entry),
		order:    list.New(),
		maxItems: maxItems,
		now:      time.Now,
	}
}

func (c *cache) get(key string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		c.removeLocked(key)
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e, true
}

func (c *cache) set(key string, data []byte, err error, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		e.data, e.err, e.exp = data, err, exp
		c.order.MoveToFront(e.elem)
		return
	}
	e := &entry{key: key, data: data, err: err, exp: exp}
	e.elem = c.order.PushFront(e)
	c.items[key] = e
	for c.maxItems > 0 && c.order.Len() > c.maxItems {
		c.evictLocked()
	}
}

func (c *cache) delete(key string) {
	c.mu.Lock()
	c.removeLocked(key)
	c.mu.Unlock()
}

func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *cache) removeLocked(key string) {
	if e, ok := c.items[key]; ok {
		c.order.Remove(e.elem)
		delete(c.items, key)
	}
}

func (c *cache) evictLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	c.order.Remove(back)
	delete(c.items, e.key)
}
