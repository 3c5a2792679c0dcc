package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a fixed-capacity cache where every entry carries its own expiry.
// Expired entries are dropped lazily on access or when they reach the tail.
type LRU[V any] struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List
	mu       sync.Mutex
	now      func() time.Time
}

type lruEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

func NewLRU[V any](capacity int) *LRU[V] {
	return &LRU[V]{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, found := c.items[key]
	if !found {
		return zero, false
	}
	e := elem.Value.(*lruEntry[V])
	if !c.now().Before(e.expiresAt) {
		c.removeElement(elem)
		return zero, false
	}
	c.order.MoveToFront(elem)
	return e.value, true
}

// Set stores value for ttl. A non-positive ttl or capacity stores nothing.
func (c *LRU[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 || c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, found := c.items[key]; found {
		e := elem.Value.(*lruEntry[V])
		e.value, e.expiresAt = value, expiresAt
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.capacity {
		c.removeElement(c.order.Back())
	}
}

func (c *LRU[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.items[key]; found {
		c.removeElement(elem)
	}
}

func (c *LRU[V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry[V]).key)
}

func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
}
