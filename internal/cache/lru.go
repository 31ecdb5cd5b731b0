// Package cache implements the bounded chunk cache of spec.md §4.E.
package cache

import "container/list"

// LRU is a fixed-capacity, least-recently-used cache keyed by chunk
// index. A capacity of 1 gives exactly the "strictly sequential reads"
// behavior spec.md calls for; the default is 8 for random access.
type LRU struct {
	capacity int
	ll       *list.List
	index    map[uint64]*list.Element
}

type entry struct {
	key   uint64
	value []byte
}

// New returns an LRU with the given capacity. A capacity <= 0 is
// treated as 1.
func New(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[uint64]*list.Element),
	}
}

// Get returns the cached bytes for chunkIndex, promoting it to
// most-recently-used on hit.
func (c *LRU) Get(chunkIndex uint64) ([]byte, bool) {
	el, ok := c.index[chunkIndex]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).value, true
}

// Put inserts or updates the cached bytes for chunkIndex, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *LRU) Put(chunkIndex uint64, data []byte) {
	if el, ok := c.index[chunkIndex]; ok {
		el.Value.(*entry).value = data
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: chunkIndex, value: data})
	c.index[chunkIndex] = el

	for c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.ll.Remove(back)
		delete(c.index, back.Value.(*entry).key)
	}
}

// Invalidate drops chunkIndex from the cache, if present. Used by the
// delta overwriter when a chunk is shadowed after having been cached
// from the main chain.
func (c *LRU) Invalidate(chunkIndex uint64) {
	if el, ok := c.index[chunkIndex]; ok {
		c.ll.Remove(el)
		delete(c.index, chunkIndex)
	}
}

// Len reports the number of cached entries.
func (c *LRU) Len() int { return c.ll.Len() }
