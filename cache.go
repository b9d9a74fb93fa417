package aggtree

import "sync"

// NodeCache backs a Leaf's height->*bottomNode and depth->*topNode
// memoization maps: a sparse mapping from level to the unique node at
// that level, built lazily and cached thereafter. Adapted from a
// radix-tree transaction cache that tracked writable node pointers
// during a single transaction with the same Set/Has/Clear shape; here
// the cache is long-lived (as long as the leaf is) rather than scoped to
// one transaction, and is keyed by an explicit uint rather than by
// pointer identity, since what's being memoized is "the node for this
// height," not "nodes already copied this txn."
type NodeCache[V comparable] struct {
	mu sync.RWMutex
	m  map[uint]V
}

// NodeCacheProvider constructs a fresh NodeCache. A Leaf calls this once
// for its bottom-tree map and once for its top-tree map.
type NodeCacheProvider[V comparable] func() *NodeCache[V]

// NewMapNodeCache is the default NodeCacheProvider: a plain Go map guarded
// by an RWMutex.
func NewMapNodeCache[V comparable]() *NodeCache[V] {
	return &NodeCache[V]{m: make(map[uint]V)}
}

// Get returns the memoized value for key, if any. Read-locked: the common
// case (node already built) never blocks a concurrent reader.
func (c *NodeCache[V]) Get(key uint) (V, bool) {
	c.mu.RLock()
	v, ok := c.m[key]
	c.mu.RUnlock()
	return v, ok
}

// GetOrCreate returns the memoized value for key, calling build to
// construct and store it on first access. build is called at most once
// per key even under concurrent callers: this is the double-checked
// locking pattern of ClusterCockpit/cc-backend's
// pkg/metricstore/level.go findLevelOrCreate (RLock fast path; Lock,
// re-check, build, store on miss).
func (c *NodeCache[V]) GetOrCreate(key uint, build func() V) V {
	c.mu.RLock()
	if v, ok := c.m[key]; ok {
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.m[key]; ok {
		return v
	}
	v := build()
	c.m[key] = v
	return v
}

// Delete removes a memoized entry unconditionally. Node teardown does not
// use it; it evicts through DeleteIfEqual instead.
func (c *NodeCache[V]) Delete(key uint) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// DeleteIfEqual removes the entry for key only if it still maps to v. A
// node tearing itself down must not evict a replacement that was already
// rebuilt under the same key (recoloring does exactly that).
func (c *NodeCache[V]) DeleteIfEqual(key uint, v V) {
	c.mu.Lock()
	if cur, ok := c.m[key]; ok && cur == v {
		delete(c.m, key)
	}
	c.mu.Unlock()
}

func (c *NodeCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Range visits a snapshot of the cache's entries. The callback runs
// without the cache lock held, so it may safely call back into the cache
// (e.g. Delete) without deadlocking.
func (c *NodeCache[V]) Range(visit func(key uint, v V)) {
	c.mu.RLock()
	keys := make([]uint, 0, len(c.m))
	vals := make([]V, 0, len(c.m))
	for k, v := range c.m {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	c.mu.RUnlock()

	for i, k := range keys {
		visit(k, vals[i])
	}
}

// Clear empties the cache, used when every memoized node rooted at a leaf
// is being torn down at once (top-spine collapse on last guard release).
func (c *NodeCache[V]) Clear() {
	c.mu.Lock()
	c.m = make(map[uint]V)
	c.mu.Unlock()
}
