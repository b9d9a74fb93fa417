package aggtree

import (
	"sync"
)

// Leaf holds the per-item aggregation state: the uppers multiset of
// height-0 bottom trees that directly follow this item, and
// the memoized bottom-tree/top-tree maps rooted at it. A Context's
// ItemLock.Leaf() creates one on first access and holds it for the
// lifetime of the item; this package never constructs one itself.
type Leaf[Ref comparable, Info any, Change any] struct {
	mu sync.Mutex

	ref Ref

	// uppers: the height-0 bottom trees that currently follow this item.
	// A bottom tree can follow the same item more than once only through
	// distinct multi-edges at its parent, which is edgeCount's job on the
	// bottomNode side; here each distinct upper is counted once per
	// bottomNode that actually lists this leaf as a follower.
	uppers multiset[*bottomNode[Ref, Info, Change]]

	seeded    bool
	localInfo Info

	// subtreeDepth is a conservative (never-shrinking) estimate of how
	// many child hops separate this item from its farthest current
	// descendant. It only grows, on NotifyStructural additions; removals
	// do not recompute it, since that would require rescanning every
	// sibling subtree. Over-estimating costs a few wasted top-tree
	// levels; under-estimating would return an incomplete aggregate, so
	// the conservative direction is the only safe one.
	subtreeDepth uint

	bottomTrees *NodeCache[*bottomNode[Ref, Info, Change]]
	topTrees    *NodeCache[*topNode[Ref, Info, Change]]

	// activeGuards counts live InfoGuards obtained through this leaf's top
	// spine, guarded by mu. The pin is taken under mu before a guard's
	// first frontier fetch, and maybeDestroy re-checks it under the same
	// lock, so pinning and teardown cannot interleave. While positive, no
	// bottom node rooted at this leaf is torn down even if its own upper
	// count hits zero: an open guard holds a reference to the depth-0 top
	// tree, preventing its collapse while observation is active.
	activeGuards int
}

// NewLeaf constructs an item's aggregation state. Callers (a Context's
// ItemLock implementation) create exactly one of these per item and
// return the same pointer from every subsequent Leaf() call.
func NewLeaf[Ref comparable, Info any, Change any](ref Ref) *Leaf[Ref, Info, Change] {
	return &Leaf[Ref, Info, Change]{
		ref:    ref,
		uppers: newMultiset[*bottomNode[Ref, Info, Change]](),
	}
}

// ensureSeeded folds the item's own add-change into localInfo exactly
// once, on first touch by the core (construction of a bottom tree that
// follows this item, or a direct NotifyChange/AggregationInfo call). This
// way a 0→1 uppers transition pushes InfoToAddChange(localInfo) rather
// than a synthetic empty add-change, so an item that already accumulated
// local changes before gaining its first upper reports its true current
// state instead of looking freshly created.
func (l *Leaf[Ref, Info, Change]) ensureSeeded(e *Engine[Ref, Info, Change], lock ItemLock[Ref, Info, Change]) {
	l.mu.Lock()
	if l.seeded {
		l.mu.Unlock()
		return
	}
	l.localInfo = e.ctx.NewInfo()
	l.seeded = true
	l.mu.Unlock()

	add, ok := lock.AddChange()
	if !ok {
		return
	}
	l.mu.Lock()
	e.ctx.ApplyChange(&l.localInfo, add)
	l.mu.Unlock()
}

// selfAddChange derives the change representing this item's own current
// contribution (its locally-folded state, including every change applied
// since seeding) entering an aggregate.
func (l *Leaf[Ref, Info, Change]) selfAddChange(e *Engine[Ref, Info, Change]) (Change, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return e.ctx.InfoToAddChange(l.localInfo)
}

func (l *Leaf[Ref, Info, Change]) subtreeDepthSnapshot() uint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subtreeDepth
}

func (l *Leaf[Ref, Info, Change]) bumpSubtreeDepth(atLeast uint) {
	l.mu.Lock()
	if atLeast > l.subtreeDepth {
		l.subtreeDepth = atLeast
	}
	l.mu.Unlock()
}

// notifyChange applies a local mutation to this item's folded state. If
// the applied change propagates, the resulting delta is pushed into
// every current upper. Every bottom tree rooted at this item itself is
// updated regardless: those nodes fold this item's contribution from
// localInfo, so they receive the raw change rather than the outward
// delta — a change the leaf absorbs still mutates the folded state and
// has to land in their data too.
func (l *Leaf[Ref, Info, Change]) notifyChange(e *Engine[Ref, Info, Change], change Change, traceID string) {
	l.mu.Lock()
	delta, ok := e.ctx.ApplyChange(&l.localInfo, change)
	var ups []*bottomNode[Ref, Info, Change]
	if ok {
		ups = l.uppers.keys()
	}
	l.mu.Unlock()

	if ok {
		for _, up := range ups {
			up.receiveChange(e, traceID, delta)
		}
	}

	if cache := l.bottomTreesSnapshot(); cache != nil {
		cache.Range(func(_ uint, n *bottomNode[Ref, Info, Change]) {
			n.receiveChange(e, traceID, change)
		})
	}
}

// addUpper registers upper as a new follower-of relationship and, on a
// 0→1 transition, pushes this item's current add-change into it.
func (l *Leaf[Ref, Info, Change]) addUpper(e *Engine[Ref, Info, Change], upper *bottomNode[Ref, Info, Change], traceID string) {
	debugAssertf(upper.height == 0,
		"%v: item leaf linked under %s", ErrCycleDetected, bottomPotential(upper.root, upper.height))

	l.mu.Lock()
	becameNonEmpty := l.uppers.add(upper)
	var change Change
	var ok bool
	if becameNonEmpty {
		change, ok = e.ctx.InfoToAddChange(l.localInfo)
	}
	l.mu.Unlock()

	if becameNonEmpty && ok {
		upper.receiveChange(e, traceID, change)
	}
}

// removeUpper is addUpper's mirror: on a 1→0 transition it pushes the
// item's remove-change into the departing upper.
func (l *Leaf[Ref, Info, Change]) removeUpper(e *Engine[Ref, Info, Change], upper *bottomNode[Ref, Info, Change], traceID string) {
	l.mu.Lock()
	becameEmpty := l.uppers.remove(upper)
	var change Change
	var ok bool
	if becameEmpty {
		change, ok = e.ctx.InfoToRemoveChange(l.localInfo)
	}
	l.mu.Unlock()

	if becameEmpty && ok {
		upper.receiveChange(e, traceID, change)
	}
}

// pinGuard registers a live InfoGuard on this leaf's top spine. It must
// run before the guard's first frontier fetch: maybeDestroy checks the
// count and marks a node destroyed in one critical section under the
// same lock, so a fetch that follows a pin either prevents the teardown
// or observes the mark and rebuilds.
func (l *Leaf[Ref, Info, Change]) pinGuard() {
	l.mu.Lock()
	l.activeGuards++
	l.mu.Unlock()
}

// unpinGuard is pinGuard's converse, reporting whether this was the
// last guard on the leaf.
func (l *Leaf[Ref, Info, Change]) unpinGuard() (last bool) {
	l.mu.Lock()
	l.activeGuards--
	last = l.activeGuards == 0
	l.mu.Unlock()
	return last
}

// bottomTree returns the memoized bottom tree of the given height rooted
// at this item, building it on first request.
func (l *Leaf[Ref, Info, Change]) bottomTree(e *Engine[Ref, Info, Change], height uint) *bottomNode[Ref, Info, Change] {
	l.mu.Lock()
	if l.bottomTrees == nil {
		l.bottomTrees = e.options.bottomCache()
	}
	cache := l.bottomTrees
	l.mu.Unlock()

	for {
		n := cache.GetOrCreate(height, func() *bottomNode[Ref, Info, Change] {
			return buildBottomNode(e, l, height)
		})
		if !n.isDestroyed() {
			return n
		}
		// A teardown decided just before this fetch leaves its mark
		// behind; evict the carcass and build a replacement.
		cache.DeleteIfEqual(height, n)
	}
}

// topTree returns the memoized top tree of the given depth rooted at this
// item, building it (and, transitively, its bottomChild) on first
// request.
func (l *Leaf[Ref, Info, Change]) topTree(e *Engine[Ref, Info, Change], depth uint) *topNode[Ref, Info, Change] {
	l.mu.Lock()
	if l.topTrees == nil {
		l.topTrees = e.options.topCache()
	}
	cache := l.topTrees
	l.mu.Unlock()

	return cache.GetOrCreate(depth, func() *topNode[Ref, Info, Change] {
		return buildTopNode(e, l.ref, depth)
	})
}

func (l *Leaf[Ref, Info, Change]) bottomTreesSnapshot() *NodeCache[*bottomNode[Ref, Info, Change]] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bottomTrees
}

func (l *Leaf[Ref, Info, Change]) topTreesSnapshot() *NodeCache[*topNode[Ref, Info, Change]] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.topTrees
}

// forEachBottomTree visits every currently memoized bottom-tree height
// rooted at this item. Used by NotifyStructural to patch every live
// aggregation level in one pass.
func (l *Leaf[Ref, Info, Change]) forEachBottomTree(visit func(height uint, n *bottomNode[Ref, Info, Change])) {
	cache := l.bottomTreesSnapshot()
	if cache == nil {
		return
	}
	cache.Range(visit)
}

// collapseTopSpine drops every memoized top-tree level once the last
// InfoGuard on this item has been released, letting each level's bottom
// child fall back to ordinary upper-count-based teardown.
func (l *Leaf[Ref, Info, Change]) collapseTopSpine(e *Engine[Ref, Info, Change]) {
	cache := l.topTreesSnapshot()
	if cache == nil {
		return
	}
	var bottoms []*bottomNode[Ref, Info, Change]
	cache.Range(func(depth uint, t *topNode[Ref, Info, Change]) {
		bottoms = append(bottoms, t.bottom())
	})
	cache.Clear()
	for _, b := range bottoms {
		b.maybeDestroy(e)
	}
}

// rebuildBottomTree tears down and reconstructs the memoized bottom tree
// at the given height, reattaching it to the same uppers the old node
// had. This is the mechanism behind Engine.NotifyColorChanged: a recolor
// changes how height-0 construction treats this item's children, so the
// memoized node has to be rebuilt from scratch rather than patched
// incrementally.
func (l *Leaf[Ref, Info, Change]) rebuildBottomTree(e *Engine[Ref, Info, Change], height uint, traceID string) {
	cache := l.bottomTreesSnapshot()
	if cache == nil {
		return
	}
	old, ok := cache.Get(height)
	if !ok {
		return
	}

	// Detach the old node's uppers first (each detach pushes the old
	// node's remove-change into the upper), then force-destroy it: an
	// active guard would otherwise keep it both alive and memoized, and
	// the rebuild below would just hand the stale node back.
	uppers := old.snapshotUppers()
	for _, up := range uppers {
		old.removeUpper(e, up, traceID)
	}
	old.destroy(e)

	fresh := l.bottomTree(e, height)
	for _, up := range uppers {
		fresh.addUpper(e, up, traceID)
	}

	// A memoized top node at this depth still points at the old node as
	// its bottomChild; swap in the replacement so live guards read the
	// rebuilt data.
	if topCache := l.topTreesSnapshot(); topCache != nil {
		if t, ok := topCache.Get(height); ok {
			t.replaceBottomChild(fresh)
		}
	}
}
