package aggtree

import (
	"sync"
	"time"
)

// bottomNode is a fixed-height aggregation subtree: rooted at
// item root, it aggregates root itself plus everything reachable from
// it through at most height+1 child edges (see reach.go). At height 0
// its followers are the root item's children themselves (items, i.e.
// Leafs); at height>0 its followers are its children's own height-1
// bottom trees, so each additional height extends coverage by exactly
// one more generation. Both cases share one struct because the
// propagation and refcounting logic
// (addUpper/removeUpper/receiveChange/maybeDestroy) is identical; only
// construction and the edge-multiset bookkeeping differ by height.
type bottomNode[Ref comparable, Info any, Change any] struct {
	mu sync.Mutex

	root   Ref
	height uint
	leaf   *Leaf[Ref, Info, Change] // the leaf this node is memoized on

	blue bool // height == 0 only: snapshot of IsBlue() at construction time

	edgeCount multiset[Ref] // per-child edge multiplicity, both cases

	itemFollowers   map[Ref]*Leaf[Ref, Info, Change]       // height == 0, non-blue
	bottomFollowers map[Ref]*bottomNode[Ref, Info, Change] // height > 0

	uppers multiset[*bottomNode[Ref, Info, Change]]

	data      Info
	mutateCh  chan struct{}
	destroyed bool
}

// buildBottomNode constructs the bottom tree of the given height rooted
// at l's item. It is always called from inside a NodeCache.GetOrCreate,
// so it runs at most once per (root, height) regardless of concurrent
// callers.
func buildBottomNode[Ref comparable, Info any, Change any](e *Engine[Ref, Info, Change], l *Leaf[Ref, Info, Change], height uint) *bottomNode[Ref, Info, Change] {
	lock := e.ctx.Item(l.ref)
	l.ensureSeeded(e, lock)
	blue := lock.IsBlue()
	children := lock.Children()

	n := &bottomNode[Ref, Info, Change]{
		root:      l.ref,
		height:    height,
		leaf:      l,
		blue:      blue,
		edgeCount: newMultiset[Ref](),
		uppers:    newMultiset[*bottomNode[Ref, Info, Change]](),
		data:      e.ctx.NewInfo(),
		mutateCh:  make(chan struct{}),
	}
	// Every bottom node, at every height, folds in its own root item's
	// contribution in addition to its followers': height h aggregates
	// everything within h+1 hops of root, and root itself is 0 hops away.
	// The contribution comes from the leaf's locally-folded state, not the
	// item's static add-change, so changes applied before this node was
	// built are not lost.
	if selfAdd, ok := l.selfAddChange(e); ok {
		e.ctx.ApplyChange(&n.data, selfAdd)
	}

	if height == 0 {
		n.itemFollowers = make(map[Ref]*Leaf[Ref, Info, Change])

		if blue {
			// A blue item at height 0 is aggregated as itself only;
			// its children reach aggregators through their own top-tree
			// chain instead of this node's follower set, bounding its
			// fan-out regardless of how many children the item has.
			lock.Unlock()
			return n
		}

		traceID := newTraceID()
		var toLink []*Leaf[Ref, Info, Change]
		for _, childRef := range children {
			if n.edgeCount.add(childRef) {
				childLock := e.ctx.Item(childRef)
				childLeaf := childLock.Leaf()
				childLeaf.ensureSeeded(e, childLock)
				childLock.Unlock()
				n.itemFollowers[childRef] = childLeaf
				toLink = append(toLink, childLeaf)
			}
		}
		lock.Unlock()
		for _, childLeaf := range toLink {
			childLeaf.addUpper(e, n, traceID)
		}
		return n
	}

	n.bottomFollowers = make(map[Ref]*bottomNode[Ref, Info, Change])
	lock.Unlock()

	traceID := newTraceID()
	var toLink []*bottomNode[Ref, Info, Change]
	for _, childRef := range children {
		if n.edgeCount.add(childRef) {
			child := bottomTreeFor(e, childRef, height-1)
			n.bottomFollowers[childRef] = child
			toLink = append(toLink, child)
		}
	}
	for _, child := range toLink {
		child.addUpper(e, n, traceID)
	}
	return n
}

// bottomTreeFor fetches (lazily building) the bottom tree of the given
// height rooted at ref, going through ref's own Leaf.
func bottomTreeFor[Ref comparable, Info any, Change any](e *Engine[Ref, Info, Change], ref Ref, height uint) *bottomNode[Ref, Info, Change] {
	lock := e.ctx.Item(ref)
	leaf := lock.Leaf()
	leaf.ensureSeeded(e, lock)
	lock.Unlock()
	return leaf.bottomTree(e, height)
}

// addUpper registers upper as following this node and, on a 0→1
// transition, pushes this node's current add-change into it.
func (n *bottomNode[Ref, Info, Change]) addUpper(e *Engine[Ref, Info, Change], upper *bottomNode[Ref, Info, Change], traceID string) {
	debugAssertf(bottomPotential(n.root, n.height).below(bottomPotential(upper.root, upper.height)),
		"%v: edge %s -> %s does not increase potential", ErrCycleDetected,
		bottomPotential(n.root, n.height), bottomPotential(upper.root, upper.height))

	n.mu.Lock()
	becameNonEmpty := n.uppers.add(upper)
	var change Change
	var ok bool
	if becameNonEmpty {
		change, ok = e.ctx.InfoToAddChange(n.data)
	}
	n.mu.Unlock()

	if becameNonEmpty && ok {
		upper.receiveChange(e, traceID, change)
	}
}

// removeUpper is addUpper's mirror: on a 1→0 transition it pushes this
// node's remove-change into the departing upper, then checks whether this
// node itself is now eligible for teardown.
func (n *bottomNode[Ref, Info, Change]) removeUpper(e *Engine[Ref, Info, Change], upper *bottomNode[Ref, Info, Change], traceID string) {
	n.mu.Lock()
	becameEmpty := n.uppers.remove(upper)
	var change Change
	var ok bool
	if becameEmpty {
		change, ok = e.ctx.InfoToRemoveChange(n.data)
	}
	n.mu.Unlock()

	if becameEmpty && ok {
		upper.receiveChange(e, traceID, change)
	}
	if becameEmpty {
		n.maybeDestroy(e)
	}
}

// receiveChange applies an incoming change from a follower to this
// node's folded data and, if the context reports the change propagates
// further, forwards the resulting delta to every current upper. This is
// the single hop of hand-over-hand propagation: this node's lock is
// released before any upper's receiveChange is entered.
func (n *bottomNode[Ref, Info, Change]) receiveChange(e *Engine[Ref, Info, Change], traceID string, change Change) {
	n.mu.Lock()
	delta, ok := e.ctx.ApplyChange(&n.data, change)
	var ups []*bottomNode[Ref, Info, Change]
	if ok {
		ups = n.uppers.keys()
	}
	// ApplyChange folds in place even when it absorbs the change, so
	// watchers wake regardless of whether anything propagates further.
	close(n.mutateCh)
	n.mutateCh = make(chan struct{})
	n.mu.Unlock()

	if e.options.activityEnabled {
		e.activity.touch(bottomKey(n.root, n.height), time.Now())
	}
	e.options.logger.Debugw("receiveChange", "node", bottomPotential(n.root, n.height).String(), "trace", traceID, "applied", ok)

	if !ok {
		return
	}
	for _, up := range ups {
		up.receiveChange(e, traceID, delta)
	}
}

// applyStructuralChange patches this node's follower set in response to
// a child being added to or removed from its root item. Only called on
// nodes whose root is delta.Parent.
func (n *bottomNode[Ref, Info, Change]) applyStructuralChange(e *Engine[Ref, Info, Change], delta StructuralDelta[Ref], traceID string) {
	if n.height == 0 {
		n.applyStructuralChangeLeaf(e, delta, traceID)
		return
	}
	n.applyStructuralChangeBottom(e, delta, traceID)
}

func (n *bottomNode[Ref, Info, Change]) applyStructuralChangeLeaf(e *Engine[Ref, Info, Change], delta StructuralDelta[Ref], traceID string) {
	if n.blue {
		// Children of a blue item never become followers of its height-0
		// node; nothing to patch here.
		return
	}

	if delta.Added {
		childLock := e.ctx.Item(delta.Child)
		childLeaf := childLock.Leaf()
		childLeaf.ensureSeeded(e, childLock)
		childLock.Unlock()

		n.mu.Lock()
		if n.destroyed {
			n.mu.Unlock()
			return
		}
		firstEdge := n.edgeCount.add(delta.Child)
		if firstEdge {
			n.itemFollowers[delta.Child] = childLeaf
		}
		n.mu.Unlock()

		if firstEdge {
			childLeaf.addUpper(e, n, traceID)
		}
		return
	}

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	lastEdge := n.edgeCount.remove(delta.Child)
	childLeaf := n.itemFollowers[delta.Child]
	if lastEdge {
		delete(n.itemFollowers, delta.Child)
	}
	n.mu.Unlock()

	if lastEdge && childLeaf != nil {
		childLeaf.removeUpper(e, n, traceID)
	}
}

func (n *bottomNode[Ref, Info, Change]) applyStructuralChangeBottom(e *Engine[Ref, Info, Change], delta StructuralDelta[Ref], traceID string) {
	if delta.Added {
		child := bottomTreeFor(e, delta.Child, n.height-1)

		n.mu.Lock()
		if n.destroyed {
			n.mu.Unlock()
			return
		}
		firstEdge := n.edgeCount.add(delta.Child)
		if firstEdge {
			n.bottomFollowers[delta.Child] = child
		}
		n.mu.Unlock()

		if firstEdge {
			child.addUpper(e, n, traceID)
		}
		return
	}

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	lastEdge := n.edgeCount.remove(delta.Child)
	child := n.bottomFollowers[delta.Child]
	if lastEdge {
		delete(n.bottomFollowers, delta.Child)
	}
	n.mu.Unlock()

	if lastEdge && child != nil {
		child.removeUpper(e, n, traceID)
	}
}

// maybeDestroy tears this node down once its upper count has reached
// zero and no InfoGuard pins this leaf's top spine. The guard check and
// the destroyed mark are a single critical section under the leaf lock,
// paired with pinGuard taking its pin under the same lock before any
// frontier fetch: a racing guard either forces the skip here or finds
// the node marked and rebuilds it (Leaf.bottomTree).
func (n *bottomNode[Ref, Info, Change]) maybeDestroy(e *Engine[Ref, Info, Change]) {
	l := n.leaf
	l.mu.Lock()
	if l.activeGuards > 0 {
		l.mu.Unlock()
		return
	}
	n.mu.Lock()
	if n.destroyed || !n.uppers.empty() {
		n.mu.Unlock()
		l.mu.Unlock()
		return
	}
	n.destroyed = true
	n.mu.Unlock()
	l.mu.Unlock()

	n.teardown(e)
}

// destroy force-marks this node dead and unlinks it regardless of
// guards: rebuildBottomTree replaces the node outright, so keeping the
// stale one pinned would defeat the rebuild. Idempotent against a
// maybeDestroy that already claimed the mark.
func (n *bottomNode[Ref, Info, Change]) destroy(e *Engine[Ref, Info, Change]) {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	n.destroyed = true
	n.mu.Unlock()

	n.teardown(e)
}

// teardown unlinks a marked node from its followers and evicts its
// memoization entry. Only the goroutine that set the destroyed mark
// reaches here.
func (n *bottomNode[Ref, Info, Change]) teardown(e *Engine[Ref, Info, Change]) {
	n.mu.Lock()
	items := make([]*Leaf[Ref, Info, Change], 0, len(n.itemFollowers))
	for _, childLeaf := range n.itemFollowers {
		items = append(items, childLeaf)
	}
	bottoms := make([]*bottomNode[Ref, Info, Change], 0, len(n.bottomFollowers))
	for _, child := range n.bottomFollowers {
		bottoms = append(bottoms, child)
	}
	n.mu.Unlock()

	traceID := newTraceID()
	for _, childLeaf := range items {
		childLeaf.removeUpper(e, n, traceID)
	}
	for _, child := range bottoms {
		child.removeUpper(e, n, traceID)
	}

	if cache := n.leaf.bottomTreesSnapshot(); cache != nil {
		cache.DeleteIfEqual(n.height, n)
	}
}

func (n *bottomNode[Ref, Info, Change]) isDestroyed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.destroyed
}

func (n *bottomNode[Ref, Info, Change]) snapshotUppers() []*bottomNode[Ref, Info, Change] {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.uppers.keys()
}

func (n *bottomNode[Ref, Info, Change]) snapshot() Info {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.data
}

func (n *bottomNode[Ref, Info, Change]) watch() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mutateCh
}
