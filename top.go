package aggtree

import (
	"sync"
	"time"
)

// topNode is a single link in the lazy top-tree spine: a node at a given
// depth, rooted at the same item as its bottomChild. A topNode never
// folds data of its own: bottomChild's reach (depth+1 hops, see
// reach.go) is already a strict subset of topUpper's bottomChild's reach
// (depth+2 hops) once a topUpper exists, so additively folding both
// would double-count every item within the smaller reach. Instead, once
// topUpper exists it is simply the more complete alternative, and
// readers (InfoGuard) walk to the deepest available link rather than the
// spine pushing stale data back down the chain, which would also invert
// the upward-only propagation invariant (a topUpper notifying a
// shallower topNode is a downward read). See DESIGN.md for the full
// rationale.
type topNode[Ref comparable, Info any, Change any] struct {
	mu sync.Mutex

	root  Ref
	depth uint

	bottomChild *bottomNode[Ref, Info, Change]
	topUpper    *topNode[Ref, Info, Change]
}

func buildTopNode[Ref comparable, Info any, Change any](e *Engine[Ref, Info, Change], root Ref, depth uint) *topNode[Ref, Info, Change] {
	e.options.logger.Debugw("buildTopNode", "node", topPotential(root, depth).String())
	if e.options.activityEnabled {
		e.activity.touch(topKey(root, depth), time.Now())
	}
	return &topNode[Ref, Info, Change]{
		root:        root,
		depth:       depth,
		bottomChild: bottomTreeFor(e, root, depth),
	}
}

// bottom returns the current bottomChild. Read under the lock because a
// recolor rebuild may swap the child out from under a live guard.
func (t *topNode[Ref, Info, Change]) bottom() *bottomNode[Ref, Info, Change] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bottomChild
}

func (t *topNode[Ref, Info, Change]) replaceBottomChild(n *bottomNode[Ref, Info, Change]) {
	t.mu.Lock()
	t.bottomChild = n
	t.mu.Unlock()
}

// ensureUpper lazily constructs and memoizes the depth+1 link, created
// only when something needs to aggregate beyond the reach of the current
// bottom. l must be the leaf rooted at t.root (same leaf that
// memoizes t itself, so the depth+1 node is shared with any other caller
// asking for that depth).
func (t *topNode[Ref, Info, Change]) ensureUpper(e *Engine[Ref, Info, Change], l *Leaf[Ref, Info, Change]) *topNode[Ref, Info, Change] {
	t.mu.Lock()
	if t.topUpper != nil {
		up := t.topUpper
		t.mu.Unlock()
		return up
	}
	t.mu.Unlock()

	up := l.topTree(e, t.depth+1)

	t.mu.Lock()
	if t.topUpper == nil {
		t.topUpper = up
	}
	result := t.topUpper
	t.mu.Unlock()
	return result
}
