package aggtree

// Engine is the package's entry point: a value constructed once via New
// with a Context supplied by the embedder and a set of functional
// options, exposing NotifyChange, NotifyStructural, and
// AggregationInfo, plus the NotifyColorChanged entry point this module
// adds to handle fan-out recoloring.
type Engine[Ref comparable, Info any, Change any] struct {
	ctx      Context[Ref, Info, Change]
	options  options[Ref, Info, Change]
	activity *activityLog
}

// New constructs an Engine backed by ctx, applying any supplied Options
// over the defaults (a no-op logger, unbounded map-backed node caches, no
// activity trace).
func New[Ref comparable, Info any, Change any](ctx Context[Ref, Info, Change], opts ...Option[Ref, Info, Change]) *Engine[Ref, Info, Change] {
	o := defaultOptions[Ref, Info, Change]()
	for _, opt := range opts {
		opt(&o)
	}
	e := &Engine[Ref, Info, Change]{ctx: ctx, options: o}
	if o.activityEnabled {
		e.activity = newActivityLog(o.activityLogSize)
	}
	return e
}

// Activity returns the engine's recent-touch trace, or nil if
// WithActivityLog was never supplied.
func (e *Engine[Ref, Info, Change]) Activity() *activityLog {
	return e.activity
}

// NotifyChange applies a local mutation to ref's item and propagates it
// up through every bottom tree currently following ref.
func (e *Engine[Ref, Info, Change]) NotifyChange(ref Ref, change Change) {
	traceID := newTraceID()
	lock := e.ctx.Item(ref)
	leaf := lock.Leaf()
	leaf.ensureSeeded(e, lock)
	lock.Unlock()

	leaf.notifyChange(e, change, traceID)
}

// NotifyStructural reports that delta.Parent gained or lost delta.Child
// as a child. It patches every memoized bottom-tree level rooted at the
// parent, and (on addition) bumps the parent's conservative subtree-depth
// bound so a later AggregationInfo call extends its top spine far enough
// to cover the new descendant.
//
// When a whole new subtree is being attached rather than a single leaf,
// callers must report its edges bottom-up (deepest first): the child's
// own subtree-depth bound must already reflect its descendants before
// its edge to its parent is reported, or the parent will under-estimate
// how far its top spine needs to reach.
func (e *Engine[Ref, Info, Change]) NotifyStructural(delta StructuralDelta[Ref]) {
	traceID := newTraceID()

	lock := e.ctx.Item(delta.Parent)
	parentLeaf := lock.Leaf()
	parentLeaf.ensureSeeded(e, lock)
	lock.Unlock()

	if delta.Added {
		childLock := e.ctx.Item(delta.Child)
		childLeaf := childLock.Leaf()
		childLeaf.ensureSeeded(e, childLock)
		childLock.Unlock()
		parentLeaf.bumpSubtreeDepth(childLeaf.subtreeDepthSnapshot() + 1)
	}

	parentLeaf.forEachBottomTree(func(height uint, n *bottomNode[Ref, Info, Change]) {
		n.applyStructuralChange(e, delta, traceID)
	})
}

// AggregationInfo returns a live subscription to ref's fully-aggregated
// view, extending ref's top spine as far as its current subtree depth
// requires before returning.
func (e *Engine[Ref, Info, Change]) AggregationInfo(ref Ref) *InfoGuard[Ref, Info, Change] {
	lock := e.ctx.Item(ref)
	leaf := lock.Leaf()
	leaf.ensureSeeded(e, lock)
	lock.Unlock()

	return newInfoGuard(e, leaf)
}

// NotifyColorChanged rebuilds ref's height-0 bottom tree to reflect a
// changed IsBlue() result. Since coloring only affects height-0
// construction, only that level needs to be torn down and rebuilt; every
// upper that followed the old node is reattached to the fresh one.
func (e *Engine[Ref, Info, Change]) NotifyColorChanged(ref Ref) {
	traceID := newTraceID()
	lock := e.ctx.Item(ref)
	leaf := lock.Leaf()
	lock.Unlock()

	leaf.rebuildBottomTree(e, 0, traceID)
}
