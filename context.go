package aggtree

// Context is the capability the caller supplies to drive aggregation. Ref
// identifies an item (hashable, equatable, cheap to copy), Info is the
// caller's aggregated value type, and Change is the caller's change
// descriptor type. Both ApplyChange and the InfoTo*Change conversions are
// pure: the core never inspects Info or Change beyond passing them through
// these functions.
type Context[Ref comparable, Info any, Change any] interface {
	// NewInfo returns an empty aggregated value, the zero point that every
	// node's data starts folding from.
	NewInfo() Info

	// Item acquires an exclusive lock on the item identified by ref and
	// returns a capability for accessing its leaf state, children, color,
	// and add/remove change descriptors. The caller must call Unlock on
	// the returned ItemLock exactly once.
	Item(ref Ref) ItemLock[Ref, Info, Change]

	// ApplyChange folds change into info in place and returns the
	// outward-visible delta to push to info's uppers, or ok=false if the
	// change was fully absorbed and propagation should stop here.
	ApplyChange(info *Info, change Change) (propagated Change, ok bool)

	// InfoToAddChange derives the change representing "this whole
	// aggregate enters a parent," or ok=false if there is nothing to add
	// (an empty aggregate never acquired any data).
	InfoToAddChange(info Info) (Change, bool)

	// InfoToRemoveChange derives the change representing "this whole
	// aggregate leaves a parent."
	InfoToRemoveChange(info Info) (Change, bool)
}

// ItemLock is the exclusive-access capability returned by Context.Item. It
// must be released by calling Unlock exactly once, and the caller must not
// retain Children()'s result or call any method after Unlock.
type ItemLock[Ref comparable, Info any, Change any] interface {
	// Leaf returns the item's per-core mutable state, creating it on
	// first access. The leaf is owned by the item: it must have no
	// uppers left when the item is dropped by its storage.
	Leaf() *Leaf[Ref, Info, Change]

	// Children enumerates the item's child item references in the
	// caller's forest. Duplicates are meaningful: the same ref appearing
	// twice means a genuine multi-edge, and the parent's bottom nodes
	// record edge multiplicity 2 for it (so one removal does not sever
	// the link), while the child's contribution is still folded once.
	Children() []Ref

	// IsBlue reports the fan-out policy bit: true means "do not expand my
	// children into a height-0 bottom node rooted at me."
	IsBlue() bool

	// AddChange returns this item's own contribution as it enters an
	// aggregate for the first time (ok=false if the item contributes
	// nothing, e.g. an uninitialized payload).
	AddChange() (Change, bool)

	// RemoveChange is the converse of AddChange.
	RemoveChange() (Change, bool)

	// Unlock releases the item lock. Must be called exactly once.
	Unlock()
}

// StructuralDelta describes a child being added to or removed from an
// item, the payload of NotifyStructural.
type StructuralDelta[Ref comparable] struct {
	Parent Ref
	Child  Ref
	Added  bool
}
