// Package forest is a reference Context implementation used by this
// module's own tests and benchmarks: a plain in-memory parent/child
// forest where each item carries a scalar value, and aggregation sums
// both the count and the value of every reachable item (an item whose
// value is zero when the engine first sees it adds nothing to the
// count). It is not part
// of the public API; embedders provide their own Context over whatever
// storage they already have.
package forest

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aggtree/aggtree"
)

// childrenCacheSize bounds how many items' resolved child-ref slices this
// forest keeps memoized at once; a miss just falls back to copying the
// live slice under the item lock.
const childrenCacheSize = 4096

// Ref identifies an item by name.
type Ref = string

// Info is the aggregated view: how many reachable items carry a value,
// and the sum of their values. An item whose value is zero when the
// engine first sees it has no add-change and is not counted.
type Info struct {
	Count int
	Sum   int64
}

// Change describes a delta to Count and Sum.
type Change struct {
	DeltaCount int
	DeltaSum   int64
}

type item struct {
	mu       sync.Mutex
	ref      Ref
	value    int64
	children []Ref
	blue     bool
	leaf     *aggtree.Leaf[Ref, Info, Change]
}

// Forest is a concurrency-safe parent/child graph plus the
// aggtree.Context plumbing to drive an Engine over it. Item locks are
// always acquired top-down (a parent's lock is held only while briefly
// acquiring and releasing a child's), matching the discipline the core
// package itself relies on.
type Forest struct {
	mu       sync.Mutex
	items    map[Ref]*item
	children *lru.Cache[Ref, []Ref]
}

// New returns an empty forest.
func New() *Forest {
	cache, err := lru.New[Ref, []Ref](childrenCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// childrenCacheSize never is.
		panic(err)
	}
	return &Forest{items: make(map[Ref]*item), children: cache}
}

func (f *Forest) ensure(ref Ref) *item {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[ref]
	if !ok {
		it = &item{ref: ref}
		f.items[ref] = it
	}
	return it
}

// AddItem registers ref (if not already present) with a scalar value.
func (f *Forest) AddItem(ref Ref, value int64) {
	it := f.ensure(ref)
	it.mu.Lock()
	it.value = value
	it.mu.Unlock()
}

// SetValue updates ref's scalar value without touching its structure.
func (f *Forest) SetValue(ref Ref, value int64) {
	f.AddItem(ref, value)
}

// Bump adds delta to ref's stored value and returns the Change to report
// through Engine.NotifyChange, so storage and the incremental aggregate
// move together and a later full-scan fold agrees with the live view.
func (f *Forest) Bump(ref Ref, delta int64) Change {
	it := f.ensure(ref)
	it.mu.Lock()
	it.value += delta
	it.mu.Unlock()
	return Change{DeltaSum: delta}
}

// SetBlue sets ref's fan-out coloring bit.
func (f *Forest) SetBlue(ref Ref, blue bool) {
	it := f.ensure(ref)
	it.mu.Lock()
	it.blue = blue
	it.mu.Unlock()
}

// AddChild appends child to ref's child list (duplicates are a genuine
// multi-edge, not deduplicated).
func (f *Forest) AddChild(ref, child Ref) {
	it := f.ensure(ref)
	f.ensure(child)
	it.mu.Lock()
	it.children = append(it.children, child)
	it.mu.Unlock()
	f.children.Remove(ref)
}

// RemoveChild removes the first occurrence of child from ref's child
// list.
func (f *Forest) RemoveChild(ref, child Ref) {
	it := f.ensure(ref)
	it.mu.Lock()
	for i, c := range it.children {
		if c == child {
			it.children = append(it.children[:i], it.children[i+1:]...)
			break
		}
	}
	it.mu.Unlock()
	f.children.Remove(ref)
}

// Children returns ref's current child list, resolving through a bounded
// recently-resolved cache before falling back to a fresh copy under the
// item's own lock.
func (f *Forest) Children(ref Ref) []Ref {
	if cached, ok := f.children.Get(ref); ok {
		return cached
	}
	it := f.ensure(ref)
	it.mu.Lock()
	out := make([]Ref, len(it.children))
	copy(out, it.children)
	it.mu.Unlock()
	f.children.Add(ref, out)
	return out
}

// NewInfo implements aggtree.Context.
func (f *Forest) NewInfo() Info {
	return Info{}
}

// Item implements aggtree.Context.
func (f *Forest) Item(ref Ref) aggtree.ItemLock[Ref, Info, Change] {
	it := f.ensure(ref)
	it.mu.Lock()
	return &itemLock{it: it, f: f}
}

// ApplyChange implements aggtree.Context.
func (f *Forest) ApplyChange(info *Info, change Change) (Change, bool) {
	info.Count += change.DeltaCount
	info.Sum += change.DeltaSum
	if change.DeltaCount == 0 && change.DeltaSum == 0 {
		return Change{}, false
	}
	return change, true
}

// InfoToAddChange implements aggtree.Context.
func (f *Forest) InfoToAddChange(info Info) (Change, bool) {
	if info.Count == 0 && info.Sum == 0 {
		return Change{}, false
	}
	return Change{DeltaCount: info.Count, DeltaSum: info.Sum}, true
}

// InfoToRemoveChange implements aggtree.Context.
func (f *Forest) InfoToRemoveChange(info Info) (Change, bool) {
	add, ok := f.InfoToAddChange(info)
	if !ok {
		return Change{}, false
	}
	return Change{DeltaCount: -add.DeltaCount, DeltaSum: -add.DeltaSum}, true
}

type itemLock struct {
	it *item
	f  *Forest
}

func (l *itemLock) Leaf() *aggtree.Leaf[Ref, Info, Change] {
	if l.it.leaf == nil {
		l.it.leaf = aggtree.NewLeaf[Ref, Info, Change](l.it.ref)
	}
	return l.it.leaf
}

// Children resolves through the forest's bounded children cache rather
// than copying l.it.children directly, so a hot ancestor queried
// repeatedly during bottom-tree construction doesn't pay a fresh slice
// copy on every lookup.
func (l *itemLock) Children() []Ref {
	if cached, ok := l.f.children.Get(l.it.ref); ok {
		return cached
	}
	out := make([]Ref, len(l.it.children))
	copy(out, l.it.children)
	l.f.children.Add(l.it.ref, out)
	return out
}

func (l *itemLock) IsBlue() bool {
	return l.it.blue
}

func (l *itemLock) AddChange() (Change, bool) {
	if l.it.value == 0 {
		return Change{}, false
	}
	return Change{DeltaCount: 1, DeltaSum: l.it.value}, true
}

func (l *itemLock) RemoveChange() (Change, bool) {
	add, ok := l.AddChange()
	if !ok {
		return Change{}, false
	}
	return Change{DeltaCount: -add.DeltaCount, DeltaSum: -add.DeltaSum}, true
}

func (l *itemLock) Unlock() {
	l.it.mu.Unlock()
}
