package aggtree_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aggtree/aggtree"
	"github.com/aggtree/aggtree/internal/forest"
)

func newEngine(f *forest.Forest, opts ...aggtree.Option[forest.Ref, forest.Info, forest.Change]) *aggtree.Engine[forest.Ref, forest.Info, forest.Change] {
	return aggtree.New[forest.Ref, forest.Info, forest.Change](f, opts...)
}

func add(n int64) forest.Change {
	return forest.Change{DeltaSum: n}
}

// link establishes parent/child in the raw forest and reports it to the
// engine in the same step. Edges must be linked deepest-first when
// building a multi-level subtree in one go, since a parent's
// subtree-depth bound is only as good as its children's at the moment
// the edge is reported.
func link(f *forest.Forest, e *aggtree.Engine[forest.Ref, forest.Info, forest.Change], parent, child forest.Ref) {
	f.AddChild(parent, child)
	e.NotifyStructural(aggtree.StructuralDelta[forest.Ref]{Parent: parent, Child: child, Added: true})
}

func unlink(f *forest.Forest, e *aggtree.Engine[forest.Ref, forest.Info, forest.Change], parent, child forest.Ref) {
	f.RemoveChild(parent, child)
	e.NotifyStructural(aggtree.StructuralDelta[forest.Ref]{Parent: parent, Child: child, Added: false})
}

// TestLinearChain covers a plain root -> a -> b -> c chain: the
// aggregate at root must reflect every descendant's value, and a change
// to the deepest leaf must propagate all the way up.
func TestLinearChain(t *testing.T) {
	f := forest.New()
	f.AddItem("root", 1)
	f.AddItem("a", 2)
	f.AddItem("b", 3)
	f.AddItem("c", 4)

	e := newEngine(f)
	link(f, e, "b", "c")
	link(f, e, "a", "b")
	link(f, e, "root", "a")

	guard := e.AggregationInfo("root")
	defer guard.Close()

	info := guard.Get()
	require.Equal(t, 4, info.Count)
	require.EqualValues(t, 1+2+3+4, info.Sum)

	changed := guard.Changed()
	e.NotifyChange("c", add(10))

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("guard did not observe the change")
	}

	info = guard.Get()
	require.EqualValues(t, 1+2+3+4+10, info.Sum)
}

// TestDiamondSharedDescendant covers two distinct ancestors reaching the
// same descendant by independent paths: each ancestor's own aggregate
// must count the shared descendant, and a change to it must reach both
// independently (the "multiplicity" here is natural path duplication,
// not a doubled fold of a single edge).
func TestDiamondSharedDescendant(t *testing.T) {
	f := forest.New()
	f.AddItem("g", 0)
	f.AddItem("left", 0)
	f.AddItem("right", 0)
	f.AddItem("shared", 5)

	e := newEngine(f)
	link(f, e, "left", "shared")
	link(f, e, "right", "shared")
	link(f, e, "g", "left")
	link(f, e, "g", "right")

	gGuard := e.AggregationInfo("g")
	defer gGuard.Close()
	leftGuard := e.AggregationInfo("left")
	defer leftGuard.Close()
	rightGuard := e.AggregationInfo("right")
	defer rightGuard.Close()

	require.EqualValues(t, 5, leftGuard.Get().Sum)
	require.EqualValues(t, 5, rightGuard.Get().Sum)
	require.EqualValues(t, 10, gGuard.Get().Sum, "shared descendant is folded once per independent path reaching it, so its contribution is counted with multiplicity 2 at g")

	e.NotifyChange("shared", add(100))
	require.Eventually(t, func() bool {
		return leftGuard.Get().Sum == 105 && rightGuard.Get().Sum == 105
	}, time.Second, time.Millisecond)
}

// TestBlueBoundsAncestorFanout checks the fan-out fuse: a blue item's
// own height-0 bottom tree contains only itself, regardless of how many
// children it has, and this holds whether the item is queried directly
// or reached as a height-0 follower of an ancestor. Its children reach
// aggregators only through their own top-tree spines, never through this
// item's bottom tree.
func TestBlueBoundsAncestorFanout(t *testing.T) {
	f := forest.New()
	f.AddItem("grandparent", 0)
	f.AddItem("middle", 1)
	f.SetBlue("middle", true)

	e := newEngine(f)

	const fanout = 200
	for i := 0; i < fanout; i++ {
		child := fmt.Sprintf("leaf-%d", i)
		f.AddItem(child, 1)
		link(f, e, "middle", child)
	}
	link(f, e, "grandparent", "middle")

	middleGuard := e.AggregationInfo("middle")
	defer middleGuard.Close()
	require.EqualValues(t, 1, middleGuard.Get().Sum, "a blue item's own bottom tree at h=0 contains only itself")

	grandparentGuard := e.AggregationInfo("grandparent")
	defer grandparentGuard.Close()
	require.EqualValues(t, 1, grandparentGuard.Get().Sum, "the grandparent should see only middle's own contribution, not its 200 children")
}

// TestNonBlueAncestorSeesChildren is BlueBoundsAncestorFanout's control:
// without coloring, the same shape's grandparent aggregate includes
// every leaf.
func TestNonBlueAncestorSeesChildren(t *testing.T) {
	f := forest.New()
	f.AddItem("grandparent", 0)
	f.AddItem("middle", 1)

	e := newEngine(f)

	const fanout = 50
	for i := 0; i < fanout; i++ {
		child := fmt.Sprintf("leaf-%d", i)
		f.AddItem(child, 1)
		link(f, e, "middle", child)
	}
	link(f, e, "grandparent", "middle")

	guard := e.AggregationInfo("grandparent")
	defer guard.Close()
	require.EqualValues(t, 1+fanout, guard.Get().Sum)
}

// TestSharingAcrossConsumers checks that two guards on the same item
// reuse the same memoized bottom tree, and destroying one guard doesn't
// disturb the other's view.
func TestSharingAcrossConsumers(t *testing.T) {
	f := forest.New()
	f.AddItem("root", 1)
	f.AddItem("child", 2)

	e := newEngine(f)
	link(f, e, "root", "child")

	g1 := e.AggregationInfo("root")
	g2 := e.AggregationInfo("root")

	require.Equal(t, g1.Get(), g2.Get())

	g1.Close()
	require.EqualValues(t, 3, g2.Get().Sum)
	g2.Close()
}

// TestSharedChildAcrossParents covers two unrelated parents sharing one
// child: the child's aggregation state is shared between both parents'
// trees, and severing one parent's edge must leave the other's view
// intact.
func TestSharedChildAcrossParents(t *testing.T) {
	f := forest.New()
	f.AddItem("a", 1)
	f.AddItem("b", 2)
	f.AddItem("c", 4)

	e := newEngine(f)
	link(f, e, "a", "c")
	link(f, e, "b", "c")

	aGuard := e.AggregationInfo("a")
	defer aGuard.Close()
	bGuard := e.AggregationInfo("b")
	defer bGuard.Close()

	require.EqualValues(t, 1+4, aGuard.Get().Sum)
	require.EqualValues(t, 2+4, bGuard.Get().Sum)

	unlink(f, e, "a", "c")
	require.EqualValues(t, 1, aGuard.Get().Sum)
	require.EqualValues(t, 2+4, bGuard.Get().Sum, "b's hold on the shared child must survive a losing its edge")

	e.NotifyChange("c", add(10))
	require.EqualValues(t, 2+14, bGuard.Get().Sum)
	require.EqualValues(t, 1, aGuard.Get().Sum, "a no longer aggregates c and must not observe its changes")
}

// TestNotifyColorChanged flips an item's coloring while guards are live
// on both the item and its parent: the item's height-0 bottom tree is
// rebuilt under the new policy and both views move accordingly.
func TestNotifyColorChanged(t *testing.T) {
	f := forest.New()
	f.AddItem("parent", 1)
	f.AddItem("mid", 2)
	f.AddItem("c1", 4)
	f.AddItem("c2", 8)

	e := newEngine(f)
	link(f, e, "mid", "c1")
	link(f, e, "mid", "c2")
	link(f, e, "parent", "mid")

	parentGuard := e.AggregationInfo("parent")
	defer parentGuard.Close()
	midGuard := e.AggregationInfo("mid")
	defer midGuard.Close()

	require.EqualValues(t, 1+2+4+8, parentGuard.Get().Sum)
	require.EqualValues(t, 2+4+8, midGuard.Get().Sum)

	f.SetBlue("mid", true)
	e.NotifyColorChanged("mid")

	require.EqualValues(t, 1+2, parentGuard.Get().Sum, "a blue mid contributes only itself to its parent")
	require.EqualValues(t, 2, midGuard.Get().Sum)

	f.SetBlue("mid", false)
	e.NotifyColorChanged("mid")

	require.EqualValues(t, 1+2+4+8, parentGuard.Get().Sum)
	require.EqualValues(t, 2+4+8, midGuard.Get().Sum)
}

// TestStructuralAddRemove exercises NotifyStructural directly: adding a
// child must be reflected immediately, and removing it must retract its
// contribution.
func TestStructuralAddRemove(t *testing.T) {
	f := forest.New()
	f.AddItem("root", 0)
	f.AddItem("a", 3)

	e := newEngine(f)
	link(f, e, "root", "a")

	guard := e.AggregationInfo("root")
	defer guard.Close()
	require.EqualValues(t, 3, guard.Get().Sum)

	f.AddItem("b", 7)
	link(f, e, "root", "b")
	require.EqualValues(t, 10, guard.Get().Sum)

	unlink(f, e, "root", "a")
	require.EqualValues(t, 7, guard.Get().Sum)
}

// TestConcurrentChurn applies a burst of concurrent NotifyChange calls
// across disjoint leaves of a wide tree and checks the root's aggregate
// converges to the expected total once every call has returned.
func TestConcurrentChurn(t *testing.T) {
	f := forest.New()
	f.AddItem("root", 0)

	e := newEngine(f)

	const leafCount = 64
	var total int64
	for i := 0; i < leafCount; i++ {
		ref := fmt.Sprintf("leaf-%d", i)
		f.AddItem(ref, int64(i))
		link(f, e, "root", ref)
		total += int64(i)
	}

	guard := e.AggregationInfo("root")
	defer guard.Close()
	require.EqualValues(t, total, guard.Get().Sum)

	var wg sync.WaitGroup
	for i := 0; i < leafCount; i++ {
		ref := fmt.Sprintf("leaf-%d", i)
		wg.Add(1)
		go func(ref forest.Ref) {
			defer wg.Done()
			e.NotifyChange(ref, add(1))
		}(ref)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return guard.Get().Sum == total+leafCount
	}, time.Second, time.Millisecond)
}

// TestGuardCloseReleasesSpine checks that closing the last guard on an
// item lets its top spine collapse without panicking on subsequent
// access, and that a fresh guard still sees a correct aggregate
// afterward.
func TestGuardCloseReleasesSpine(t *testing.T) {
	f := forest.New()
	f.AddItem("root", 1)
	f.AddItem("child", 2)

	e := newEngine(f)
	link(f, e, "root", "child")

	g := e.AggregationInfo("root")
	require.EqualValues(t, 3, g.Get().Sum)
	g.Close()
	g.Close() // double Close must be a no-op, not a double-release panic

	g2 := e.AggregationInfo("root")
	defer g2.Close()
	require.EqualValues(t, 3, g2.Get().Sum)
}

// TestActivityLogBoundsTouches exercises the activity trace: a single
// leaf mutation deep in a tall, narrow tree must touch a number of
// aggregation nodes proportional to the tree's depth, not its width.
func TestActivityLogBoundsTouches(t *testing.T) {
	f := forest.New()
	const depth = 6
	const fanout = 20

	f.AddItem("root", 0)

	// Build every level's items first, then link deepest-first so each
	// parent's subtree-depth bound reflects the full chain below it by
	// the time its own edge is reported.
	type levelEdge struct{ parent, child forest.Ref }
	var edges []levelEdge
	parent := "root"
	for d := 0; d < depth; d++ {
		var next forest.Ref
		for i := 0; i < fanout; i++ {
			child := fmt.Sprintf("%s/%d", parent, i)
			f.AddItem(child, 1)
			edges = append(edges, levelEdge{parent, child})
			if i == 0 {
				next = child
			}
		}
		parent = next
	}
	targetLeaf := parent

	e := newEngine(f, aggtree.WithActivityLog[forest.Ref, forest.Info, forest.Change](1024))
	for i := len(edges) - 1; i >= 0; i-- {
		link(f, e, edges[i].parent, edges[i].child)
	}

	guard := e.AggregationInfo("root")
	defer guard.Close()
	require.EqualValues(t, depth*fanout, guard.Get().Count)

	// Construction itself touches every node it builds; clear that out so
	// only the single propagation below is measured.
	e.Activity().Reset()
	e.NotifyChange(targetLeaf, add(1))

	touched := e.Activity().Len()
	require.Less(t, touched, fanout, "touching one deep leaf should not visit anywhere near a full level's fanout of nodes")
}
