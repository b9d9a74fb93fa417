package benchmark

import (
	"fmt"

	"github.com/aggtree/aggtree"
	"github.com/aggtree/aggtree/internal/forest"
)

// Fixture is a synthetic balanced N-ary forest wired to an Engine, used
// as the common setup for every sub-benchmark.
type Fixture struct {
	Forest *forest.Forest
	Engine *aggtree.Engine[forest.Ref, forest.Info, forest.Change]
	Root   forest.Ref

	leaves      []forest.Ref
	leafParents []forest.Ref
}

type fixtureEdge struct{ parent, child forest.Ref }

// NewFixture builds a balanced tree of the given fanout and depth below
// a single root. When blue is true, every non-leaf item is marked blue,
// exercising the fan-out fuse instead of direct child expansion.
func NewFixture(fanout, depth int, blue bool) *Fixture {
	f := forest.New()
	fx := &Fixture{Forest: f, Root: "root"}

	f.AddItem(fx.Root, 0)
	f.SetBlue(fx.Root, blue)
	var edges []fixtureEdge
	frontier := []forest.Ref{fx.Root}
	for level := 0; level < depth; level++ {
		var next []forest.Ref
		leafLevel := level == depth-1
		for _, parent := range frontier {
			for i := 0; i < fanout; i++ {
				child := fmt.Sprintf("%s/%d", parent, i)
				f.AddItem(child, 1)
				edges = append(edges, fixtureEdge{parent, child})
				if leafLevel {
					fx.leaves = append(fx.leaves, child)
					fx.leafParents = append(fx.leafParents, parent)
				} else {
					f.SetBlue(child, blue)
					next = append(next, child)
				}
			}
		}
		frontier = next
	}

	fx.Engine = aggtree.New[forest.Ref, forest.Info, forest.Change](f)
	// Edges were discovered level by level from the root down; reporting
	// them to the engine in reverse replays them deepest-first, so each
	// parent's subtree-depth bound is accurate by the time it is set.
	for i := len(edges) - 1; i >= 0; i-- {
		e := edges[i]
		fx.Engine.NotifyStructural(structuralAdd(e.parent, e.child))
	}
	return fx
}

// LeafRefs returns every leaf-level item ref.
func (fx *Fixture) LeafRefs() []forest.Ref {
	return fx.leaves
}

// LeafParents returns, parallel to LeafRefs, each leaf's immediate
// parent ref.
func (fx *Fixture) LeafParents() []forest.Ref {
	return fx.leafParents
}

// Delta builds a Change that adds n to a leaf's value.
func (fx *Fixture) Delta(n int64) forest.Change {
	return forest.Change{DeltaCount: 0, DeltaSum: n}
}

func structuralAdd(parent, child forest.Ref) aggtree.StructuralDelta[forest.Ref] {
	return aggtree.StructuralDelta[forest.Ref]{Parent: parent, Child: child, Added: true}
}

func structuralRemove(parent, child forest.Ref) aggtree.StructuralDelta[forest.Ref] {
	return aggtree.StructuralDelta[forest.Ref]{Parent: parent, Child: child, Added: false}
}
