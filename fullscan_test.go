package aggtree_test

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"

	"github.com/aggtree/aggtree"
	"github.com/aggtree/aggtree/internal/forest"
)

// referenceFold independently recomputes ref's aggregate by walking the
// forest directly rather than through any memoized aggregation node,
// serving as the oracle S5 compares the Engine's live view against. It
// mirrors the core's own fold semantics exactly: self plus the
// recursive fold of every distinct child (a duplicate multi-edge to the
// same child contributes once, matching the engine's edge-multiset
// gating), while a descendant shared through distinct intermediate
// parents is counted once per path, the multiplicity the core's
// multiset-based uppers preserve.
func referenceFold(f *forest.Forest, ref forest.Ref) forest.Info {
	lock := f.Item(ref)
	add, ok := lock.AddChange()
	children := lock.Children()
	lock.Unlock()

	info := forest.Info{}
	if ok {
		info.Count += add.DeltaCount
		info.Sum += add.DeltaSum
	}
	seen := make(map[forest.Ref]struct{}, len(children))
	for _, child := range children {
		if _, dup := seen[child]; dup {
			continue
		}
		seen[child] = struct{}{}
		c := referenceFold(f, child)
		info.Count += c.Count
		info.Sum += c.Sum
	}
	return info
}

// buildLayeredForest constructs depth layers of width items each, where
// every item below the first layer picks parentsPerItem parents at
// random from the layer above it (with replacement across items, so the
// same parent can gain several children and, when two items of one
// layer share a parent in common two layers up, a genuine diamond
// results). Returns every item ref, layer by layer, root layer first.
func buildLayeredForest(f *forest.Forest, rng *rand.Rand, depth, width, parentsPerItem int) [][]forest.Ref {
	layers := make([][]forest.Ref, depth)
	for d := 0; d < depth; d++ {
		layer := make([]forest.Ref, width)
		for i := 0; i < width; i++ {
			ref := fmt.Sprintf("L%d/%d", d, i)
			f.AddItem(ref, int64(1+rng.Intn(5)))
			layer[i] = ref
		}
		layers[d] = layer
	}

	// Link deepest-first: an edge report requires the child's
	// subtree-depth bound to already be correct, so layer d+1 (closer to
	// the leaves) must be wired before layer d.
	type edge struct{ parent, child forest.Ref }
	var edgesByLayer [][]edge
	for d := 0; d < depth-1; d++ {
		var edges []edge
		for _, child := range layers[d+1] {
			for p := 0; p < parentsPerItem; p++ {
				parent := layers[d][rng.Intn(width)]
				edges = append(edges, edge{parent, child})
			}
		}
		edgesByLayer = append(edgesByLayer, edges)
	}

	for d := len(edgesByLayer) - 1; d >= 0; d-- {
		for _, e := range edgesByLayer[d] {
			f.AddChild(e.parent, e.child)
		}
	}
	return layers
}

// TestConcurrentChurnAgainstFullScan is the S5 oracle: a burst of
// concurrent NotifyChange calls across a random layered forest, checked
// after quiescence against an independent full-scan reference fold of
// every layer-0 root. Every divergence found is accumulated rather than
// aborting the comparison at the first one, since a single shared bug
// is likely to surface at several roots at once and seeing all of them
// is more diagnostic than seeing only the first.
func TestConcurrentChurnAgainstFullScan(t *testing.T) {
	f := forest.New()
	rng := rand.New(rand.NewSource(1))

	const depth = 4
	const width = 12
	layers := buildLayeredForest(f, rng, depth, width, 2)

	e := aggtree.New[forest.Ref, forest.Info, forest.Change](f)
	// Report edges deepest layer first, mirroring buildLayeredForest's
	// own wiring order, so each parent's subtree-depth bound is accurate
	// by the time its own edges are reported.
	for d := depth - 2; d >= 0; d-- {
		for _, parent := range layers[d] {
			for _, child := range f.Children(parent) {
				e.NotifyStructural(aggtree.StructuralDelta[forest.Ref]{Parent: parent, Child: child, Added: true})
			}
		}
	}

	roots := layers[0]
	guards := make([]*aggtree.InfoGuard[forest.Ref, forest.Info, forest.Change], len(roots))
	for i, root := range roots {
		guards[i] = e.AggregationInfo(root)
	}
	defer func() {
		for _, g := range guards {
			g.Close()
		}
	}()

	leaves := layers[depth-1]
	var wg sync.WaitGroup
	for i := 0; i < 8*len(leaves); i++ {
		leaf := leaves[rng.Intn(len(leaves))]
		delta := int64(1 + rng.Intn(10))
		wg.Add(1)
		go func(leaf forest.Ref, delta int64) {
			defer wg.Done()
			e.NotifyChange(leaf, f.Bump(leaf, delta))
		}(leaf, delta)
	}
	wg.Wait()

	var result *multierror.Error
	for i, root := range roots {
		got := guards[i].Get()
		want := referenceFold(f, root)
		if got != want {
			result = multierror.Append(result, fmt.Errorf("root %s: engine = %+v, reference fold = %+v", root, got, want))
		}
	}
	if result != nil {
		t.Fatal(result)
	}
}
