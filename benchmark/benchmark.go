// Package benchmark measures propagation latency and allocations for the
// aggtree Engine over synthetic forests. A
// named configuration (Profile) drives several sub-benchmarks, each
// independently filterable by -test.bench / profile.Tests suffix
// matching.
package benchmark

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

// Profile configures a single fixture shape to benchmark.
type Profile struct {
	// Name labels the profile's top-level sub-benchmark.
	Name string
	// Fanout is the number of children per non-leaf item.
	Fanout int
	// Depth is the number of levels below the root.
	Depth int
	// Blue marks every non-leaf item as blue, exercising the fan-out
	// fuse instead of ordinary expansion.
	Blue bool
	Tests []string
	Seed  int64
}

func runTest(b *testing.B, profile Profile, name string, fn func(b *testing.B, fx *Fixture, rng *rand.Rand)) {
	fullName := b.Name() + "/" + name
	shouldRun := len(profile.Tests) == 0
	for _, suffix := range profile.Tests {
		if strings.HasSuffix(fullName, suffix) {
			shouldRun = true
			break
		}
	}
	if !shouldRun {
		return
	}
	b.Run(name, func(b *testing.B) {
		b.ReportAllocs()
		rng := rand.New(rand.NewSource(profile.Seed))
		fx := NewFixture(profile.Fanout, profile.Depth, profile.Blue)
		b.ResetTimer()
		fn(b, fx, rng)
	})
}

// Run executes every sub-benchmark of profile.
func Run(b *testing.B, profile Profile) {
	b.Run(profile.Name, func(b *testing.B) {
		runTest(b, profile, "NotifyChange/Leaf", func(b *testing.B, fx *Fixture, rng *rand.Rand) {
			leaves := fx.LeafRefs()
			for i := 0; i < b.N; i++ {
				ref := leaves[rng.Intn(len(leaves))]
				fx.Engine.NotifyChange(ref, fx.Delta(1))
			}
		})
		runTest(b, profile, "AggregationInfo/Root", func(b *testing.B, fx *Fixture, rng *rand.Rand) {
			for i := 0; i < b.N; i++ {
				guard := fx.Engine.AggregationInfo(fx.Root)
				guard.Get()
				guard.Close()
			}
		})
		runTest(b, profile, "NotifyStructural/AddRemoveLeaf", func(b *testing.B, fx *Fixture, rng *rand.Rand) {
			parents := fx.LeafParents()
			for i := 0; i < b.N; i++ {
				parent := parents[rng.Intn(len(parents))]
				child := fmt.Sprintf("churn-%d", i)
				fx.Forest.AddItem(child, 1)
				fx.Engine.NotifyStructural(structuralAdd(parent, child))
				fx.Engine.NotifyStructural(structuralRemove(parent, child))
			}
		})
	})
}
