package aggtree

import "golang.org/x/exp/constraints"

// reach returns the number of child hops a bottom tree of the given
// height fully aggregates. Construction is by direct-child recursion
// (§4.2): a height-h node folds itself plus its children's height-(h-1)
// trees, so each additional height only extends coverage by the one hop
// to the next generation of children, not by doubling it. reach(height)
// is therefore height+1, not an exponential function of height; the
// "2^height" framing sometimes used informally for this structure
// describes the typical node *count* a bushy subtree of that many hops
// holds, not the hop distance itself. Generic over any unsigned integer
// so callers can use whatever width they already have in hand without a
// cast at every call site, the same role golang.org/x/exp/constraints
// plays for a consensus client's block number type parameters elsewhere
// in the ecosystem.
func reach[N constraints.Unsigned](height N) N {
	return height + 1
}

// heightForReach returns the smallest height whose reach covers at least
// n hops, the dual of reach: used by ensureTopReach to decide how deep
// the top spine must extend before a guard reads its deepest link. Since
// reach is height+1, this is just n-1 (clamped at zero).
func heightForReach[N constraints.Unsigned](n N) N {
	if n == 0 {
		return 0
	}
	return n - 1
}
