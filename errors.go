package aggtree

import "errors"

// Contract violations by the caller's fold functions are not represented
// as errors at all: the fold is infallible by contract, and any
// caller-domain error must be encoded inside Info/Change themselves.
var (
	// ErrUpperNotPresent names the invariant breached when an operation
	// removes an upper/follower link that isn't present. Debug builds
	// panic with it (debugAssertf in multiset.remove); release builds
	// treat the removal as a no-op.
	ErrUpperNotPresent = errors.New("aggtree: upper not present")

	// ErrCycleDetected names the invariant breached when an upper edge
	// fails to strictly increase the potential function. Debug builds
	// panic with it when a link is installed out of order (the addUpper
	// assertions in leaf.go and bottom.go); release builds accept the
	// link as given.
	ErrCycleDetected = errors.New("aggtree: cycle detected in upper graph")
)
