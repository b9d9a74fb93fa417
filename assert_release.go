//go:build !aggtree_debug

package aggtree

// debugAssertf is a no-op in release builds (default); see assert_debug.go.
func debugAssertf(cond bool, format string, args ...any) {}
