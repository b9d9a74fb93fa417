//go:build aggtree_debug

package aggtree

import "fmt"

// debugAssertf panics with the formatted message when cond is false.
// Built with the aggtree_debug tag, invariant breaches (e.g. "removing
// an upper that isn't present") are fatal, mirroring a radix-tree
// implementation's unconditional panic on replacing a missing edge.
// Without the tag (the default, see assert_release.go) the same call
// site is a silent no-op and the structure remains consistent.
func debugAssertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
