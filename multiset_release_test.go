//go:build !aggtree_debug

package aggtree

import (
	"testing"
)

// With the aggtree_debug tag this same call would panic; without it the
// remove must degrade to a silent no-op.
func TestMultisetRemoveAbsent(t *testing.T) {
	m := newMultiset[int]()
	if m.remove(7) {
		t.Error("remove of an absent key must not report a transition")
	}
	if !m.empty() {
		t.Error("failed remove must not create an entry")
	}
}
