package aggtree

import (
	"testing"
)

func TestMultisetTransitions(t *testing.T) {
	m := newMultiset[string]()

	if !m.add("a") {
		t.Error("first add should report the 0->1 transition")
	}
	if m.add("a") {
		t.Error("second add should not report a transition")
	}
	if got := m.count("a"); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}

	if m.remove("a") {
		t.Error("removing one of two references should not report 1->0")
	}
	if !m.remove("a") {
		t.Error("removing the last reference should report 1->0")
	}
	if !m.empty() {
		t.Error("multiset should be empty after balanced add/remove")
	}
	if m.count("a") != 0 {
		t.Errorf("count after removal = %d, want 0", m.count("a"))
	}
}

func TestMultisetKeysDistinct(t *testing.T) {
	m := newMultiset[string]()
	m.add("x")
	m.add("x")
	m.add("y")

	keys := m.keys()
	if len(keys) != 2 {
		t.Errorf("keys() returned %d entries, want 2 distinct", len(keys))
	}
}
