package aggtree

import "fmt"

type potentialKind uint8

const (
	potentialBottom potentialKind = iota
	potentialTop
)

// potential is a (kind, height-or-depth, root-item-identity) tuple that
// orders the aggregation graph: every edge goes from a lower potential
// to a strictly higher one, so locking hand-over-hand in the direction
// of increasing potential (never locking a follower while already
// holding its upper) can't cycle. The discipline is enforced
// structurally by always releasing a node's lock before touching an
// upper (see bottomNode.receiveChange, Leaf.addUpper); debug builds
// additionally assert it via below whenever a link is installed,
// panicking with ErrCycleDetected. The String form gives log lines a
// stable description of "which node is this" for tracing a propagation
// path.
type potential struct {
	kind  potentialKind
	level uint
	root  any
}

// below reports whether q is a valid upper for p. Bottom trees feed
// bottom trees exactly one height above, or hand off into the top
// spine; the spine links one depth at a time; nothing ever flows out of
// the spine back into bottom trees.
func (p potential) below(q potential) bool {
	if p.kind != q.kind {
		return p.kind == potentialBottom
	}
	return q.level == p.level+1
}

func bottomPotential[Ref comparable](root Ref, height uint) potential {
	return potential{kind: potentialBottom, level: height, root: root}
}

func topPotential[Ref comparable](root Ref, depth uint) potential {
	return potential{kind: potentialTop, level: depth, root: root}
}

func (p potential) String() string {
	kind := "bottom"
	if p.kind == potentialTop {
		kind = "top"
	}
	return fmt.Sprintf("%s(%v,%d)", kind, p.root, p.level)
}
