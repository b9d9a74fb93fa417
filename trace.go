package aggtree

import uuid "github.com/hashicorp/go-uuid"

// newTraceID mints a correlation id for a single propagation call (one
// NotifyChange or NotifyStructural invocation and everything it triggers
// hand-over-hand up the tree). It is threaded through log fields only; it
// has no bearing on correctness and is never compared or stored by the
// structure itself. Falls back to a fixed placeholder if the platform
// entropy source is unavailable, since tracing must never be allowed to
// fail a propagation step.
func newTraceID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "untraced"
	}
	return id
}
