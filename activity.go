package aggtree

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// activityLog is a bounded ring of the most recently touched aggregation
// node keys ("bottom:<root>:<height>" / "top:<root>:<depth>"). It exists
// purely for observability and testing: a single leaf mutation deep
// inside a wide fan-out should only touch O(log N) aggregation nodes, not
// O(N), and a test needs a way to count distinct touches during a single
// propagation without the bookkeeping itself growing unbounded across a
// long-running Engine. Disabled by default (nil); enable with
// WithActivityLog.
type activityLog struct {
	cache *lru.Cache[string, time.Time]
}

func newActivityLog(size int) *activityLog {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[string, time.Time](size)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(err)
	}
	return &activityLog{cache: c}
}

func bottomKey[Ref any](root Ref, height uint) string {
	return fmt.Sprintf("bottom:%v:%d", root, height)
}

func topKey[Ref any](root Ref, depth uint) string {
	return fmt.Sprintf("top:%v:%d", root, depth)
}

func (a *activityLog) touch(key string, at time.Time) {
	if a == nil {
		return
	}
	a.cache.Add(key, at)
}

// Reset clears the trace, so a caller can measure a single operation in
// isolation from the touches its setup produced.
func (a *activityLog) Reset() {
	if a == nil {
		return
	}
	a.cache.Purge()
}

// Touched reports the keys of aggregation nodes the log has observed,
// oldest first. Intended for test assertions, not the hot path.
func (a *activityLog) Touched() []string {
	if a == nil {
		return nil
	}
	return a.cache.Keys()
}

// Len reports how many distinct node keys are currently tracked.
func (a *activityLog) Len() int {
	if a == nil {
		return 0
	}
	return a.cache.Len()
}
