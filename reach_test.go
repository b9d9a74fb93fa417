package aggtree

import (
	"testing"
)

func TestReachHeightDuality(t *testing.T) {
	for hops := uint(0); hops < 16; hops++ {
		h := heightForReach(hops)
		if reach(h) < hops && hops > 0 {
			t.Errorf("heightForReach(%d) = %d, but reach(%d) = %d does not cover it", hops, h, h, reach(h))
		}
		if hops > 1 && h > 0 && reach(h-1) >= hops {
			t.Errorf("heightForReach(%d) = %d is not minimal", hops, h)
		}
	}
}

func TestReachGrowsByOneHopPerHeight(t *testing.T) {
	for h := uint(0); h < 8; h++ {
		if reach(h+1) != reach(h)+1 {
			t.Errorf("reach(%d) = %d, reach(%d) = %d; want one additional hop per height", h, reach(h), h+1, reach(h+1))
		}
	}
}
