package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHotKeyTrackerPromotesOnThreshold(t *testing.T) {
	h := newHotKeyTracker(3, 5, time.Hour, 0.5, 16)

	var last hotness
	for i := 0; i < 5; i++ {
		last = h.touch([]byte("k"))
	}
	assert.Equal(t, hotnessHigh, last)
	assert.True(t, h.isHot([]byte("k")))
}

func TestHotKeyTrackerDecaysOverTime(t *testing.T) {
	h := newHotKeyTracker(3, 5, time.Millisecond, 0.1, 16)
	for i := 0; i < 5; i++ {
		h.touch([]byte("k"))
	}
	time.Sleep(5 * time.Millisecond)
	h.touch([]byte("other"))

	h.mu.Lock()
	count := h.freq["k"]
	h.mu.Unlock()
	assert.Less(t, count, uint64(5))
}

func TestOwnerShardIsStableForSameOwner(t *testing.T) {
	a := ownerShard([]byte("owner-1"), 8)
	b := ownerShard([]byte("owner-1"), 8)
	assert.Equal(t, a, b)
}
