package scheduler

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// hotKeyTracker maintains an LFU-style per-key frequency counter with
// periodic exponential decay, plus a bounded LRU membership cache
// recording which keys have reached the medium or high threshold
// (queried through isHot). Dispatch decisions use the hotness returned by
// touch, which comes from the frequency counter alone; eviction from the
// LRU does not change how a key is dispatched.
type hotKeyTracker struct {
	mu        sync.Mutex
	freq      map[string]uint64
	lastDecay time.Time

	decayPeriod time.Duration
	decayFactor float64

	mediumThreshold uint64
	highThreshold   uint64

	hotCache *lru.Cache[string, struct{}]
}

func newHotKeyTracker(mediumThreshold, highThreshold uint64, decayPeriod time.Duration, decayFactor float64, cacheSize int) *hotKeyTracker {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, _ := lru.New[string, struct{}](cacheSize)
	return &hotKeyTracker{
		freq:            make(map[string]uint64),
		lastDecay:       time.Now(),
		decayPeriod:     decayPeriod,
		decayFactor:     decayFactor,
		mediumThreshold: mediumThreshold,
		highThreshold:   highThreshold,
		hotCache:        cache,
	}
}

// hotness classifies a key's current temperature after recording one
// access.
type hotness int

const (
	hotnessNormal hotness = iota
	hotnessMedium
	hotnessHigh
)

// touch records one access to key and returns its resulting hotness.
func (h *hotKeyTracker) touch(key []byte) hotness {
	ks := string(key)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.maybeDecayLocked()
	h.freq[ks]++
	count := h.freq[ks]

	switch {
	case h.highThreshold > 0 && count >= h.highThreshold:
		h.hotCache.Add(ks, struct{}{})
		return hotnessHigh
	case h.mediumThreshold > 0 && count >= h.mediumThreshold:
		h.hotCache.Add(ks, struct{}{})
		return hotnessMedium
	default:
		return hotnessNormal
	}
}

// isHot reports whether key is currently in the hot-bucket membership
// cache, without recording a new access.
func (h *hotKeyTracker) isHot(key []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.hotCache.Get(string(key))
	return ok
}

// maybeDecayLocked applies exponential decay to every tracked key's
// counter once per decayPeriod. Caller must hold h.mu.
func (h *hotKeyTracker) maybeDecayLocked() {
	if h.decayPeriod <= 0 {
		return
	}
	if time.Since(h.lastDecay) < h.decayPeriod {
		return
	}
	for k, v := range h.freq {
		decayed := uint64(float64(v) * h.decayFactor)
		if decayed == 0 {
			delete(h.freq, k)
		} else {
			h.freq[k] = decayed
		}
	}
	h.lastDecay = time.Now()
}

// ownerShard hashes an owner address to one of numShards worker queues,
// giving single-writer-per-shard serialization without cross-shard
// locking (spec.md §4.3 owner sharding).
func ownerShard(owner []byte, numShards int) int {
	if numShards <= 0 {
		numShards = 1
	}
	idx := shardIndexFNV(owner) % uint32(numShards)
	return int(idx)
}
