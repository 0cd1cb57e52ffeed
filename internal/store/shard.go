package store

import (
	"hash/fnv"
	"sort"
	"sync"
)

// shard is one slice of the sharded concurrent map. Readers take the
// read lock; committers take the write lock only on the shards touched
// by their write set.
type shard struct {
	mu       sync.RWMutex
	versions map[string][]Version
}

func newShard() *shard {
	return &shard{versions: make(map[string][]Version)}
}

// shardIndex hashes key to a shard slot using FNV-1a, the same hash the
// scheduler's owner sharding uses.
func shardIndex(key []byte, numShards uint32) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return h.Sum32() % numShards
}

// sortedKeysLocked returns the shard's keys ordered by byte value, for
// range scans (spec §3: keys are ordered by byte value). Caller must hold
// s.mu.
func (s *shard) sortedKeysLocked() []string {
	keys := make([]string, 0, len(s.versions))
	for k := range s.versions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
