package scheduler

import "hash/fnv"

// shardIndexFNV hashes data with FNV-1a, used by owner sharding.
func shardIndexFNV(data []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(data)
	return h.Sum32()
}
