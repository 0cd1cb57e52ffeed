// Package store implements VersionedStore: an append-only multi-version
// key/value mapping with per-key write conflict detection, snapshot
// reads and optimistic commit. See spec §4.1.
package store

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/txnvm/core/pkg/log"
	"github.com/txnvm/core/pkg/txnerr"
)

// Config configures a Store at construction time.
type Config struct {
	// NumShards must be a power of two; default 16.
	NumShards uint32
}

func (c Config) validate() error {
	if c.NumShards == 0 {
		return nil // defaulted by New
	}
	if c.NumShards&(c.NumShards-1) != 0 {
		return fmt.Errorf("%w: num_shards must be a power of two, got %d", txnerr.ErrConfiguration, c.NumShards)
	}
	return nil
}

// Store is the single source of truth for committed state: a sharded
// concurrent map protecting each shard with a reader-writer lock, plus a
// monotonic timestamp oracle.
type Store struct {
	shards    []*shard
	numShards uint32
	clock     atomic.Uint64
	logger    zerolog.Logger

	commits    atomic.Uint64
	conflicts  atomic.Uint64
	readOnlys  atomic.Uint64
}

// New constructs a Store per cfg, defaulting NumShards to 16.
func New(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := cfg.NumShards
	if n == 0 {
		n = 16
	}
	s := &Store{
		shards:    make([]*shard, n),
		numShards: n,
		logger:    log.WithComponent("mvcc-store"),
	}
	for i := range s.shards {
		s.shards[i] = newShard()
	}
	return s, nil
}

// shardFor returns the shard owning key.
func (s *Store) shardFor(key []byte) *shard {
	return s.shards[shardIndex(key, s.numShards)]
}

// allocTS atomically allocates the next timestamp, guaranteeing strictly
// increasing values across the process lifetime.
func (s *Store) allocTS() uint64 {
	return s.clock.Add(1)
}

// Begin allocates start_ts and returns a writable transaction.
func (s *Store) Begin() *Txn {
	return &Txn{
		startTS: s.allocTS(),
		store:   s,
		reads:   make(map[string]uint64),
		writes:  make(map[string]Version),
	}
}

// BeginReadOnly returns a transaction whose Commit is a no-op.
func (s *Store) BeginReadOnly() *Txn {
	t := s.Begin()
	t.readOnly = true
	return t
}

// ReadAt returns the value visible at snapshotTS, or ok=false if no
// version exists at or before snapshotTS, or the visible version is a
// tombstone.
func (s *Store) ReadAt(key []byte, snapshotTS uint64) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	v, ok := visibleAt(sh.versions[string(key)], snapshotTS)
	if !ok || v.Tombstone {
		return nil, false
	}
	return v.Value, true
}

// Commit validates and applies txn's write set. Read-only transactions
// commit as a no-op returning start_ts. The shards owning the written keys
// are write-locked once each, in ascending shard-index order, to avoid
// deadlock between concurrent committers that share shards.
func (s *Store) Commit(txn *Txn) (uint64, error) {
	if txn.readOnly {
		return txn.startTS, nil
	}
	if len(txn.writes) == 0 {
		// Empty write set still allocates a commit_ts (spec boundary behavior).
		ts := s.allocTS()
		s.commits.Add(1)
		return ts, nil
	}

	keys := make([]string, 0, len(txn.writes))
	for k := range txn.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Acquire shard write-locks in ascending shard-index order, once per
	// distinct shard, to bound lock acquisition and avoid deadlock.
	shardSet := map[uint32]*shard{}
	for _, k := range keys {
		idx := shardIndex([]byte(k), s.numShards)
		shardSet[idx] = s.shards[idx]
	}
	idxs := make([]uint32, 0, len(shardSet))
	for idx := range shardSet {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	for _, idx := range idxs {
		shardSet[idx].mu.Lock()
		defer shardSet[idx].mu.Unlock()
	}

	// Conflict check: for every written key, the newest commit_ts on
	// that key must not exceed txn.startTS.
	for _, k := range keys {
		sh := s.shards[shardIndex([]byte(k), s.numShards)]
		newest := latestCommitTS(sh.versions[k])
		if newest > txn.startTS {
			s.conflicts.Add(1)
			return 0, &txnerr.ConflictError{Key: []byte(k), StartTS: txn.startTS, ConflictingTS: newest}
		}
	}

	commitTS := s.allocTS()
	for _, k := range keys {
		sh := s.shards[shardIndex([]byte(k), s.numShards)]
		v := txn.writes[k]
		v.CommitTS = commitTS
		sh.versions[k] = append(sh.versions[k], v)
	}

	s.commits.Add(1)
	s.logger.Debug().Uint64("commit_ts", commitTS).Int("keys", len(keys)).Msg("committed")
	return commitTS, nil
}

// Now returns the current timestamp oracle value without allocating.
func (s *Store) Now() uint64 { return s.clock.Load() }

// Stats summarizes store-wide counters for GC/flush/tuning consumers.
type Stats struct {
	TotalVersions  int
	TotalKeys      int
	CurrentTS      uint64
	Commits        uint64
	Conflicts      uint64
	PerShardCounts []int
}

// Stats returns a point-in-time snapshot of store size and activity.
func (s *Store) Stats() Stats {
	st := Stats{CurrentTS: s.Now(), Commits: s.commits.Load(), Conflicts: s.conflicts.Load()}
	st.PerShardCounts = make([]int, len(s.shards))
	for i, sh := range s.shards {
		sh.mu.RLock()
		st.PerShardCounts[i] = len(sh.versions)
		st.TotalKeys += len(sh.versions)
		for _, vs := range sh.versions {
			st.TotalVersions += len(vs)
		}
		sh.mu.RUnlock()
	}
	return st
}

// ForEachKey iterates every key with its current version list, shard by
// shard, taking each shard's read lock in turn. fn must not mutate the
// slice it receives. Used by the auto-flush worker and by tests; never
// called on a hot commit path.
func (s *Store) ForEachKey(fn func(key []byte, versions []Version)) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		keys := sh.sortedKeysLocked()
		// Snapshot version slices while holding the lock so fn can run
		// without it; slices are append-only so this is safe to share.
		snap := make(map[string][]Version, len(keys))
		for _, k := range keys {
			snap[k] = sh.versions[k]
		}
		sh.mu.RUnlock()

		for _, k := range keys {
			fn([]byte(k), snap[k])
		}
	}
}

// ReadRange performs an ordered scan over [startKey, endKey) at snapshotTS,
// invoking fn for each visible, non-tombstoned key until fn returns false.
func (s *Store) ReadRange(startKey, endKey []byte, snapshotTS uint64, fn func(key, value []byte) bool) {
	type kv struct {
		key string
		val []byte
	}
	var results []kv
	s.ForEachKey(func(key []byte, versions []Version) {
		ks := string(key)
		if ks < string(startKey) || (endKey != nil && ks >= string(endKey)) {
			return
		}
		v, ok := visibleAt(versions, snapshotTS)
		if !ok || v.Tombstone {
			return
		}
		results = append(results, kv{key: ks, val: v.Value})
	})
	sort.Slice(results, func(i, j int) bool { return results[i].key < results[j].key })
	for _, r := range results {
		if !fn([]byte(r.key), r.val) {
			return
		}
	}
}

// PruneConfig bounds one GC sweep: retain at most MaxVersionsPerKey
// versions per key (evicting oldest first), and if TTLEnabled, also drop
// versions older than TTLSeconds — except the newest version of a key is
// never pruned unless it is a tombstone older than the TTL, in which case
// the whole key entry is removed (spec §4.1 GC interaction).
type PruneConfig struct {
	MaxVersionsPerKey int
	TTLEnabled        bool
	TTLSeconds        uint64
	NowTS             uint64 // logical "now" in timestamp units for TTL comparison
}

// PruneResult reports what one GC sweep did.
type PruneResult struct {
	KeysVisited     int
	VersionsPruned  int
	KeysRemoved     int
}

// RunGC performs one GC sweep, shard by shard, under each shard's write
// lock, to bound stalls to one shard at a time.
func (s *Store) RunGC(cfg PruneConfig) PruneResult {
	var result PruneResult
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, versions := range sh.versions {
			result.KeysVisited++
			pruned, removed, kept := pruneVersions(versions, cfg)
			result.VersionsPruned += pruned
			if removed {
				delete(sh.versions, k)
				result.KeysRemoved++
			} else if pruned > 0 {
				sh.versions[k] = kept
			}
		}
		sh.mu.Unlock()
	}
	if result.VersionsPruned > 0 || result.KeysRemoved > 0 {
		s.logger.Info().Int("versions_pruned", result.VersionsPruned).Int("keys_removed", result.KeysRemoved).Msg("gc sweep complete")
	}
	return result
}

// pruneVersions applies cfg to one key's version list. It never removes
// the newest non-tombstone version. If the newest version is a tombstone
// older than the TTL, the whole entry is reported removed.
func pruneVersions(versions []Version, cfg PruneConfig) (pruned int, removed bool, kept []Version) {
	if len(versions) == 0 {
		return 0, false, versions
	}

	newest := versions[len(versions)-1]
	if cfg.TTLEnabled && newest.Tombstone && cfg.NowTS > newest.CommitTS && cfg.NowTS-newest.CommitTS > cfg.TTLSeconds {
		return len(versions), true, nil
	}

	work := versions
	// Version cap: evict oldest until at or under the cap, but never the
	// sole remaining (newest) version.
	if cfg.MaxVersionsPerKey > 0 && len(work) > cfg.MaxVersionsPerKey {
		evict := len(work) - cfg.MaxVersionsPerKey
		work = append([]Version(nil), work[evict:]...)
		pruned += evict
	}

	// Time-based GC: drop versions older than TTL, but never the newest.
	if cfg.TTLEnabled {
		cut := 0
		for cut < len(work)-1 {
			v := work[cut]
			if cfg.NowTS > v.CommitTS && cfg.NowTS-v.CommitTS > cfg.TTLSeconds {
				cut++
				continue
			}
			break
		}
		if cut > 0 {
			pruned += cut
			work = append([]Version(nil), work[cut:]...)
		}
	}

	return pruned, false, work
}
