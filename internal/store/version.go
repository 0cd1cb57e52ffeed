package store

// Version is one committed record for a key: (commit_ts, value or
// tombstone, size). Per key, versions are appended in strictly
// increasing commit_ts order (spec invariant I3).
type Version struct {
	CommitTS  uint64
	Value     []byte
	Tombstone bool
	SizeBytes uint64
}

// newVersion builds a value version.
func newVersion(ts uint64, value []byte) Version {
	return Version{CommitTS: ts, Value: value, SizeBytes: uint64(len(value))}
}

// newTombstone builds a deletion marker version.
func newTombstone(ts uint64) Version {
	return Version{CommitTS: ts, Tombstone: true}
}

// visibleAt returns the highest-versioned record with CommitTS <= snapshotTS,
// or ok=false if no such version exists. versions must be sorted ascending
// by CommitTS (callers hold the shard lock).
func visibleAt(versions []Version, snapshotTS uint64) (Version, bool) {
	// Versions are appended in increasing commit_ts order, so the
	// visible record is the last one not exceeding snapshotTS. Scan from
	// the tail since recent reads usually target recent snapshots.
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].CommitTS <= snapshotTS {
			return versions[i], true
		}
	}
	return Version{}, false
}

// latestCommitTS returns the commit_ts of the newest version, or 0 if empty.
func latestCommitTS(versions []Version) uint64 {
	if len(versions) == 0 {
		return 0
	}
	return versions[len(versions)-1].CommitTS
}
