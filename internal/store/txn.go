package store

import "github.com/txnvm/core/pkg/txnerr"

// Txn is a handle to one MVCC transaction: a consistent snapshot at
// start_ts, a buffer of observed reads and a buffer of pending writes.
// Nothing is visible to other transactions until Commit succeeds.
type Txn struct {
	startTS  uint64
	store    *Store
	readOnly bool

	// reads records the commit_ts each key was observed at, for callers
	// that want read-set introspection (its keys are exposed through
	// ReadSet); the store itself does not validate reads at commit time
	// since snapshot isolation never conflicts on reads.
	reads map[string]uint64

	// writes buffers pending writes/deletes, keyed by the raw key bytes
	// as a string. Nothing here is durable until Commit.
	writes map[string]Version
}

// StartTS returns the snapshot timestamp this transaction reads at.
func (t *Txn) StartTS() uint64 { return t.startTS }

// ReadOnly reports whether this transaction was opened via BeginReadOnly.
func (t *Txn) ReadOnly() bool { return t.readOnly }

// Read returns the value visible to this transaction's snapshot, checking
// the local write buffer first (read-your-own-writes) and falling back to
// the store at start_ts.
func (t *Txn) Read(key []byte) ([]byte, bool) {
	ks := string(key)
	if v, ok := t.writes[ks]; ok {
		if v.Tombstone {
			return nil, false
		}
		return v.Value, true
	}

	sh := t.store.shardFor(key)
	sh.mu.RLock()
	v, ok := visibleAt(sh.versions[ks], t.startTS)
	sh.mu.RUnlock()
	if !ok || v.Tombstone {
		return nil, false
	}
	t.reads[ks] = v.CommitTS
	return v.Value, true
}

// Write stages value for key. Returns ErrReadOnly on a read-only txn.
func (t *Txn) Write(key, value []byte) error {
	if t.readOnly {
		return txnerr.ErrReadOnly
	}
	t.writes[string(key)] = newVersion(0, value)
	return nil
}

// Delete stages a tombstone for key. Returns ErrReadOnly on a read-only txn.
func (t *Txn) Delete(key []byte) error {
	if t.readOnly {
		return txnerr.ErrReadOnly
	}
	t.writes[string(key)] = newTombstone(0)
	return nil
}

// WriteSet returns the set of keys this transaction has staged writes or
// deletes for, for use by the scheduler's read/write-set overlap grouping.
func (t *Txn) WriteSet() [][]byte {
	out := make([][]byte, 0, len(t.writes))
	for k := range t.writes {
		out = append(out, []byte(k))
	}
	return out
}

// ReadSet returns the set of keys this transaction has read, for the same
// grouping purpose.
func (t *Txn) ReadSet() [][]byte {
	out := make([][]byte, 0, len(t.reads))
	for k := range t.reads {
		out = append(out, []byte(k))
	}
	return out
}

// Commit delegates to the owning Store.
func (t *Txn) Commit() (uint64, error) {
	return t.store.Commit(t)
}
