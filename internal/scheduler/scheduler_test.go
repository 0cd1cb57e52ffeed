package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txnvm/core/internal/store"
	"github.com/txnvm/core/pkg/txnerr"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{NumShards: 4})
	require.NoError(t, err)
	return s
}

func TestExecuteTxnCommitsOnSuccess(t *testing.T) {
	st := newTestStore(t)
	sched := New(st, 5)

	result, err := sched.ExecuteTxn("tx1", func(txn *store.Txn) (any, error) {
		return nil, txn.Write([]byte("k"), []byte("v"))
	})
	require.NoError(t, err)
	assert.Nil(t, result)

	val, ok := st.ReadAt([]byte("k"), st.Now())
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)
}

func TestExecuteTxnDoesNotRetryUserErrors(t *testing.T) {
	st := newTestStore(t)
	sched := New(st, 5)

	calls := 0
	_, err := sched.ExecuteTxn("tx1", func(txn *store.Txn) (any, error) {
		calls++
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteTxnExhaustsRetriesOnRepeatedConflict(t *testing.T) {
	st := newTestStore(t)
	sched := New(st, 3)

	// Pre-write and hold a committed version ahead of every retry's
	// start_ts by committing from a concurrent transaction each attempt.
	attempts := 0
	_, err := sched.ExecuteTxn("tx1", func(txn *store.Txn) (any, error) {
		attempts++
		// Force a conflict: commit a racing write on the same key from
		// a second transaction with a later start_ts before this one
		// commits.
		other := st.Begin()
		require.NoError(t, other.Write([]byte("k"), []byte("racer")))
		_, cerr := other.Commit()
		require.NoError(t, cerr)

		return nil, txn.Write([]byte("k"), []byte("v"))
	})

	assert.ErrorIs(t, err, txnerr.ErrMaxRetriesExceeded)
	assert.Equal(t, 3, attempts)
}

func TestExecuteBatchGroupsDisjointWrites(t *testing.T) {
	st := newTestStore(t)
	sched := New(st, 5)

	items := []BatchItem{
		{TxID: "a", Fn: func(txn *store.Txn) (any, error) { return nil, txn.Write([]byte("k1"), []byte("v1")) }},
		{TxID: "b", Fn: func(txn *store.Txn) (any, error) { return nil, txn.Write([]byte("k2"), []byte("v2")) }},
	}
	estimate := func(txID string) (reads, writes [][]byte) {
		if txID == "a" {
			return nil, [][]byte{[]byte("k1")}
		}
		return nil, [][]byte{[]byte("k2")}
	}

	result := sched.ExecuteBatch(items, estimate)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 0, result.Failed)
}

func TestRateWindowTracksConflictAndSuccess(t *testing.T) {
	w := newRateWindow(8)
	w.recordAttempt(true, false)
	w.recordAttempt(true, false)
	w.recordAttempt(false, true)

	assert.InDelta(t, 1.0/3.0, w.conflictRate(), 0.001)
	assert.InDelta(t, 2.0/3.0, w.successRate(), 0.001)
}
