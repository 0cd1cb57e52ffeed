// Package scheduler implements MvccScheduler and OptimizedMvccScheduler:
// execution of user closures inside MVCC transactions with bounded retry
// on conflict, plus parallel batch execution.
package scheduler

import (
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/txnvm/core/internal/store"
	"github.com/txnvm/core/pkg/log"
	"github.com/txnvm/core/pkg/txnerr"
)

// TxnFunc is the user-supplied closure executed inside a transaction.
// Returning an error aborts the transaction and is never retried.
type TxnFunc func(txn *store.Txn) (any, error)

// BatchItem is one entry in a batch dispatch.
type BatchItem struct {
	TxID string
	Fn   TxnFunc
}

// BatchResult aggregates a batch's outcome.
type BatchResult struct {
	Successful int
	Failed     int
	Conflicts  int
	Retries    int
}

// MvccScheduler executes closures against a Store with bounded retry.
type MvccScheduler struct {
	store      *store.Store
	maxRetries int
	logger     zerolog.Logger

	// Outcomes of the most recent attempts (a ring of 256, see
	// rateWindow), used to derive the recent conflict/success rate for
	// the adaptive router.
	window *rateWindow
}

// New constructs an MvccScheduler with the given retry budget (spec
// default 5).
func New(st *store.Store, maxRetries int) *MvccScheduler {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &MvccScheduler{
		store:      st,
		maxRetries: maxRetries,
		logger:     log.WithComponent("scheduler"),
		window:     newRateWindow(256),
	}
}

// ExecuteTxn runs fn inside a transaction, retrying on conflict, with at
// most maxRetries attempts in total. User errors (fn returning non-nil
// error) are never retried.
func (s *MvccScheduler) ExecuteTxn(txID string, fn TxnFunc) (any, error) {
	result, _, err := s.executeTxnCounted(txID, fn)
	return result, err
}

// executeTxnCounted is ExecuteTxn plus the number of conflict-retries
// consumed, so batch callers can aggregate BatchResult.Retries.
func (s *MvccScheduler) executeTxnCounted(txID string, fn TxnFunc) (any, int, error) {
	var lastErr error
	retries := 0
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		txn := s.store.Begin()
		result, err := fn(txn)
		if err != nil {
			s.window.recordAttempt(false, false)
			return nil, retries, txnerr.NewUserError(err)
		}

		_, err = txn.Commit()
		if err == nil {
			s.window.recordAttempt(true, false)
			return result, retries, nil
		}
		if !txnerr.IsConflict(err) {
			s.window.recordAttempt(false, false)
			return nil, retries, err
		}

		lastErr = err
		retries++
		s.window.recordAttempt(false, true)
		s.logger.Debug().Str("tx_id", txID).Int("attempt", attempt).Msg("commit conflict, retrying")
	}

	s.logger.Warn().Str("tx_id", txID).Err(lastErr).Msg("max retries exceeded")
	return nil, retries, txnerr.ErrMaxRetriesExceeded
}

// ExecuteBatch partitions items into non-overlapping groups by estimated
// read/write-set overlap (a best-effort grouping — mis-grouping causes a
// conflict and retry, never incorrectness), runs each group in parallel on
// a CPU-sized worker pool, and runs groups themselves sequentially.
func (s *MvccScheduler) ExecuteBatch(items []BatchItem, estimate func(txID string) (reads, writes [][]byte)) BatchResult {
	groups := groupByOverlap(items, estimate)

	var result BatchResult
	var mu sync.Mutex
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}

	for _, group := range groups {
		var wg sync.WaitGroup
		sem := make(chan struct{}, workers)
		for _, item := range group {
			wg.Add(1)
			sem <- struct{}{}
			go func(it BatchItem) {
				defer wg.Done()
				defer func() { <-sem }()

				_, retries, err := s.executeTxnCounted(it.TxID, it.Fn)
				mu.Lock()
				defer mu.Unlock()
				result.Retries += retries
				switch {
				case err == nil:
					result.Successful++
				case txnerr.IsConflict(err):
					result.Conflicts++
					result.Failed++
				default:
					result.Failed++
				}
			}(item)
		}
		wg.Wait()
	}
	return result
}

// StoreHandle exposes the underlying Store for callers that need direct
// transaction access outside the routed-execution contract.
func (s *MvccScheduler) StoreHandle() *store.Store { return s.store }

// RecentConflictRate implements router.ConflictSource.
func (s *MvccScheduler) RecentConflictRate() float64 { return s.window.conflictRate() }

// RecentSuccessRate implements router.ConflictSource.
func (s *MvccScheduler) RecentSuccessRate() float64 { return s.window.successRate() }

// groupByOverlap partitions items such that no two items in the same
// group have overlapping estimated read/write sets. O(n^2) in group size,
// acceptable for the batch sizes this engine targets (estimation is
// advisory, not a correctness mechanism).
func groupByOverlap(items []BatchItem, estimate func(txID string) (reads, writes [][]byte)) [][]BatchItem {
	type est struct {
		item BatchItem
		keys map[string]struct{}
	}
	ests := make([]est, len(items))
	for i, it := range items {
		keys := map[string]struct{}{}
		if estimate != nil {
			reads, writes := estimate(it.TxID)
			for _, k := range reads {
				keys[string(k)] = struct{}{}
			}
			for _, k := range writes {
				keys[string(k)] = struct{}{}
			}
		}
		ests[i] = est{item: it, keys: keys}
	}

	var groups [][]est
	for _, e := range ests {
		placed := false
		for gi, g := range groups {
			if !overlapsAny(e.keys, g) {
				groups[gi] = append(groups[gi], e)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []est{e})
		}
	}

	out := make([][]BatchItem, len(groups))
	for i, g := range groups {
		items := make([]BatchItem, len(g))
		for j, e := range g {
			items[j] = e.item
		}
		out[i] = items
	}
	return out
}

func overlapsAny(keys map[string]struct{}, group []struct {
	item BatchItem
	keys map[string]struct{}
}) bool {
	for _, member := range group {
		for k := range keys {
			if _, ok := member.keys[k]; ok {
				return true
			}
		}
	}
	return false
}

// rateWindow is a small mutex-protected ring buffer of recent attempt
// outcomes, read by the adaptive router without blocking the commit path
// for long (spec.md §5: "a short mutex-protected ring buffer; held only
// while pushing a sample"). Every attempt — success, user error, or
// conflict — occupies exactly one slot, so conflictRate and successRate
// are both conflicts-or-successes over the same window of attempts,
// matching `delta_conflict / delta_total` in the source adaptive router.
type rateWindow struct {
	mu        sync.Mutex
	successes []bool
	conflicts []bool
	size      int
	idx       int
	full      bool
}

func newRateWindow(size int) *rateWindow {
	return &rateWindow{
		successes: make([]bool, size),
		conflicts: make([]bool, size),
		size:      size,
	}
}

// recordAttempt records one attempt's outcome: success is true only on a
// committed transaction; conflict is true only when the commit was
// rejected for a write-write conflict. Both are false for a non-retryable
// user error.
func (w *rateWindow) recordAttempt(success, conflict bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.successes[w.idx] = success
	w.conflicts[w.idx] = conflict
	w.idx = (w.idx + 1) % w.size
	if w.idx == 0 {
		w.full = true
	}
}

// windowLenLocked returns how many of the ring's slots are populated.
// Callers must hold w.mu.
func (w *rateWindow) windowLenLocked() int {
	if w.full {
		return w.size
	}
	return w.idx
}

func (w *rateWindow) conflictRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.windowLenLocked()
	if n == 0 {
		return 0
	}
	count := 0
	for i := 0; i < n; i++ {
		if w.conflicts[i] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (w *rateWindow) successRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.windowLenLocked()
	if n == 0 {
		return 1
	}
	count := 0
	for i := 0; i < n; i++ {
		if w.successes[i] {
			count++
		}
	}
	return float64(count) / float64(n)
}
