// Package flush implements AutoFlushWorker: periodic snapshotting of
// committed MVCC state to an external durable storage collaborator.
package flush

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/txnvm/core/internal/store"
	"github.com/txnvm/core/pkg/config"
	"github.com/txnvm/core/pkg/log"
	"github.com/txnvm/core/pkg/txnerr"
)

// ExternalStore is the collaborator contract for the persistent backend
// (spec.md §4.8). Implementations need not provide crash-atomic
// semantics; batches are best-effort.
type ExternalStore interface {
	Set(key, value []byte) error
	Get(key []byte) ([]byte, bool, error)
	Delete(key []byte) error
	WriteBatch(entries []KV) error
	Scan(prefix []byte, fn func(key, value []byte) bool) error
}

// KV is one entry in a WriteBatch call.
type KV struct {
	Key   []byte
	Value []byte
}

// Stats reports one flush cycle's outcome.
type Stats struct {
	Count        int
	KeysFlushed  int
	BytesFlushed int64
	LastBlock    uint64
}

// Worker runs AutoFlushWorker's background cycle.
type Worker struct {
	store    *store.Store
	external ExternalStore
	cfg      config.AutoFlushConfig

	blockCount atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  atomic.Bool
	cron     *cron.Cron

	lastStats atomic.Pointer[Stats]

	logger zerolog.Logger
}

// New constructs a Worker over st, persisting to external per cfg.
func New(st *store.Store, external ExternalStore, cfg config.AutoFlushConfig) *Worker {
	w := &Worker{
		store:    st,
		external: external,
		cfg:      cfg,
		stop:     make(chan struct{}),
		logger:   log.WithComponent("flush"),
	}
	w.lastStats.Store(&Stats{})
	return w
}

// NotifyBlock increments the block counter the block-count trigger reads.
func (w *Worker) NotifyBlock() {
	w.blockCount.Add(1)
}

// RunOnce serializes the most recent KeepRecentVersions versions of every
// key to the external store under the composite key "{key}@{commit_ts}",
// immediately, regardless of whether the background worker is running.
func (w *Worker) RunOnce() Stats {
	keep := w.cfg.KeepRecentVersions
	if keep <= 0 {
		keep = 2
	}

	var entries []KV
	var keysFlushed int
	var bytesFlushed int64

	w.store.ForEachKey(func(key []byte, versions []store.Version) {
		n := len(versions)
		if n == 0 {
			return
		}
		start := n - keep
		if start < 0 {
			start = 0
		}
		keysFlushed++
		for _, v := range versions[start:] {
			compositeKey := []byte(fmt.Sprintf("%s@%d", key, v.CommitTS))
			entries = append(entries, KV{Key: compositeKey, Value: v.Value})
			bytesFlushed += int64(len(v.Value))
		}
	})

	if len(entries) > 0 {
		if err := w.external.WriteBatch(entries); err != nil {
			w.logger.Error().Err(&txnerr.IoFailure{Op: "flush.write_batch", Err: err}).Msg("flush batch failed")
		}
	}

	stats := Stats{Count: 1, KeysFlushed: keysFlushed, BytesFlushed: bytesFlushed, LastBlock: w.blockCount.Load()}
	w.lastStats.Store(&stats)
	w.logger.Info().Int("keys_flushed", keysFlushed).Int64("bytes_flushed", bytesFlushed).Msg("flush cycle complete")
	return stats
}

// LastStats returns the most recently recorded flush statistics.
func (w *Worker) LastStats() Stats {
	return *w.lastStats.Load()
}

// Start begins the background cycle (interval, cron, or block-count
// trigger). No-op if already running.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}

	if w.cfg.FlushOnStart {
		w.RunOnce()
	}

	if w.cfg.CronExpr != "" {
		w.cron = cron.New()
		if _, err := w.cron.AddFunc(w.cfg.CronExpr, func() { w.RunOnce() }); err != nil {
			w.logger.Error().Err(err).Str("cron_expr", w.cfg.CronExpr).Msg("invalid flush cron expression, falling back to interval trigger")
			w.wg.Add(1)
			go w.loop()
			return
		}
		w.cron.Start()
		return
	}

	w.wg.Add(1)
	go w.loop()
}

func (w *Worker) loop() {
	defer w.wg.Done()

	interval := time.Duration(w.cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Second
	}

	var lastBlockSeen uint64
	for {
		select {
		case <-w.stop:
			return
		case <-time.After(interval):
		}

		if w.cfg.BlocksPerFlush > 0 {
			current := w.blockCount.Load()
			if current-lastBlockSeen < w.cfg.BlocksPerFlush {
				continue
			}
			lastBlockSeen = current
		}

		w.RunOnce()
	}
}

// Stop stops the background cycle, if running, and waits for it to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.cron != nil {
		w.cron.Stop()
	}
	w.wg.Wait()
	w.running.Store(false)
}
