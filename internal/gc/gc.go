// Package gc implements GcWorker: a background worker enforcing per-key
// version caps and optional TTL, triggered by interval, threshold, cron
// expression, or manual call.
package gc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/txnvm/core/internal/store"
	"github.com/txnvm/core/pkg/config"
	"github.com/txnvm/core/pkg/log"
)

// Worker runs GcWorker's background cycle against a Store.
type Worker struct {
	store *store.Store
	cfg   config.GcConfig

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  atomic.Bool

	cron *cron.Cron

	// lastCount and lastCheck back the adaptive-interval heuristic:
	// more versions accumulated per unit time => shorter interval.
	lastCount uint64
	lastCheck time.Time
	interval  atomic.Int64 // nanoseconds, mutated only by the adaptive loop

	logger zerolog.Logger
}

// New constructs a Worker over st per cfg. StartAutoGC must be called
// separately to begin the background cycle; RunOnce runs one manual
// sweep without starting anything.
func New(st *store.Store, cfg config.GcConfig) *Worker {
	w := &Worker{
		store:  st,
		cfg:    cfg,
		stop:   make(chan struct{}),
		logger: log.WithComponent("gc"),
	}
	if cfg.AutoGC != nil {
		w.interval.Store(int64(time.Duration(cfg.AutoGC.IntervalSecs) * time.Second))
	}
	return w
}

// RunOnce performs a single GC sweep immediately, regardless of whether
// the background worker is running.
func (w *Worker) RunOnce() store.PruneResult {
	result := w.store.RunGC(store.PruneConfig{
		MaxVersionsPerKey: w.cfg.MaxVersionsPerKey,
		TTLEnabled:        w.cfg.EnableTimeBasedGC,
		TTLSeconds:        w.cfg.VersionTTLSecs,
		NowTS:             w.store.Now(),
	})
	w.logger.Info().Int("keys_visited", result.KeysVisited).Int("versions_pruned", result.VersionsPruned).Int("keys_removed", result.KeysRemoved).Msg("manual gc sweep")
	return result
}

// StartAutoGC starts the background cycle, triggered by whichever of
// interval, version threshold, or cron expression is configured. It is
// a no-op if already running.
func (w *Worker) StartAutoGC() {
	if w.cfg.AutoGC == nil {
		return
	}
	if !w.running.CompareAndSwap(false, true) {
		return
	}

	if w.cfg.AutoGC.RunOnStart {
		w.RunOnce()
	}

	if w.cfg.AutoGC.CronExpr != "" {
		w.startCron()
		return
	}

	w.wg.Add(1)
	go w.loop()
}

func (w *Worker) startCron() {
	w.cron = cron.New()
	_, err := w.cron.AddFunc(w.cfg.AutoGC.CronExpr, func() { w.RunOnce() })
	if err != nil {
		w.logger.Error().Err(err).Str("cron_expr", w.cfg.AutoGC.CronExpr).Msg("invalid gc cron expression, falling back to interval trigger")
		w.wg.Add(1)
		go w.loop()
		return
	}
	w.cron.Start()
}

// loop polls the stop flag at each cycle boundary, per spec.md §5
// ("background workers respond to a shared stop flag within one cycle").
func (w *Worker) loop() {
	defer w.wg.Done()

	for {
		interval := time.Duration(w.interval.Load())
		if interval <= 0 {
			interval = time.Second
		}

		select {
		case <-w.stop:
			return
		case <-time.After(interval):
		}

		if w.cfg.AutoGC.VersionThreshold > 0 {
			stats := w.store.Stats()
			if uint64(stats.TotalVersions) < w.cfg.AutoGC.VersionThreshold {
				continue
			}
		}

		result := w.RunOnce()

		if w.cfg.AutoGC.EnableAdaptive {
			w.adjustInterval(result)
		}
	}
}

// adjustInterval shortens the interval when versions are accumulating
// quickly and lengthens it when the store is quiet, bounded to
// [1s, configured interval * 4].
func (w *Worker) adjustInterval(result store.PruneResult) {
	now := time.Now()
	stats := w.store.Stats()
	count := uint64(stats.TotalVersions)

	if !w.lastCheck.IsZero() {
		elapsed := now.Sub(w.lastCheck).Seconds()
		if elapsed > 0 && count > w.lastCount {
			rate := float64(count-w.lastCount) / elapsed
			base := time.Duration(w.cfg.AutoGC.IntervalSecs) * time.Second
			current := time.Duration(w.interval.Load())

			var next time.Duration
			switch {
			case rate > 100:
				next = maxDuration(current/2, time.Second)
			case rate < 1:
				next = minDuration(current*2, base*4)
			default:
				next = current
			}
			w.interval.Store(int64(next))
		}
	}

	w.lastCount = count
	w.lastCheck = now
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// StopAutoGC stops the background cycle, if running, and waits for it to
// exit. Safe to call multiple times.
func (w *Worker) StopAutoGC() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.cron != nil {
		w.cron.Stop()
	}
	w.wg.Wait()
	w.running.Store(false)
}
