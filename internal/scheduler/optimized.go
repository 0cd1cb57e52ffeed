package scheduler

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/txnvm/core/internal/store"
	"github.com/txnvm/core/pkg/config"
	"github.com/txnvm/core/pkg/log"
)

// EstimateFunc returns a transaction's estimated read and write sets,
// used for Bloom pre-grouping, key-index grouping, and hot-key/owner
// routing. Estimation is advisory only; a wrong estimate causes a
// conflict and retry, never an incorrect result.
type EstimateFunc func(txID string) (reads, writes [][]byte, owner []byte)

// OptimizedMvccScheduler adds Bloom pre-grouping, exact key-index
// grouping, owner sharding, hot-key isolation, batch-commit pipelining
// and adaptive auto-tuning on top of MvccScheduler.
type OptimizedMvccScheduler struct {
	*MvccScheduler

	cfg config.OptimizedSchedulerConfig

	hotkeys *hotKeyTracker
	tuner   *AutoTuner

	batchesRun int
	mu         sync.Mutex

	logger zerolog.Logger
}

// NewOptimized constructs an OptimizedMvccScheduler over st per cfg.
func NewOptimized(st *store.Store, cfg config.OptimizedSchedulerConfig) *OptimizedMvccScheduler {
	base := New(st, int(cfg.MaxRetries))

	var hk *hotKeyTracker
	if cfg.EnableHotKeyIsolation || cfg.EnableLFUTracking {
		hk = newHotKeyTracker(
			cfg.LFUHotKeyThresholdMedium,
			cfg.LFUHotKeyThresholdHigh,
			time.Duration(cfg.LFUDecayPeriod)*time.Second,
			cfg.LFUDecayFactor,
			4096,
		)
	}

	var tuner *AutoTuner
	if cfg.EnableAutoTuning {
		tuner = NewAutoTuner(20, TunerRecommendation{
			BatchSize:                maxInt(cfg.MinBatchSize, 64),
			EnableBloom:              cfg.EnableBloomFilter,
			DensityFallbackThreshold: cfg.DensityFallbackThreshold,
			NumShards:                cfg.NumShards,
		})
	}

	return &OptimizedMvccScheduler{
		MvccScheduler: base,
		cfg:           cfg,
		hotkeys:       hk,
		tuner:         tuner,
		logger:        log.WithComponent("optimized-scheduler"),
	}
}

// Recommendation returns the auto-tuner's current recommendation, or the
// static config if auto-tuning is disabled.
func (o *OptimizedMvccScheduler) Recommendation() TunerRecommendation {
	if o.tuner != nil {
		return o.tuner.Recommendation()
	}
	return TunerRecommendation{
		BatchSize:                maxInt(o.cfg.MinBatchSize, 64),
		EnableBloom:              o.cfg.EnableBloomFilter,
		DensityFallbackThreshold: o.cfg.DensityFallbackThreshold,
		NumShards:                o.cfg.NumShards,
	}
}

// ExecuteBatch groups items by the configured strategy (owner sharding,
// hot-key isolation, then Bloom or key-index grouping) and executes each
// group in parallel, falling back to key-index grouping when Bloom
// candidate density exceeds the configured threshold.
func (o *OptimizedMvccScheduler) ExecuteBatch(items []BatchItem, estimate EstimateFunc) BatchResult {
	start := time.Now()

	hotItems, normalItems := o.splitHotKeys(items, estimate)

	var result BatchResult
	if len(hotItems) > 0 {
		// Hot-key transactions run serially within their bucket to avoid
		// thrash (spec.md §4.3 "extremely hot keys go to a single serial
		// bucket").
		for _, it := range hotItems {
			_, retries, err := o.executeTxnCounted(it.TxID, it.Fn)
			result.Retries += retries
			o.recordOutcome(&result, err)
		}
	}

	groups := o.groupNormal(normalItems, estimate)
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	for _, group := range groups {
		var wg sync.WaitGroup
		sem := make(chan struct{}, workers)
		for _, item := range group {
			wg.Add(1)
			sem <- struct{}{}
			go func(it BatchItem) {
				defer wg.Done()
				defer func() { <-sem }()
				_, retries, err := o.executeTxnCounted(it.TxID, it.Fn)
				mu.Lock()
				result.Retries += retries
				o.recordOutcome(&result, err)
				mu.Unlock()
			}(item)
		}
		wg.Wait()
	}

	if o.tuner != nil {
		elapsed := time.Since(start).Seconds()
		tps := 0.0
		if elapsed > 0 {
			tps = float64(result.Successful) / elapsed
		}
		avgSetSize := 0.0
		if estimate != nil && len(items) > 0 {
			var total int
			for _, it := range items {
				reads, writes, _ := estimate(it.TxID)
				total += len(reads) + len(writes)
			}
			avgSetSize = float64(total) / float64(len(items))
		}
		o.tuner.Observe(tunerSample{
			tps:          tps,
			conflictRate: o.RecentConflictRate(),
			avgSetSize:   avgSetSize,
			batchSize:    len(items),
		})
	}

	o.mu.Lock()
	o.batchesRun++
	o.mu.Unlock()

	return result
}

func (o *OptimizedMvccScheduler) recordOutcome(result *BatchResult, err error) {
	switch {
	case err == nil:
		result.Successful++
	default:
		result.Failed++
	}
}

// splitHotKeys separates items whose write set touches a hot key (per
// the LFU tracker) from the rest, recording an access for every touched
// key along the way.
func (o *OptimizedMvccScheduler) splitHotKeys(items []BatchItem, estimate EstimateFunc) (hot, normal []BatchItem) {
	if o.hotkeys == nil || estimate == nil || !o.cfg.EnableHotKeyBucketing {
		return nil, items
	}
	for _, it := range items {
		_, writes, _ := estimate(it.TxID)
		isHot := false
		for _, w := range writes {
			if o.hotkeys.touch(w) == hotnessHigh {
				isHot = true
			}
		}
		if isHot {
			hot = append(hot, it)
		} else {
			normal = append(normal, it)
		}
	}
	return hot, normal
}

// groupNormal applies owner sharding (if enabled) and then either Bloom
// pre-grouping (falling back to key-index grouping past the density
// threshold) or exact key-index grouping.
func (o *OptimizedMvccScheduler) groupNormal(items []BatchItem, estimate EstimateFunc) [][]BatchItem {
	if len(items) == 0 {
		return nil
	}

	buckets := [][]BatchItem{items}
	if o.cfg.EnableOwnerSharding && estimate != nil && o.cfg.NumShards > 0 {
		buckets = o.shardByOwner(items, estimate)
	}

	var allGroups [][]BatchItem
	for _, bucket := range buckets {
		allGroups = append(allGroups, o.groupBucket(bucket, estimate)...)
	}
	return allGroups
}

func (o *OptimizedMvccScheduler) shardByOwner(items []BatchItem, estimate EstimateFunc) [][]BatchItem {
	shards := make([][]BatchItem, o.cfg.NumShards)
	for _, it := range items {
		_, _, owner := estimate(it.TxID)
		idx := ownerShard(owner, o.cfg.NumShards)
		shards[idx] = append(shards[idx], it)
	}
	var out [][]BatchItem
	for _, s := range shards {
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func (o *OptimizedMvccScheduler) groupBucket(items []BatchItem, estimate EstimateFunc) [][]BatchItem {
	useBloom := o.cfg.EnableBloomFilter
	rec := o.Recommendation()
	if o.tuner != nil {
		useBloom = rec.EnableBloom
	}

	if useBloom && !o.cfg.UseKeyIndexGrouping {
		keys := make([]txKeys, len(items))
		for i, it := range items {
			var reads, writes [][]byte
			if estimate != nil {
				reads, writes, _ = estimate(it.TxID)
			}
			keys[i] = buildTxKeys(it, reads, writes)
		}
		groups, density := bloomGroup(keys)
		threshold := o.cfg.DensityFallbackThreshold
		if o.tuner != nil {
			threshold = rec.DensityFallbackThreshold
		}
		if threshold > 0 && density <= threshold {
			return groups
		}
		o.logger.Debug().Float64("density", density).Float64("threshold", threshold).Msg("bloom density exceeded threshold, falling back to key-index grouping")
	}

	return groupByOverlap(items, func(txID string) (reads, writes [][]byte) {
		if estimate == nil {
			return nil, nil
		}
		r, w, _ := estimate(txID)
		return r, w
	})
}
