package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/txnvm/core/pkg/log"
)

// TunerRecommendation is published atomically by AutoTuner and consumed
// by the next batch without blocking the tuner.
type TunerRecommendation struct {
	BatchSize               int
	EnableBloom              bool
	DensityFallbackThreshold float64
	NumShards                int
}

// tunerSample is one batch's observed performance, pushed to a short
// mutex-protected ring buffer (spec.md §5).
type tunerSample struct {
	tps           float64
	conflictRate  float64
	avgSetSize    float64
	batchSize     int
}

// AutoTuner periodically evaluates recent batch performance and
// republishes a recommendation. It never blocks execution: readers load
// the published recommendation via an atomic pointer.
type AutoTuner struct {
	mu      sync.Mutex
	samples []tunerSample
	every   int
	count   int

	current atomic.Pointer[TunerRecommendation]

	logger zerolog.Logger
}

// NewAutoTuner constructs a tuner that re-evaluates every `every` batches,
// starting from initial as the published recommendation.
func NewAutoTuner(every int, initial TunerRecommendation) *AutoTuner {
	if every <= 0 {
		every = 1
	}
	t := &AutoTuner{every: every, logger: log.WithComponent("auto-tuner")}
	t.current.Store(&initial)
	return t
}

// Recommendation returns the most recently published recommendation.
func (t *AutoTuner) Recommendation() TunerRecommendation {
	return *t.current.Load()
}

// Observe records one batch's outcome and, every `every` batches,
// recomputes and republishes a recommendation. Never blocks on execution:
// t.mu is held only while pushing the sample and copying the window; the
// evaluation runs on that copy after the lock is released.
func (t *AutoTuner) Observe(sample tunerSample) {
	t.mu.Lock()
	t.samples = append(t.samples, sample)
	if len(t.samples) > 64 {
		t.samples = t.samples[len(t.samples)-64:]
	}
	t.count++
	due := t.count%t.every == 0
	samples := append([]tunerSample(nil), t.samples...)
	t.mu.Unlock()

	if !due {
		return
	}
	rec := evaluate(samples, t.Recommendation())
	t.current.Store(&rec)
	t.logger.Info().Int("batch_size", rec.BatchSize).Bool("enable_bloom", rec.EnableBloom).Float64("density_fallback_threshold", rec.DensityFallbackThreshold).Int("num_shards", rec.NumShards).Msg("auto-tuner republished recommendation")
}

// evaluate derives a new recommendation from recent samples. The source's
// rollback-on-regression behavior is unspecified (spec.md §9 Open
// Question) — this implementation does not assume one, and only adjusts
// forward from the observed averages.
func evaluate(samples []tunerSample, prev TunerRecommendation) TunerRecommendation {
	if len(samples) == 0 {
		return prev
	}

	var sumTPS, sumConflict, sumSetSize float64
	for _, s := range samples {
		sumTPS += s.tps
		sumConflict += s.conflictRate
		sumSetSize += s.avgSetSize
	}
	n := float64(len(samples))
	avgConflict := sumConflict / n
	avgSetSize := sumSetSize / n

	rec := prev

	// High conflict rate: shrink batch size to reduce contention, lower
	// the Bloom density-fallback threshold so exact grouping kicks in
	// sooner.
	switch {
	case avgConflict > 0.25:
		rec.BatchSize = maxInt(rec.BatchSize/2, 16)
		rec.DensityFallbackThreshold = maxFloat(rec.DensityFallbackThreshold-0.1, 0.1)
	case avgConflict < 0.05:
		rec.BatchSize = minInt(rec.BatchSize*2, 4096)
		rec.DensityFallbackThreshold = minFloat(rec.DensityFallbackThreshold+0.05, 0.9)
	}

	// Large average read/write sets make Bloom pre-filtering more
	// valuable (cheaper than exact grouping at scale); small sets make
	// exact grouping cheap enough that Bloom adds little.
	rec.EnableBloom = avgSetSize > 8

	return rec
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
