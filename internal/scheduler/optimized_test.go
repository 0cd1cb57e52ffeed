package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/txnvm/core/internal/store"
	"github.com/txnvm/core/pkg/config"
)

func TestOptimizedExecuteBatchRunsAllItems(t *testing.T) {
	st := newTestStore(t)
	cfg := config.DefaultOptimizedSchedulerConfig()
	cfg.EnableBloomFilter = true
	sched := NewOptimized(st, cfg)

	items := []BatchItem{
		{TxID: "a", Fn: func(txn *store.Txn) (any, error) { return nil, txn.Write([]byte("k1"), []byte("v1")) }},
		{TxID: "b", Fn: func(txn *store.Txn) (any, error) { return nil, txn.Write([]byte("k2"), []byte("v2")) }},
	}
	estimate := func(txID string) (reads, writes [][]byte, owner []byte) {
		if txID == "a" {
			return nil, [][]byte{[]byte("k1")}, []byte("owner-a")
		}
		return nil, [][]byte{[]byte("k2")}, []byte("owner-b")
	}

	result := sched.ExecuteBatch(items, estimate)
	assert.Equal(t, 2, result.Successful)
}

func TestOptimizedExecuteBatchWithOwnerSharding(t *testing.T) {
	st := newTestStore(t)
	cfg := config.DefaultOptimizedSchedulerConfig()
	cfg.EnableOwnerSharding = true
	cfg.NumShards = 2
	sched := NewOptimized(st, cfg)

	items := []BatchItem{
		{TxID: "a", Fn: func(txn *store.Txn) (any, error) { return nil, txn.Write([]byte("k1"), []byte("v1")) }},
	}
	estimate := func(txID string) (reads, writes [][]byte, owner []byte) {
		return nil, [][]byte{[]byte("k1")}, []byte("owner-a")
	}

	result := sched.ExecuteBatch(items, estimate)
	assert.Equal(t, 1, result.Successful)
}

func TestAutoTunerPublishesRecommendation(t *testing.T) {
	tuner := NewAutoTuner(1, TunerRecommendation{BatchSize: 64})
	tuner.Observe(tunerSample{tps: 10, conflictRate: 0.9, avgSetSize: 20})

	rec := tuner.Recommendation()
	assert.LessOrEqual(t, rec.BatchSize, 64)
	assert.True(t, rec.EnableBloom)
}

func TestBatchCommitPipelineRunsAllBatches(t *testing.T) {
	st := newTestStore(t)
	cfg := config.DefaultOptimizedSchedulerConfig()
	sched := NewOptimized(st, cfg)
	pipeline := NewBatchCommitPipeline(sched, 1, 2)

	batches := [][]BatchItem{
		{{TxID: "a", Fn: func(txn *store.Txn) (any, error) { return nil, txn.Write([]byte("k1"), []byte("v1")) }}},
		{{TxID: "b", Fn: func(txn *store.Txn) (any, error) { return nil, txn.Write([]byte("k2"), []byte("v2")) }}},
	}

	result := pipeline.Run(batches, func(txID string) (reads, writes [][]byte, owner []byte) { return nil, nil, nil })
	assert.Equal(t, 2, result.Successful)
}
