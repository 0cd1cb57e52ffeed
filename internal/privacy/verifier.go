// Package privacy provides the zero-knowledge proof verification contract
// consumed by the privacy execution path, plus a FIFO batch-verification
// buffer. The core never implements real proof math — ZkVerifier is an
// opaque collaborator; a fake verifier is provided for tests.
package privacy

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/txnvm/core/pkg/log"
)

// ZkVerifier verifies an opaque proof against opaque public inputs.
type ZkVerifier interface {
	Verify(proof, publicInput []byte) (bool, error)
}

// FakeVerifier is an in-memory ZkVerifier for tests: it accepts any proof
// whose first byte is non-zero, rejecting the rest, and never errors.
type FakeVerifier struct{}

func (FakeVerifier) Verify(proof, _ []byte) (bool, error) {
	return len(proof) > 0 && proof[0] != 0, nil
}

// request is one pending verification, admitted FIFO.
type request struct {
	proof       []byte
	publicInput []byte
	admittedAt  time.Time
	result      chan verifyResult
}

type verifyResult struct {
	ok  bool
	err error
}

// BatchVerifier accumulates proofs FIFO and flushes them through the
// underlying ZkVerifier either when the pending count reaches BatchSize
// or when the oldest pending entry's age exceeds MaxBatchAge, whichever
// comes first.
type BatchVerifier struct {
	verifier    ZkVerifier
	batchSize   int
	maxBatchAge time.Duration

	mu      sync.Mutex
	pending []*request
	timer   *time.Timer

	logger zerolog.Logger
}

// NewBatchVerifier constructs a BatchVerifier flushing at batchSize
// entries or maxBatchAge, whichever triggers first.
func NewBatchVerifier(verifier ZkVerifier, batchSize int, maxBatchAge time.Duration) *BatchVerifier {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &BatchVerifier{
		verifier:    verifier,
		batchSize:   batchSize,
		maxBatchAge: maxBatchAge,
		logger:      log.WithComponent("privacy-batch-verifier"),
	}
}

// Submit enqueues one proof and blocks until its verification result is
// available, either because this call triggered a count-based flush or
// because a previously scheduled age-based flush fired.
func (b *BatchVerifier) Submit(proof, publicInput []byte) (bool, error) {
	req := &request{proof: proof, publicInput: publicInput, admittedAt: time.Now(), result: make(chan verifyResult, 1)}

	b.mu.Lock()
	b.pending = append(b.pending, req)
	shouldFlush := len(b.pending) >= b.batchSize
	if !shouldFlush && b.timer == nil && b.maxBatchAge > 0 {
		b.timer = time.AfterFunc(b.maxBatchAge, b.flushOnTimer)
	}
	var batch []*request
	if shouldFlush {
		batch = b.takeAllLocked()
	}
	b.mu.Unlock()

	if batch != nil {
		b.verifyBatch(batch)
	}

	res := <-req.result
	return res.ok, res.err
}

func (b *BatchVerifier) flushOnTimer() {
	b.mu.Lock()
	batch := b.takeAllLocked()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.verifyBatch(batch)
	}
}

// takeAllLocked drains b.pending and cancels any pending timer. Caller
// must hold b.mu.
func (b *BatchVerifier) takeAllLocked() []*request {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.pending
	b.pending = nil
	return batch
}

// verifyBatch runs each request through the verifier in FIFO admission
// order and delivers each result. A verifier error is delivered only to
// the request whose Verify call returned it.
func (b *BatchVerifier) verifyBatch(batch []*request) {
	b.logger.Debug().Int("batch_size", len(batch)).Msg("flushing proof batch")
	for _, req := range batch {
		ok, err := b.verifier.Verify(req.proof, req.publicInput)
		req.result <- verifyResult{ok: ok, err: err}
	}
}

// Pending returns the current number of entries awaiting a flush.
func (b *BatchVerifier) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
