// Package vm implements VmFacade: the single entry point callers use to
// route, execute and receive receipts for transactions.
package vm

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/txnvm/core/internal/privacy"
	"github.com/txnvm/core/internal/router"
	"github.com/txnvm/core/internal/scheduler"
	"github.com/txnvm/core/internal/store"
	"github.com/txnvm/core/pkg/config"
	"github.com/txnvm/core/pkg/log"
	"github.com/txnvm/core/pkg/vmtypes"
)

// FastOp is a pure closure evaluated on the fast path without an MVCC
// transaction. Its error, if any, is checked against the fallback
// whitelist.
type FastOp func() (any, error)

// Tx is one transaction's routing input plus, for the privacy path, its
// attached proof material.
type Tx struct {
	ID          string
	Objects     []vmtypes.ObjectID
	Sender      vmtypes.Address
	Privacy     vmtypes.Privacy
	Proof       []byte
	PublicInput []byte
}

// Facade is the VmFacade: orchestrates route -> execute -> optional
// fallback, and aggregates receipts.
type Facade struct {
	router    *router.Router
	scheduler *scheduler.OptimizedMvccScheduler
	verifier  *privacy.BatchVerifier
	cfg       config.FacadeConfig

	logger zerolog.Logger
}

// New constructs a Facade wiring router, scheduler and an optional
// privacy batch verifier (nil zkVerifier disables the privacy path
// entirely — any Private transaction then surfaces ProofInvalid).
func New(r *router.Router, s *scheduler.OptimizedMvccScheduler, zkVerifier privacy.ZkVerifier, cfg config.FacadeConfig) *Facade {
	var bv *privacy.BatchVerifier
	if zkVerifier != nil {
		bv = privacy.NewBatchVerifier(zkVerifier, cfg.PrivacyBatchSize, time.Duration(cfg.PrivacyMaxBatchAgeMS)*time.Millisecond)
	}
	return &Facade{
		router:    r,
		scheduler: s,
		verifier:  bv,
		cfg:       cfg,
		logger:    log.WithComponent("vm-facade"),
	}
}

// Execute routes tx, runs it on the classified path, and returns a
// Receipt. consensusOp runs inside an MVCC transaction; fastOp runs
// without one.
func (f *Facade) Execute(tx Tx, fastOp FastOp, consensusOp scheduler.TxnFunc) vmtypes.Receipt {
	start := time.Now()
	path := f.router.Classify(router.Candidate{Objects: tx.Objects, Sender: tx.Sender, Privacy: tx.Privacy})

	receipt := vmtypes.Receipt{TxID: tx.ID, Path: path}

	switch path {
	case vmtypes.FastPath:
		f.executeFast(tx, fastOp, consensusOp, &receipt)
	case vmtypes.PrivatePath:
		f.executePrivate(tx, consensusOp, &receipt)
	default:
		f.executeConsensus(tx, consensusOp, &receipt)
	}

	receipt.LatencyMS = uint64(time.Since(start).Milliseconds())
	return receipt
}

func (f *Facade) executeFast(tx Tx, fastOp FastOp, consensusOp scheduler.TxnFunc, receipt *vmtypes.Receipt) {
	result, err := fastOp()
	if err == nil {
		receipt.Success = true
		setReturnValue(receipt, result)
		return
	}

	if f.cfg.EnableFallback && f.matchesWhitelist(err.Error()) {
		f.logger.Debug().Str("tx_id", tx.ID).Err(err).Msg("fast path failed, falling back to consensus path")
		receipt.FallbackToConsensus = true
		receipt.Path = vmtypes.ConsensusPath
		f.executeConsensus(tx, consensusOp, receipt)
		return
	}

	receipt.Success = false
	receipt.Error = err.Error()
}

func (f *Facade) executeConsensus(tx Tx, consensusOp scheduler.TxnFunc, receipt *vmtypes.Receipt) {
	result, err := f.scheduler.ExecuteTxn(tx.ID, consensusOp)
	if err != nil {
		receipt.Success = false
		receipt.Error = err.Error()
		return
	}
	receipt.Success = true
	setReturnValue(receipt, result)
}

func (f *Facade) executePrivate(tx Tx, consensusOp scheduler.TxnFunc, receipt *vmtypes.Receipt) {
	if f.verifier == nil {
		receipt.Success = false
		receipt.Error = "zero-knowledge proof invalid"
		return
	}

	ok, err := f.verifier.Submit(tx.Proof, tx.PublicInput)
	if err != nil || !ok {
		receipt.Success = false
		if err != nil {
			receipt.Error = err.Error()
		} else {
			receipt.Error = "zero-knowledge proof invalid"
		}
		return
	}

	f.executeConsensus(tx, consensusOp, receipt)
}

func (f *Facade) matchesWhitelist(msg string) bool {
	for _, w := range f.cfg.FallbackWhitelist {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

func setReturnValue(receipt *vmtypes.Receipt, result any) {
	if v, ok := result.(int32); ok {
		receipt.ReturnValue = &v
	}
}

// BatchResult aggregates per-path outcomes for a batch dispatch.
type BatchResult struct {
	Fast          scheduler.BatchResult
	Consensus     scheduler.BatchResult
	FallbackCount int
}

// BatchTx pairs a Tx with its fast and consensus closures for batch
// dispatch.
type BatchTx struct {
	Tx
	FastOp       FastOp
	ConsensusOp  scheduler.TxnFunc
}

// ExecuteBatch splits txns into per-path vectors by classification, runs
// each vector with its path's strategy, and aggregates results. Fallback
// items re-enter the consensus vector, so each is counted once in
// FallbackCount and again in the Consensus results.
func (f *Facade) ExecuteBatch(txns []BatchTx, estimate scheduler.EstimateFunc) BatchResult {
	var consensusItems []scheduler.BatchItem
	var result BatchResult

	for _, t := range txns {
		path := f.router.Classify(router.Candidate{Objects: t.Objects, Sender: t.Sender, Privacy: t.Privacy})
		switch path {
		case vmtypes.FastPath:
			_, err := t.FastOp()
			if err == nil {
				result.Fast.Successful++
				continue
			}
			if f.cfg.EnableFallback && f.matchesWhitelist(err.Error()) {
				result.FallbackCount++
				consensusItems = append(consensusItems, scheduler.BatchItem{TxID: t.ID, Fn: t.ConsensusOp})
			} else {
				result.Fast.Failed++
			}
		case vmtypes.PrivatePath:
			if f.verifier == nil {
				result.Consensus.Failed++
				continue
			}
			ok, err := f.verifier.Submit(t.Proof, t.PublicInput)
			if err != nil || !ok {
				result.Consensus.Failed++
				continue
			}
			consensusItems = append(consensusItems, scheduler.BatchItem{TxID: t.ID, Fn: t.ConsensusOp})
		default:
			consensusItems = append(consensusItems, scheduler.BatchItem{TxID: t.ID, Fn: t.ConsensusOp})
		}
	}

	if len(consensusItems) > 0 {
		r := f.scheduler.ExecuteBatch(consensusItems, estimate)
		result.Consensus.Successful += r.Successful
		result.Consensus.Failed += r.Failed
		result.Consensus.Conflicts += r.Conflicts
		result.Consensus.Retries += r.Retries
	}

	return result
}

// RoutingStats returns the router's current route counters. The
// object-kind counts and the transfer count are not filled in and stay
// zero.
func (f *Facade) RoutingStats() vmtypes.RoutingStats {
	return f.router.Stats()
}

// Store exposes the underlying VersionedStore for callers that need to
// begin transactions directly (e.g. read-only queries outside the
// routed-execution contract).
func (f *Facade) Store() *store.Store {
	return f.scheduler.StoreHandle()
}
