// Package router implements PathRouter: per-transaction execution-path
// classification, route counters, and optional adaptive fast-ratio tuning.
package router

import (
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/txnvm/core/pkg/config"
	"github.com/txnvm/core/pkg/log"
	"github.com/txnvm/core/pkg/vmtypes"
)

// OwnershipChecker is the capability PathRouter needs from the ownership
// registry: whether a transaction's objects all qualify for the fast path.
type OwnershipChecker interface {
	ShouldUseFastPath(ids []vmtypes.ObjectID, sender vmtypes.Address) bool
}

// ConflictSource supplies the recent conflict/success rates the adaptive
// adjustment reads; the scheduler implements it.
type ConflictSource interface {
	RecentConflictRate() float64
	RecentSuccessRate() float64
}

// Candidate is the routing input for one transaction.
type Candidate struct {
	Objects []vmtypes.ObjectID
	Sender  vmtypes.Address
	Privacy vmtypes.Privacy
}

// Router classifies transactions and tracks route counters. The adaptive
// ratio, when enabled, is read from an atomic so classification never
// blocks on tuning.
type Router struct {
	ownership OwnershipChecker
	conflicts ConflictSource

	adaptive     bool
	cfg          config.AdaptiveRouterConfig
	targetRatio  atomic.Uint64 // float64 bits
	decisions    atomic.Uint64

	fastCount      atomic.Uint64
	consensusCount atomic.Uint64
	privacyCount   atomic.Uint64

	logger zerolog.Logger
}

// New constructs a Router. If adaptive is true, cfg governs the target
// fast-ratio adjustment; conflicts supplies the rates it reads.
func New(ownership OwnershipChecker, conflicts ConflictSource, adaptive bool, cfg config.AdaptiveRouterConfig) *Router {
	r := &Router{
		ownership: ownership,
		conflicts: conflicts,
		adaptive:  adaptive,
		cfg:       cfg,
		logger:    log.WithComponent("router"),
	}
	r.setRatio(cfg.InitialFastRatio)
	return r
}

func (r *Router) setRatio(v float64) {
	r.targetRatio.Store(math.Float64bits(v))
}

func (r *Router) ratio() float64 {
	return math.Float64frombits(r.targetRatio.Load())
}

// Classify applies the spec's classification rule in order: privacy,
// then fast-path eligibility gated by the adaptive draw, then consensus.
func (r *Router) Classify(c Candidate) vmtypes.ExecutionPath {
	if c.Privacy == vmtypes.Private {
		r.privacyCount.Add(1)
		r.afterDecision()
		return vmtypes.PrivatePath
	}

	eligible := r.ownership.ShouldUseFastPath(c.Objects, c.Sender)
	if eligible {
		if !r.adaptive || rand.Float64() <= r.ratio() {
			r.fastCount.Add(1)
			r.afterDecision()
			return vmtypes.FastPath
		}
	}

	r.consensusCount.Add(1)
	r.afterDecision()
	return vmtypes.ConsensusPath
}

// afterDecision increments the decision counter and triggers the
// adaptive adjustment every UpdateEvery decisions.
func (r *Router) afterDecision() {
	if !r.adaptive || r.conflicts == nil {
		return
	}
	n := r.decisions.Add(1)
	if r.cfg.UpdateEvery == 0 || n%r.cfg.UpdateEvery != 0 {
		return
	}
	r.adjust()
}

// adjust applies spec.md §4.5's adaptive adjustment rule.
func (r *Router) adjust() {
	conflictRate := r.conflicts.RecentConflictRate()
	successRate := r.conflicts.RecentSuccessRate()

	ratio := r.ratio()
	switch {
	case conflictRate > r.cfg.ConflictHigh:
		ratio -= r.cfg.StepDown
	case conflictRate < r.cfg.ConflictLow:
		ratio += r.cfg.StepUp
	}
	if successRate < r.cfg.SuccessLow && conflictRate > r.cfg.ConflictLow {
		ratio -= r.cfg.StepDown
	}

	if ratio < r.cfg.MinRatio {
		ratio = r.cfg.MinRatio
	}
	if ratio > r.cfg.MaxRatio {
		ratio = r.cfg.MaxRatio
	}
	r.setRatio(ratio)
	r.logger.Debug().Float64("target_fast_ratio", ratio).Float64("conflict_rate", conflictRate).Float64("success_rate", successRate).Msg("adaptive ratio adjusted")
}

// TargetFastRatio returns the router's current target fast-path ratio.
func (r *Router) TargetFastRatio() float64 { return r.ratio() }

// Stats returns a point-in-time snapshot of the route counters.
func (r *Router) Stats() vmtypes.RoutingStats {
	return vmtypes.RoutingStats{
		FastCount:      r.fastCount.Load(),
		ConsensusCount: r.consensusCount.Load(),
		PrivacyCount:   r.privacyCount.Load(),
	}
}
