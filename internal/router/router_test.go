package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/txnvm/core/pkg/config"
	"github.com/txnvm/core/pkg/vmtypes"
)

type fakeOwnership struct {
	fast bool
}

func (f fakeOwnership) ShouldUseFastPath(ids []vmtypes.ObjectID, sender vmtypes.Address) bool {
	return f.fast
}

type fakeConflictSource struct {
	conflict, success float64
}

func (f fakeConflictSource) RecentConflictRate() float64 { return f.conflict }
func (f fakeConflictSource) RecentSuccessRate() float64  { return f.success }

func TestClassifyPrivacyAlwaysWins(t *testing.T) {
	r := New(fakeOwnership{fast: true}, nil, false, config.DefaultAdaptiveRouterConfig())
	path := r.Classify(Candidate{Privacy: vmtypes.Private})
	assert.Equal(t, vmtypes.PrivatePath, path)
}

// TestFastPathHappyPath exercises scenario 1 from spec.md §8 at the
// router layer: non-adaptive routing sends an eligible tx to FastPath.
func TestFastPathHappyPath(t *testing.T) {
	r := New(fakeOwnership{fast: true}, nil, false, config.DefaultAdaptiveRouterConfig())
	path := r.Classify(Candidate{})
	assert.Equal(t, vmtypes.FastPath, path)
	assert.Equal(t, uint64(1), r.Stats().FastCount)
}

func TestClassifyFallsBackToConsensusWhenIneligible(t *testing.T) {
	r := New(fakeOwnership{fast: false}, nil, false, config.DefaultAdaptiveRouterConfig())
	path := r.Classify(Candidate{})
	assert.Equal(t, vmtypes.ConsensusPath, path)
}

func TestAdaptiveAdjustmentDecreasesRatioOnHighConflict(t *testing.T) {
	cfg := config.DefaultAdaptiveRouterConfig()
	cfg.UpdateEvery = 1
	r := New(fakeOwnership{fast: true}, fakeConflictSource{conflict: 0.9, success: 0.9}, true, cfg)

	before := r.TargetFastRatio()
	r.Classify(Candidate{})
	after := r.TargetFastRatio()
	assert.Less(t, after, before)
}

func TestAdaptiveRatioClampedToBounds(t *testing.T) {
	cfg := config.DefaultAdaptiveRouterConfig()
	cfg.UpdateEvery = 1
	cfg.MinRatio = 0.4
	cfg.InitialFastRatio = 0.41
	r := New(fakeOwnership{fast: true}, fakeConflictSource{conflict: 0.9, success: 0.9}, true, cfg)

	for i := 0; i < 5; i++ {
		r.Classify(Candidate{})
	}
	assert.GreaterOrEqual(t, r.TargetFastRatio(), cfg.MinRatio)
}
