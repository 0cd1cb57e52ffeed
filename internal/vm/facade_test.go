package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txnvm/core/internal/ownership"
	"github.com/txnvm/core/internal/privacy"
	"github.com/txnvm/core/internal/router"
	"github.com/txnvm/core/internal/scheduler"
	"github.com/txnvm/core/internal/store"
	"github.com/txnvm/core/pkg/config"
	"github.com/txnvm/core/pkg/vmtypes"
)

func newTestFacade(t *testing.T) (*Facade, *ownership.Registry, *store.Store) {
	t.Helper()
	st, err := store.New(store.Config{NumShards: 4})
	require.NoError(t, err)

	reg := ownership.New()
	sched := scheduler.NewOptimized(st, config.DefaultOptimizedSchedulerConfig())
	r := router.New(reg, sched, false, config.DefaultAdaptiveRouterConfig())
	facadeCfg := config.DefaultFacadeConfig()
	facadeCfg.FallbackWhitelist = []string{"not owned"}
	f := New(r, sched, privacy.FakeVerifier{}, facadeCfg)
	return f, reg, st
}

func addr(b byte) vmtypes.Address {
	var a vmtypes.Address
	a[0] = b
	return a
}

func objID(b byte) vmtypes.ObjectID {
	var id vmtypes.ObjectID
	id[0] = b
	return id
}

// TestFastPathHappyPath exercises scenario 1 from spec.md §8.
func TestFastPathHappyPath(t *testing.T) {
	f, reg, _ := newTestFacade(t)
	id := objID(0xAA)
	sender := addr(0x11)
	require.NoError(t, reg.Register(vmtypes.ObjectMetadata{ID: id, Ownership: vmtypes.Owned(sender)}))

	receipt := f.Execute(
		Tx{ID: "tx1", Objects: []vmtypes.ObjectID{id}, Sender: sender},
		func() (any, error) { return nil, nil },
		func(txn *store.Txn) (any, error) { return nil, nil },
	)

	assert.Equal(t, vmtypes.FastPath, receipt.Path)
	assert.True(t, receipt.Success)
	assert.False(t, receipt.FallbackToConsensus)
	assert.Equal(t, uint64(1), f.RoutingStats().FastCount)
}

// TestConsensusDueToSharedObject exercises scenario 2 from spec.md §8.
func TestConsensusDueToSharedObject(t *testing.T) {
	f, reg, st := newTestFacade(t)
	id := objID(0xBB)
	require.NoError(t, reg.Register(vmtypes.ObjectMetadata{ID: id, Ownership: vmtypes.Shared()}))

	receipt := f.Execute(
		Tx{ID: "tx1", Objects: []vmtypes.ObjectID{id}, Sender: addr(0x01)},
		func() (any, error) { return nil, nil },
		func(txn *store.Txn) (any, error) { return nil, txn.Write([]byte("shared-key"), []byte("v")) },
	)

	assert.Equal(t, vmtypes.ConsensusPath, receipt.Path)
	assert.True(t, receipt.Success)

	ro := st.BeginReadOnly()
	val, ok := ro.Read([]byte("shared-key"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)
}

// TestFallbackWithWhitelistMatch exercises scenario 4 from spec.md §8:
// the router classifies the tx onto FastPath (object is Owned(sender)),
// but the fast_op itself detects late that the object is not owned and
// returns a whitelisted error, triggering fallback to ConsensusPath.
func TestFallbackWithWhitelistMatch(t *testing.T) {
	f, reg, _ := newTestFacade(t)
	id := objID(0xCC)
	sender := addr(0x11)
	require.NoError(t, reg.Register(vmtypes.ObjectMetadata{ID: id, Ownership: vmtypes.Owned(sender)}))

	receipt := f.Execute(
		Tx{ID: "tx1", Objects: []vmtypes.ObjectID{id}, Sender: sender},
		func() (any, error) { return nil, errors.New("object not owned by requester") },
		func(txn *store.Txn) (any, error) { return nil, txn.Write([]byte("k"), []byte("v")) },
	)

	assert.True(t, receipt.FallbackToConsensus)
	assert.Equal(t, vmtypes.ConsensusPath, receipt.Path)
	assert.True(t, receipt.Success)
}

func TestPrivatePathRejectsInvalidProof(t *testing.T) {
	f, _, _ := newTestFacade(t)
	receipt := f.Execute(
		Tx{ID: "tx1", Privacy: vmtypes.Private, Proof: []byte{0}},
		func() (any, error) { return nil, nil },
		func(txn *store.Txn) (any, error) { return nil, nil },
	)
	assert.False(t, receipt.Success)
	assert.Equal(t, vmtypes.PrivatePath, receipt.Path)
}

func TestPrivatePathAcceptsValidProof(t *testing.T) {
	f, _, _ := newTestFacade(t)
	receipt := f.Execute(
		Tx{ID: "tx1", Privacy: vmtypes.Private, Proof: []byte{1}},
		func() (any, error) { return nil, nil },
		func(txn *store.Txn) (any, error) { return nil, txn.Write([]byte("k"), []byte("v")) },
	)
	assert.True(t, receipt.Success)
}
