package txnvm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txnvm/core/internal/privacy"
	"github.com/txnvm/core/internal/store"
	"github.com/txnvm/core/internal/vm"
	"github.com/txnvm/core/pkg/config"
	"github.com/txnvm/core/pkg/vmtypes"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := Config{
		NumShards: 4,
		Scheduler: config.DefaultOptimizedSchedulerConfig(),
		Facade:    config.DefaultFacadeConfig(),
		Gc:        config.DefaultGcConfig(),
		ZkVerifier: privacy.FakeVerifier{},
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
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

// TestEngineFastPathHappyPath exercises scenario 1 from spec.md §8
// end-to-end through the composed Engine.
func TestEngineFastPathHappyPath(t *testing.T) {
	e := newTestEngine(t)
	id := objID(0xAA)
	sender := addr(0x11)
	require.NoError(t, e.Ownership.Register(vmtypes.ObjectMetadata{ID: id, Ownership: vmtypes.Owned(sender)}))

	receipt := e.Facade.Execute(
		vm.Tx{ID: "tx1", Objects: []vmtypes.ObjectID{id}, Sender: sender},
		func() (any, error) { return nil, nil },
		func(txn *store.Txn) (any, error) { return nil, nil },
	)

	assert.Equal(t, vmtypes.FastPath, receipt.Path)
	assert.True(t, receipt.Success)
}

func TestEngineRejectsBadConfig(t *testing.T) {
	cfg := Config{Scheduler: config.OptimizedSchedulerConfig{DensityFallbackThreshold: 2.0}}
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestEngineStartStopLifecycle(t *testing.T) {
	e := newTestEngine(t)
	e.Start()
	e.Stop()
}
