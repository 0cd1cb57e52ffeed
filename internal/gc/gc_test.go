package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txnvm/core/internal/store"
	"github.com/txnvm/core/pkg/config"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{NumShards: 4})
	require.NoError(t, err)
	return s
}

func TestRunOnceEnforcesVersionCap(t *testing.T) {
	st := newTestStore(t)
	for i := 0; i < 10; i++ {
		txn := st.Begin()
		require.NoError(t, txn.Write([]byte("k"), []byte("v")))
		_, err := txn.Commit()
		require.NoError(t, err)
	}

	cfg := config.DefaultGcConfig()
	cfg.MaxVersionsPerKey = 3
	w := New(st, cfg)

	result := w.RunOnce()
	assert.Equal(t, 7, result.VersionsPruned)
}

func TestAutoGCStartStopLifecycle(t *testing.T) {
	st := newTestStore(t)
	cfg := config.DefaultGcConfig()
	cfg.MaxVersionsPerKey = 1
	cfg.AutoGC = &config.AutoGcConfig{IntervalSecs: 0}
	w := New(st, cfg)

	w.interval.Store(int64(5 * time.Millisecond))
	w.StartAutoGC()

	txn := st.Begin()
	require.NoError(t, txn.Write([]byte("k"), []byte("v1")))
	_, err := txn.Commit()
	require.NoError(t, err)
	txn2 := st.Begin()
	require.NoError(t, txn2.Write([]byte("k"), []byte("v2")))
	_, err = txn2.Commit()
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	w.StopAutoGC()

	sh := st.Stats()
	assert.LessOrEqual(t, sh.TotalVersions, 1)
}
