package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTxBloomMayContainTrueForAddedKeys(t *testing.T) {
	b := newTxBloom(100)
	b.add([]byte("hello"))
	assert.True(t, b.mayContain([]byte("hello")))
}

func TestTxBloomIntersectsDetectsSharedKey(t *testing.T) {
	a := newTxBloom(10)
	a.add([]byte("k1"))

	b := newTxBloom(10)
	b.add([]byte("k1"))

	assert.True(t, a.intersects(b))
}

func TestTxBloomGroupKeepsDisjointWritesTogether(t *testing.T) {
	tx1 := buildTxKeys(BatchItem{TxID: "a"}, nil, [][]byte{[]byte("k1")})
	tx2 := buildTxKeys(BatchItem{TxID: "b"}, nil, [][]byte{[]byte("k2")})

	groups, density := bloomGroup([]txKeys{tx1, tx2})
	assert.Len(t, groups, 1)
	assert.Equal(t, 0.0, density)
}

func TestTxBloomGroupSeparatesOverlappingWrites(t *testing.T) {
	tx1 := buildTxKeys(BatchItem{TxID: "a"}, nil, [][]byte{[]byte("shared")})
	tx2 := buildTxKeys(BatchItem{TxID: "b"}, nil, [][]byte{[]byte("shared")})

	groups, density := bloomGroup([]txKeys{tx1, tx2})
	assert.Len(t, groups, 2)
	assert.Greater(t, density, 0.0)
}
