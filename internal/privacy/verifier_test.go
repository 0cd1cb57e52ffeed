package privacy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeVerifierAcceptsNonZeroFirstByte(t *testing.T) {
	v := FakeVerifier{}
	ok, err := v.Verify([]byte{1, 2, 3}, nil)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Verify([]byte{0, 2, 3}, nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchVerifierFlushesOnCount(t *testing.T) {
	bv := NewBatchVerifier(FakeVerifier{}, 3, time.Hour)

	var wg sync.WaitGroup
	results := make([]bool, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := bv.Submit([]byte{1}, nil)
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.True(t, r)
	}
}

func TestBatchVerifierFlushesOnAge(t *testing.T) {
	bv := NewBatchVerifier(FakeVerifier{}, 100, 20*time.Millisecond)

	ok, err := bv.Submit([]byte{1}, nil)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestBatchVerifierRejectsZeroFirstByte(t *testing.T) {
	bv := NewBatchVerifier(FakeVerifier{}, 1, time.Hour)
	ok, err := bv.Submit([]byte{0}, nil)
	assert.NoError(t, err)
	assert.False(t, ok)
}
