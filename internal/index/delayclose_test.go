package index

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDelayCloserClosesAfterLastRelease(t *testing.T) {
	var closes atomic.Int32
	d := NewDelayCloser(func() error {
		closes.Add(1)
		return nil
	})

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, d.Open())
		}()
	}
	wg.Wait()

	assert.NoError(t, d.CloseWhenDone())
	assert.False(t, d.Open())
	for i := 0; i < n-1; i++ {
		assert.NoError(t, d.Close())
		assert.False(t, d.IsClosed())
	}
	assert.Equal(t, int32(0), closes.Load())

	assert.NoError(t, d.Close())
	assert.True(t, d.IsClosed())
	assert.Equal(t, int32(1), closes.Load())

	assert.NoError(t, d.CloseWhenDone())
	assert.Equal(t, int32(1), closes.Load())
}

func TestDelayCloserClosesImmediatelyWhenUnused(t *testing.T) {
	closed := false
	d := NewDelayCloser(func() error {
		closed = true
		return nil
	})
	assert.True(t, d.Open())
	assert.NoError(t, d.Close())
	assert.False(t, closed)

	assert.NoError(t, d.CloseWhenDone())
	assert.True(t, closed)
	assert.True(t, d.IsClosed())
}
