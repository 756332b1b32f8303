package serial

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueKeepsOrderPerKey(t *testing.T) {
	q := New(nil)

	var mu sync.Mutex
	got := map[int64][]int{}
	for i := 0; i < 50; i++ {
		for _, key := range []int64{1, 2, 3} {
			i, key := i, key
			require.NoError(t, q.Submit(key, func() {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			}))
		}
	}
	q.Close()

	for _, key := range []int64{1, 2, 3} {
		require.Len(t, got[key], 50)
		for i, v := range got[key] {
			assert.Equal(t, i, v)
		}
	}
	assert.Zero(t, q.Lanes())
}

func TestQueueKeysRunInParallel(t *testing.T) {
	q := New(nil)
	defer q.Close()

	block := make(chan struct{})
	done := make(chan struct{})
	require.NoError(t, q.Submit(1, func() { <-block }))
	require.NoError(t, q.Submit(2, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("key 2 blocked behind key 1")
	}
	close(block)
}

func TestQueueNeverOverlapsSameKey(t *testing.T) {
	q := New(nil)

	var running, overlaps atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, q.Submit(7, func() {
			if running.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		}))
	}
	q.Close()
	assert.Zero(t, overlaps.Load())
}

func TestQueueSurvivesPanic(t *testing.T) {
	q := New(nil)

	var ran atomic.Bool
	require.NoError(t, q.Submit(1, func() { panic("boom") }))
	require.NoError(t, q.Submit(1, func() { ran.Store(true) }))
	q.Close()
	assert.True(t, ran.Load())
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := New(nil)
	q.Close()
	assert.ErrorIs(t, q.Submit(1, func() {}), ErrClosed)
	assert.Error(t, q.Submit(1, nil))
}
