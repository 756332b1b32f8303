package sender

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestDispatcherKeepsOrderPerKey(t *testing.T) {
	d := NewDispatcher(Options{Workers: 3, QueueSize: 100})

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, d.Enqueue(context.Background(), 42, "send.text", "sendMessage", func() error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}))
	}
	d.Close()

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 2, RetryBackoff: time.Millisecond})

	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), 1, "send.text", "sendMessage", func() error {
		if calls.Add(1) < 3 {
			return syscall.ECONNRESET
		}
		return nil
	}))
	d.Close()

	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, d.ErrorCount())
}

func TestDispatcherCountsPermanentFailure(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, MaxRetries: 3, RetryBackoff: time.Millisecond})

	var calls atomic.Int32
	require.NoError(t, d.Enqueue(context.Background(), 1, "send.text", "sendMessage", func() error {
		calls.Add(1)
		return errors.New("telegram: bad request (400)")
	}))
	d.Close()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), d.ErrorCount())
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(Options{})
	d.Close()
	d.Close()
	assert.ErrorIs(t, d.Enqueue(context.Background(), 1, "a", "b", func() error { return nil }), ErrQueueClosed)
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.Enqueue(context.Background(), 1, "a", "b", func() error {
		close(started)
		<-block
		return nil
	}))
	<-started
	require.NoError(t, d.Enqueue(context.Background(), 1, "a", "b", func() error { return nil }))
	assert.ErrorIs(t, d.Enqueue(context.Background(), 1, "a", "b", func() error { return nil }), ErrQueueFull)
	close(block)
	d.Close()
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "", ClassifyError(nil))
	assert.Equal(t, "timeout", ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, "dns", ClassifyError(&net.DNSError{Err: "no such host", Name: "x"}))
	assert.Equal(t, "dial", ClassifyError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, "http_4xx", ClassifyError(&tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}))
	assert.Equal(t, "http_4xx", ClassifyError(tele.FloodError{RetryAfter: 3}))
	assert.Equal(t, "http_5xx", ClassifyError(errors.New("telegram: internal (502)")))
	assert.Equal(t, "unknown", ClassifyError(errors.New("weird")))
}

func TestSanitizeErrorMessage(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:ABC-def_ghi/sendMessage": EOF`)
	assert.NotContains(t, sanitizeErrorMessage(err), "ABC-def_ghi")
	assert.Contains(t, sanitizeErrorMessage(err), "bot<redacted>")
}
