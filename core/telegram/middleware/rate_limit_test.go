package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/formbot/core/telegram/teletest"
)

func TestRateLimitMiddleware(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limited := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Second,
		Burst:     2,
		OnLimited: func(tele.Context) error { limited++; return nil },
		Now:       func() time.Time { return now },
	})
	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })

	for i := 0; i < 3; i++ {
		assert.NoError(t, h(teletest.NewMessage(1, "hi")))
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, limited)

	// other users have their own bucket
	assert.NoError(t, h(teletest.NewMessage(2, "hi")))
	assert.Equal(t, 3, calls)

	now = now.Add(time.Second)
	assert.NoError(t, h(teletest.NewMessage(1, "hi")))
	assert.Equal(t, 4, calls)
}

func TestRateLimitExcludesKinds(t *testing.T) {
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{"callback": {}},
	})
	calls := 0
	h := mw(func(tele.Context) error { calls++; return nil })
	for i := 0; i < 3; i++ {
		_ = h(teletest.NewCallback(1, "\foption|1"))
	}
	assert.Equal(t, 3, calls)
}

func TestRecoverMiddlewareReturnsError(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(teletest.NewMessage(1, "hi"))
	assert.ErrorContains(t, err, "boom")
}

func TestReplyStatsCounts(t *testing.T) {
	var stats ReplyStats
	h := ReplyStatsMiddleware(func(c tele.Context) error {
		_ = c.Send("a")
		_ = c.Send("b", &tele.ReplyMarkup{})
		stats = Replies(c)
		return nil
	})
	assert.NoError(t, h(teletest.NewMessage(1, "hi")))
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 0, stats.Edited)
	assert.Equal(t, 2, stats.Total())
	assert.True(t, stats.Keyboard)
}

func TestRepliesWithoutMiddleware(t *testing.T) {
	assert.Equal(t, ReplyStats{}, Replies(teletest.NewMessage(1, "hi")))
}

func TestLoggerMiddlewareStoresContext(t *testing.T) {
	c := teletest.NewMessage(5, "hi")
	h := LoggerMiddleware(func(c tele.Context) error { return nil })
	assert.NoError(t, h(c))
	assert.NotEmpty(t, c.Get("rid"))
	_, ok := c.Get("logger_ctx").(interface{ Done() <-chan struct{} })
	assert.True(t, ok)
}

func TestSeenUpdatesForgetsOldest(t *testing.T) {
	var s seenUpdates
	assert.True(t, s.firstTime(1))
	assert.False(t, s.firstTime(1))
	for i := 2; i <= seenCapacity+1; i++ {
		assert.True(t, s.firstTime(i))
	}
	assert.True(t, s.firstTime(1), "id 1 should have been evicted")
	assert.False(t, s.firstTime(seenCapacity+1))
}
