// Package middleware holds the global Telebot middleware chain.
package middleware

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/metrics"
	tghelpers "github.com/m3rciful/formbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	// Interval is the sustained spacing between updates from one user.
	Interval time.Duration
	// Burst is how many updates may arrive back to back.
	Burst     int
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
	Metrics   *metrics.Metrics
	// IdleTTL drops limiters of users silent for this long.
	IdleTTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type userLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// UpdateKind names the update type used for exclusions.
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return "callback"
	case upd.Message != nil:
		return "message"
	case upd.Query != nil:
		return "inline_query"
	}
	return "other"
}

// RateLimitMiddleware drops updates from users exceeding a token bucket of Burst tokens refilled every Interval.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	var (
		mu     sync.Mutex
		users  = make(map[int64]*userLimiter)
		lastGC time.Time
	)
	allow := func(userID int64, now time.Time) bool {
		mu.Lock()
		defer mu.Unlock()
		if now.Sub(lastGC) > opts.IdleTTL {
			for id, u := range users {
				if now.Sub(u.seen) > opts.IdleTTL {
					delete(users, id)
				}
			}
			lastGC = now
		}
		u, ok := users[userID]
		if !ok {
			u = &userLimiter{lim: rate.NewLimiter(rate.Every(opts.Interval), opts.Burst)}
			users[userID] = u
		}
		u.seen = now
		return u.lim.AllowN(now, 1)
	}

	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[UpdateKind(c.Update())]; skip {
				return next(c)
			}
			if allow(user.ID, opts.Now()) {
				return next(c)
			}

			opts.Metrics.IncRateLimited()
			logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelWarn, "tg.rate_limit",
				slog.String("status", "rate_limited"),
				slog.Int64("user_id", user.ID),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
