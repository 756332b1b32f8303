package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/formbot/core/config"
	"github.com/m3rciful/formbot/core/metrics"
	"github.com/m3rciful/formbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// DefaultMiddlewares builds the shared middleware chain that runs inside a conversation lane.
func DefaultMiddlewares(cfg *coreconfig.Config, m *metrics.Metrics, onLimited tele.HandlerFunc) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
		{Name: "logger", Use: middleware.LoggerMiddleware},
	}

	if cfg != nil {
		interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
		if interval > 0 {
			ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
			for _, t := range cfg.RateLimit.ExcludeUpdates {
				ex[strings.ToLower(t)] = struct{}{}
			}
			mws = append(mws, Middleware{
				Name: "rate_limit",
				Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
					Interval:  interval,
					Burst:     cfg.RateLimit.Burst,
					Exclude:   ex,
					OnLimited: onLimited,
					Metrics:   m,
				}),
			})
		}
	}

	return append(mws, Middleware{Name: "metrics", Use: middleware.ReplyStatsMiddleware})
}
