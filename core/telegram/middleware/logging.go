package middleware

import (
	"log/slog"
	"sync"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/formbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const seenCapacity = 512

// seenUpdates remembers the most recent update ids in a fixed ring.
type seenUpdates struct {
	mu   sync.Mutex
	ring [seenCapacity]int
	next int
	set  map[int]struct{}
}

// firstTime records id and reports whether it had not been seen yet.
func (s *seenUpdates) firstTime(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set == nil {
		s.set = make(map[int]struct{}, seenCapacity)
	}
	if _, ok := s.set[id]; ok {
		return false
	}
	if len(s.set) == seenCapacity {
		delete(s.set, s.ring[s.next])
	}
	s.ring[s.next] = id
	s.next = (s.next + 1) % seenCapacity
	s.set[id] = struct{}{}
	return true
}

var received seenUpdates

// LoggerMiddleware stores the per-update logging context and writes one sampled
// update.received line. Webhook redelivery reuses update ids, so each id is logged once.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		c.Set("rid", logger.RIDFrom(ctx))

		upd := c.Update()
		if logger.ShouldSampleDebug() && received.firstTime(upd.ID) {
			logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", receiptAttrs(c)...)
		}
		return next(c)
	}
}

func receiptAttrs(c tele.Context) []slog.Attr {
	attrs := []slog.Attr{slog.String("status", "ok")}
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
	}
	if user := c.Sender(); user != nil {
		if user.Username != "" {
			attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
		}
		if user.LanguageCode != "" {
			attrs = append(attrs, slog.String("lang", user.LanguageCode))
		}
	}

	upd := c.Update()
	switch {
	case upd.Callback != nil:
		key, payload := callbacks.Parse(upd.Callback)
		attrs = append(attrs, slog.String("kind", "callback"))
		if key != "" {
			attrs = append(attrs, slog.String("cb_key", logger.SanitizeLimit(key, 128)))
		}
		if payload != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(payload, 256)))
		}
	case upd.Message != nil && upd.Message.Photo != nil:
		attrs = append(attrs, slog.String("kind", "photo"))
	case upd.Message != nil:
		attrs = append(attrs, slog.String("kind", "message"))
		if t := c.Text(); t != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(t, 256)))
		}
	}
	return attrs
}
