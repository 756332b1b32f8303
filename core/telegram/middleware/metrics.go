package middleware

import (
	tele "gopkg.in/telebot.v4"
)

const replyStatsKey = "reply_stats"

// ReplyStats counts what a handler sent back through its context.
type ReplyStats struct {
	Sent     int
	Edited   int
	Keyboard bool
}

// Total is the number of outbound messages, edits included.
func (s ReplyStats) Total() int { return s.Sent + s.Edited }

type replyCountingContext struct {
	tele.Context
	stats *ReplyStats
}

func (r replyCountingContext) record(err error, edit bool, opts []interface{}) error {
	if err != nil {
		return err
	}
	if edit {
		r.stats.Edited++
	} else {
		r.stats.Sent++
	}
	if carriesMarkup(opts) {
		r.stats.Keyboard = true
	}
	return nil
}

func carriesMarkup(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.ReplyMarkup:
			return v != nil
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		}
	}
	return false
}

func (r replyCountingContext) Send(what interface{}, opts ...interface{}) error {
	return r.record(r.Context.Send(what, opts...), false, opts)
}

func (r replyCountingContext) Reply(what interface{}, opts ...interface{}) error {
	return r.record(r.Context.Reply(what, opts...), false, opts)
}

func (r replyCountingContext) Edit(what interface{}, opts ...interface{}) error {
	return r.record(r.Context.Edit(what, opts...), true, opts)
}

func (r replyCountingContext) EditOrSend(what interface{}, opts ...interface{}) error {
	return r.record(r.Context.EditOrSend(what, opts...), true, opts)
}

func (r replyCountingContext) EditOrReply(what interface{}, opts ...interface{}) error {
	return r.record(r.Context.EditOrReply(what, opts...), true, opts)
}

// ReplyStatsMiddleware wraps the context so sends and edits are counted for the handler summary.
func ReplyStatsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		stats := &ReplyStats{}
		c.Set(replyStatsKey, stats)
		return next(replyCountingContext{Context: c, stats: stats})
	}
}

// Replies returns the counters gathered so far, zero when the middleware did not run.
func Replies(c tele.Context) ReplyStats {
	if s, ok := c.Get(replyStatsKey).(*ReplyStats); ok && s != nil {
		return *s
	}
	return ReplyStats{}
}
