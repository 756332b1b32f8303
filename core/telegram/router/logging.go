package router

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/formbot/core/logger"
	tghelpers "github.com/m3rciful/formbot/core/telegram/helpers"
	"github.com/m3rciful/formbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// summary is the one line written per dispatched update.
type summary struct {
	handler string
	start   time.Time
	status  string // empty derives from err
	err     error
	extras  []slog.Attr
}

func (s summary) log(c tele.Context) {
	replies := middleware.Replies(c)
	status := s.status
	if status == "" {
		status = logger.Status(s.err)
	}

	attrs := make([]slog.Attr, 0, 10+len(s.extras))
	attrs = append(attrs,
		slog.String("status", status),
		slog.String("handler", s.handler),
		slog.String("outcome", logger.Status(s.err)),
		slog.Duration("duration", logger.Took(s.start)),
		slog.Int("messages", replies.Sent),
		slog.Int("edits", replies.Edited),
		slog.Bool("kb", replies.Keyboard),
	)
	if s.err != nil {
		attrs = append(attrs,
			slog.String("err", logger.ErrText(s.err)),
			slog.String("err_code", errorCode(s.err)),
		)
	}
	attrs = append(attrs, s.extras...)
	logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelInfo, "handler.handled", attrs...)
}

// handlerName turns a command or callback key into a metric-safe label.
func handlerName(key string) string {
	key = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(key), "/"))
	if key == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '|' || r == ':' {
			return '_'
		}
		return r
	}, key)
}

// errorCode prefers an explicit Code() and falls back to the error's type name.
func errorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := strings.TrimSpace(coded.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	name := strings.TrimLeft(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "UNKNOWN_ERROR"
	}
	return strings.ToUpper(name)
}
