package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
// With no dispatcher the helpers send inline.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func sendAsync(c tele.Context, action, endpoint string, run func() error) error {
	disp := globalDispatcher.Load()
	if disp == nil {
		return run()
	}

	ctx := BuildContext(c)
	if err := disp.Enqueue(ctx, ConversationID(c), action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// Enqueue runs an arbitrary outbound call on the chat's ordered sender lane.
func Enqueue(c tele.Context, action, endpoint string, run func() error) error {
	return sendAsync(c, action, endpoint, run)
}

// SendText sends plain text to the current chat.
func SendText(c tele.Context, text string) error {
	return sendAsync(c, "send.text", "sendMessage", func() error {
		return c.Send(text)
	})
}

// SendMarkup sends plain text with a reply markup.
func SendMarkup(c tele.Context, text string, markup *tele.ReplyMarkup) error {
	return sendAsync(c, "send.markup", "sendMessage", func() error {
		return c.Send(text, markup)
	})
}

// EditText replaces the text of the message a callback came from, or sends it when there is none.
func EditText(c tele.Context, text string) error {
	return sendAsync(c, "edit.text", "editMessageText", func() error {
		return c.EditOrSend(text)
	})
}
