// Package keyboard builds inline reply markups whose buttons route to registered callback keys.
package keyboard

import tele "gopkg.in/telebot.v4"

// Button is a label and the payload delivered with its callback.
type Button struct {
	Text string
	Data string
}

// Row lays buttons out on one row, each pressing into callback key.
func Row(key string, buttons ...Button) []tele.InlineButton {
	row := make([]tele.InlineButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tele.InlineButton{Unique: key, Text: b.Text, Data: b.Data})
	}
	return row
}

// Inline wraps rows into a markup. Empty rows are dropped.
func Inline(rows ...[]tele.InlineButton) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	for _, r := range rows {
		if len(r) > 0 {
			markup.InlineKeyboard = append(markup.InlineKeyboard, r)
		}
	}
	return markup
}

// Grid splits buttons into rows of up to perRow; perRow < 1 means one per row.
func Grid(key string, perRow int, buttons ...Button) *tele.ReplyMarkup {
	perRow = max(perRow, 1)
	var rows [][]tele.InlineButton
	for len(buttons) > 0 {
		n := min(perRow, len(buttons))
		rows = append(rows, Row(key, buttons[:n]...))
		buttons = buttons[n:]
	}
	return Inline(rows...)
}
