// Package callbacks decodes Telebot inline button data.
package callbacks

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// ParseCallbackData splits Telebot's \f<unique>|<payload> encoding.
// Data without the \f marker is treated as a bare payload with no key.
func ParseCallbackData(data string) (string, string) {
	raw, ok := strings.CutPrefix(data, "\f")
	if !ok {
		return "", data
	}
	key, payload, _ := strings.Cut(raw, "|")
	return strings.TrimSpace(key), payload
}

// Parse returns the callback key and payload. Unique wins when Telebot already split it.
func Parse(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		return cb.Unique, cb.Data
	}
	return ParseCallbackData(cb.Data)
}

// CallbackKey returns the key of the current callback, if any.
func CallbackKey(c tele.Context) string {
	k, _ := Parse(c.Callback())
	return k
}

// CallbackPayload returns the payload of the current callback, if any.
func CallbackPayload(c tele.Context) string {
	_, p := Parse(c.Callback())
	return p
}

// PayloadInt parses the callback payload as int.
func PayloadInt(c tele.Context) (int, error) {
	return strconv.Atoi(strings.TrimSpace(CallbackPayload(c)))
}
