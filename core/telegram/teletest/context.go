// Package teletest provides an in-memory tele.Context for handler tests.
package teletest

import (
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Sent is one captured outbound call.
type Sent struct {
	What any
	Opts []any
}

// Context records what handlers send. Methods not overridden here panic through the nil embedded interface.
type Context struct {
	tele.Context

	Upd tele.Update
	// SendErr is returned by Send, Reply and Edit when set.
	SendErr error

	mu        sync.Mutex
	sent      []Sent
	edited    []Sent
	responses []*tele.CallbackResponse
	store     map[string]any
}

var nextUpdateID atomic.Int64

func newContext(upd tele.Update) *Context {
	if upd.ID == 0 {
		upd.ID = int(nextUpdateID.Add(1))
	}
	return &Context{Upd: upd, store: map[string]any{}}
}

func message(chatID int64) *tele.Message {
	return &tele.Message{
		ID:       1,
		Unixtime: time.Now().Unix(),
		Chat:     &tele.Chat{ID: chatID, Type: tele.ChatPrivate},
		Sender:   &tele.User{ID: chatID, FirstName: "Test", LastName: "User", Username: "tester"},
	}
}

// NewMessage builds a text message update from chatID.
func NewMessage(chatID int64, text string) *Context {
	m := message(chatID)
	m.Text = text
	return newContext(tele.Update{Message: m})
}

// NewPhoto builds a photo message update whose largest size is w x h.
func NewPhoto(chatID int64, w, h int) *Context {
	m := message(chatID)
	m.Photo = &tele.Photo{File: tele.File{FileID: "photo"}, Width: w, Height: h}
	return newContext(tele.Update{Message: m})
}

// NewCallback builds a callback update carrying raw button data.
func NewCallback(chatID int64, data string) *Context {
	m := message(chatID)
	m.Text = "Choose an option:"
	return newContext(tele.Update{Callback: &tele.Callback{
		ID:      "cb",
		Sender:  m.Sender,
		Message: m,
		Data:    data,
	}})
}

func (c *Context) Update() tele.Update { return c.Upd }

func (c *Context) Message() *tele.Message {
	switch {
	case c.Upd.Message != nil:
		return c.Upd.Message
	case c.Upd.Callback != nil:
		return c.Upd.Callback.Message
	}
	return nil
}

func (c *Context) Callback() *tele.Callback { return c.Upd.Callback }

func (c *Context) Sender() *tele.User {
	switch {
	case c.Upd.Callback != nil:
		return c.Upd.Callback.Sender
	case c.Upd.Message != nil:
		return c.Upd.Message.Sender
	}
	return nil
}

func (c *Context) Chat() *tele.Chat {
	if m := c.Message(); m != nil {
		return m.Chat
	}
	return nil
}

func (c *Context) Recipient() tele.Recipient {
	if chat := c.Chat(); chat != nil {
		return chat
	}
	return c.Sender()
}

func (c *Context) Text() string {
	m := c.Message()
	if m == nil {
		return ""
	}
	if m.Caption != "" {
		return m.Caption
	}
	return m.Text
}

func (c *Context) Data() string {
	if c.Upd.Callback != nil {
		return c.Upd.Callback.Data
	}
	if m := c.Message(); m != nil {
		return m.Payload
	}
	return ""
}

func (c *Context) Send(what any, opts ...any) error {
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Sent{What: what, Opts: opts})
	return nil
}

func (c *Context) Reply(what any, opts ...any) error { return c.Send(what, opts...) }

func (c *Context) Edit(what any, opts ...any) error {
	if c.SendErr != nil {
		return c.SendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edited = append(c.edited, Sent{What: what, Opts: opts})
	return nil
}

func (c *Context) EditOrSend(what any, opts ...any) error {
	if c.Upd.Callback != nil {
		return c.Edit(what, opts...)
	}
	return c.Send(what, opts...)
}

func (c *Context) Respond(resp ...*tele.CallbackResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(resp) == 0 {
		c.responses = append(c.responses, &tele.CallbackResponse{})
		return nil
	}
	c.responses = append(c.responses, resp[0])
	return nil
}

func (c *Context) RespondText(text string) error {
	return c.Respond(&tele.CallbackResponse{Text: text})
}

func (c *Context) RespondAlert(text string) error {
	return c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
}

func (c *Context) Get(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store[key]
}

func (c *Context) Set(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = val
}

// SentCalls returns captured sends.
func (c *Context) SentCalls() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// SentTexts returns the string payloads of captured sends.
func (c *Context) SentTexts() []string {
	return texts(c.SentCalls())
}

// EditedTexts returns the string payloads of captured edits.
func (c *Context) EditedTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return texts(c.edited)
}

// Responses returns captured callback answers.
func (c *Context) Responses() []*tele.CallbackResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*tele.CallbackResponse(nil), c.responses...)
}

func texts(calls []Sent) []string {
	var out []string
	for _, s := range calls {
		if t, ok := s.What.(string); ok {
			out = append(out, t)
		}
	}
	return out
}
