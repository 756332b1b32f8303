package router

import (
	"regexp"

	"github.com/m3rciful/formbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/formbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Kind tags a normalized inbound event.
type Kind int

const (
	KindUnknown Kind = iota
	KindStart
	KindCommand
	KindCallback
	KindPhoto
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindCommand:
		return "command"
	case KindCallback:
		return "callback"
	case KindPhoto:
		return "photo"
	case KindText:
		return "text"
	}
	return "unknown"
}

// Photo carries the dimensions of the largest photo size.
type Photo struct {
	Width  int
	Height int
}

// Event is the transport-neutral view of one update.
type Event struct {
	Kind           Kind
	ConversationID int64
	SenderID       int64
	// Command is the name without slash or @bot suffix.
	Command     string
	Text        string
	CallbackKey string
	Payload     string
	Photo       *Photo
}

var commandRe = regexp.MustCompile(`^/(\w+)(?:@\w+)?(?:\s|$)`)

// Classify normalizes c into an Event.
func Classify(c tele.Context) Event {
	ev := Event{ConversationID: tghelpers.ConversationID(c)}
	if u := c.Sender(); u != nil {
		ev.SenderID = u.ID
	}

	if cb := c.Callback(); cb != nil {
		ev.Kind = KindCallback
		ev.CallbackKey, ev.Payload = callbacks.Parse(cb)
		return ev
	}

	m := c.Message()
	if m == nil {
		return ev
	}
	switch {
	case m.Text != "":
		ev.Text = m.Text
		ev.Kind = KindText
		if sm := commandRe.FindStringSubmatch(m.Text); sm != nil {
			ev.Command = sm[1]
			ev.Kind = KindCommand
			if ev.Command == "start" {
				ev.Kind = KindStart
			}
		}
	case m.Photo != nil:
		ev.Kind = KindPhoto
		ev.Text = m.Caption
		ev.Photo = &Photo{Width: m.Photo.Width, Height: m.Photo.Height}
	}
	return ev
}
