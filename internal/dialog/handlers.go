// Package dialog implements the bot's conversation: the registration form,
// the user listing, weather lookups, photo sizes and the echo fallback.
package dialog

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/formbot/core/logger"
	tg "github.com/m3rciful/formbot/core/telegram"
	"github.com/m3rciful/formbot/core/telegram/callbacks"
	"github.com/m3rciful/formbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/formbot/core/telegram/helpers"
	"github.com/m3rciful/formbot/core/telegram/keyboard"
	"github.com/m3rciful/formbot/core/telegram/router"
	"github.com/m3rciful/formbot/core/telegram/state"
	"github.com/m3rciful/formbot/internal/users"
	"github.com/m3rciful/formbot/internal/weather"

	tele "gopkg.in/telebot.v4"
)

const (
	StateAwaitingName state.State = "awaiting_name"
	StateAwaitingAge  state.State = "awaiting_age"
	StateAwaitingCity state.State = "awaiting_city"
)

// CallbackOption is the unique of the greeting buttons; the payload is the option number.
const CallbackOption = "option"

const (
	keyName = "name"
	keyAge  = "age"
)

// Telegram rejects messages longer than 4096 characters.
const maxMessageLen = 4000

// Copier re-sends an existing message, as Bot.Copy does.
type Copier interface {
	Copy(to tele.Recipient, msg tele.Editable, opts ...any) (*tele.Message, error)
}

// Options configures New. Weather may be nil, which disables /weather lookups.
type Options struct {
	Sessions *state.Store
	Users    users.Store
	Weather  weather.Fetcher
	Copier   Copier
}

// Handlers owns the dialog transitions.
type Handlers struct {
	sessions *state.Store
	users    users.Store
	weather  weather.Fetcher
	copier   Copier
}

// New validates opts.
func New(opts Options) (*Handlers, error) {
	if opts.Sessions == nil {
		return nil, errors.New("dialog: sessions are required")
	}
	if opts.Users == nil {
		return nil, errors.New("dialog: user store is required")
	}
	if opts.Copier == nil {
		return nil, errors.New("dialog: copier is required")
	}
	return &Handlers{
		sessions: opts.Sessions,
		users:    opts.Users,
		weather:  opts.Weather,
		copier:   opts.Copier,
	}, nil
}

// Register binds commands, callbacks, state handlers, photo and fallback.
func (h *Handlers) Register(reg *tg.Registry, r *router.Router) error {
	reg.RegisterCommand("/start", commands.Command{Handler: h.Start, Description: "Start registration"})
	reg.RegisterCommand("/users", commands.Command{Handler: h.Users, Description: "List registered users"})
	reg.RegisterCommand("/weather", commands.Command{Handler: h.Weather, Description: "Current weather for a city"})
	reg.RegisterCommand("/help", commands.Command{Handler: h.Help, Description: "Show help", Aliases: []string{"/echo"}})
	if err := reg.RegisterCallback(CallbackOption, h.Option); err != nil {
		return fmt.Errorf("dialog: %w", err)
	}
	reg.SetCallbackNotFound(h.Unsupported)

	r.HandleState(StateAwaitingName, h.Name)
	r.HandleState(StateAwaitingAge, h.Age)
	r.HandleState(StateAwaitingCity, h.City)
	r.HandlePhoto(h.Photo)
	r.SetFallback(h.Echo)
	return nil
}

// Start resets the conversation and offers the two options.
func (h *Handlers) Start(c tele.Context) error {
	h.sessions.Clear(tghelpers.ConversationID(c))
	markup := keyboard.Inline(keyboard.Row(CallbackOption,
		keyboard.Button{Text: "Option 1", Data: "1"},
		keyboard.Button{Text: "Option 2", Data: "2"},
	))
	return tghelpers.SendMarkup(c, fmt.Sprintf(textGreeting, FullName(c.Sender())), markup)
}

// Option starts the registration form. Both options lead to the same form,
// and pressing one mid-dialog starts over.
func (h *Handlers) Option(c tele.Context) error {
	n, err := callbacks.PayloadInt(c)
	if err != nil || (n != 1 && n != 2) {
		return h.Unsupported(c)
	}
	_ = c.Respond()
	h.sessions.Update(tghelpers.ConversationID(c), func(s *state.Session) {
		clear(s.Data)
		s.State = StateAwaitingName
	})
	if err := tghelpers.EditText(c, fmt.Sprintf(textOptionChosen, n)); err != nil {
		return err
	}
	return tghelpers.SendText(c, textAskName)
}

// Unsupported answers callbacks nothing is registered for.
func (h *Handlers) Unsupported(c tele.Context) error {
	return c.Respond(&tele.CallbackResponse{Text: textUnsupported})
}

// Name stores the name and asks for the age.
func (h *Handlers) Name(c tele.Context) error {
	name, err := ParseName(c.Text())
	if err != nil {
		logValidation(c, err)
		return tghelpers.SendText(c, textNameInvalid)
	}
	h.sessions.Update(tghelpers.ConversationID(c), func(s *state.Session) {
		s.Data[keyName] = name
		s.State = StateAwaitingAge
	})
	return tghelpers.SendText(c, textAskAge)
}

// Age validates the age and persists the record.
func (h *Handlers) Age(c tele.Context) error {
	id := tghelpers.ConversationID(c)
	age, err := ParseAge(c.Text())
	if err != nil {
		logValidation(c, err)
		return tghelpers.SendText(c, textAgeInvalid)
	}

	sess := h.sessions.Update(id, func(s *state.Session) {
		s.Data[keyAge] = strconv.Itoa(age)
	})
	// the form always ends here, whatever the store says
	defer h.sessions.Clear(id)

	name, ok := sess.Value(keyName)
	if !ok {
		logger.Warn(tghelpers.BuildContext(c), "dialog", "register.no_name")
		return tghelpers.SendText(c, textFailure)
	}

	ctx := tghelpers.BuildContext(c)
	err = h.users.Insert(ctx, users.Record{ChatID: id, Name: name, Age: age})
	switch {
	case err == nil:
		return tghelpers.SendText(c, fmt.Sprintf(textRegistered, name, age))
	case errors.Is(err, users.ErrDuplicate):
		return tghelpers.SendText(c, textAlreadyExists)
	default:
		logger.Error(ctx, "dialog", "register.failed",
			slog.String("status", "fail"),
			slog.String("err", logger.ErrText(err)),
		)
		return tghelpers.SendText(c, textFailure)
	}
}

// Users lists every registered user, split across messages when long.
func (h *Handlers) Users(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	list, err := h.users.List(ctx)
	if err != nil {
		logger.Error(ctx, "dialog", "users.list.failed",
			slog.String("status", "fail"),
			slog.String("err", logger.ErrText(err)),
		)
		return tghelpers.SendText(c, textFailure)
	}
	if len(list) == 0 {
		return tghelpers.SendText(c, textNoUsers)
	}
	for _, chunk := range FormatUsers(list, maxMessageLen) {
		if err := tghelpers.SendText(c, chunk); err != nil {
			return err
		}
	}
	return nil
}

// FormatUsers renders "1. Ann, 30" lines, packed into messages of at most limit bytes.
func FormatUsers(list []users.Record, limit int) []string {
	var (
		out []string
		b   strings.Builder
	)
	for i, u := range list {
		line := fmt.Sprintf("%d. %s, %d", i+1, u.Name, u.Age)
		if b.Len() > 0 && b.Len()+1+len(line) > limit {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// Weather asks for a city.
func (h *Handlers) Weather(c tele.Context) error {
	if h.weather == nil {
		return tghelpers.SendText(c, textWeatherOff)
	}
	h.sessions.Update(tghelpers.ConversationID(c), func(s *state.Session) {
		clear(s.Data)
		s.State = StateAwaitingCity
	})
	return tghelpers.SendText(c, textAskCity)
}

// City fetches and reports the weather. Bad city names re-prompt; service failures end the lookup.
func (h *Handlers) City(c tele.Context) error {
	id := tghelpers.ConversationID(c)
	if h.weather == nil {
		h.sessions.Clear(id)
		return tghelpers.SendText(c, textWeatherOff)
	}

	ctx := tghelpers.BuildContext(c)
	rep, err := h.weather.Fetch(ctx, c.Text())
	if err == nil {
		h.sessions.Clear(id)
		temp := strconv.FormatFloat(rep.TempC, 'f', 1, 64)
		return tghelpers.SendText(c, fmt.Sprintf(textWeatherReport, rep.City, temp, rep.Humidity))
	}

	var werr *weather.Error
	if errors.As(err, &werr) && werr.Retryable() {
		return tghelpers.SendText(c, textCityNotFound)
	}
	h.sessions.Clear(id)
	return tghelpers.SendText(c, textWeatherDown)
}

// Photo reports the size of the largest photo variant.
func (h *Handlers) Photo(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Photo == nil {
		return h.Echo(c)
	}
	return tghelpers.SendText(c, fmt.Sprintf(textPhotoSize, msg.Photo.Width, msg.Photo.Height))
}

// Help sends the static command overview.
func (h *Handlers) Help(c tele.Context) error {
	return tghelpers.SendText(c, textHelp)
}

// Echo returns text verbatim and copies anything else back to the chat.
func (h *Handlers) Echo(c tele.Context) error {
	msg := c.Message()
	if msg == nil {
		return nil
	}
	if msg.Text != "" {
		return tghelpers.SendText(c, msg.Text)
	}
	to := c.Recipient()
	return tghelpers.Enqueue(c, "copy", "copyMessage", func() error {
		if _, err := h.copier.Copy(to, msg); err != nil {
			logger.Debug(tghelpers.BuildContext(c), "dialog", "echo.copy_failed",
				slog.String("err", logger.ErrText(err)),
			)
			return c.Send(textNiceTry)
		}
		return nil
	})
}

// FullName joins first and last name, falling back to the username.
func FullName(u *tele.User) string {
	if u == nil {
		return "there"
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return "there"
}

func logValidation(c tele.Context, err error) {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return
	}
	logger.Info(tghelpers.BuildContext(c), "dialog", "input.invalid",
		slog.String("status", "fail"),
		slog.String("field", verr.Field),
		slog.String("reason", verr.Reason),
	)
}
