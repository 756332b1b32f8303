package dialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/formbot/core/telegram"
	tghelpers "github.com/m3rciful/formbot/core/telegram/helpers"
	"github.com/m3rciful/formbot/core/telegram/router"
	"github.com/m3rciful/formbot/core/telegram/state"
	"github.com/m3rciful/formbot/core/telegram/teletest"
	"github.com/m3rciful/formbot/internal/users"
	"github.com/m3rciful/formbot/internal/weather"
)

const chat int64 = 42

type memUsers struct {
	mu      sync.Mutex
	records []users.Record
	err     error
}

func (m *memUsers) Insert(_ context.Context, rec users.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, r := range m.records {
		if r.ChatID == rec.ChatID {
			return users.ErrDuplicate
		}
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memUsers) List(context.Context) ([]users.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]users.Record(nil), m.records...), nil
}

type fakeWeather map[string]error

func (f fakeWeather) Fetch(_ context.Context, city string) (weather.Report, error) {
	if err, ok := f[city]; ok {
		return weather.Report{}, err
	}
	return weather.Report{City: city, TempC: 18.3, Humidity: 70}, nil
}

type fakeCopier struct {
	err    error
	copied []tele.Editable
}

func (f *fakeCopier) Copy(_ tele.Recipient, msg tele.Editable, _ ...any) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.copied = append(f.copied, msg)
	return &tele.Message{}, nil
}

type bot struct {
	t        *testing.T
	router   *router.Router
	sessions *state.Store
	users    *memUsers
	copier   *fakeCopier
}

func newBot(t *testing.T) *bot {
	t.Helper()
	tghelpers.SetDispatcher(nil)
	b := &bot{
		t:        t,
		sessions: state.NewStore(state.Options{}),
		users:    &memUsers{},
		copier:   &fakeCopier{},
	}
	h, err := New(Options{
		Sessions: b.sessions,
		Users:    b.users,
		Copier:   b.copier,
		Weather: fakeWeather{
			"Atlantis": &weather.Error{Kind: weather.KindNotFound, City: "Atlantis"},
			"Garbled":  &weather.Error{Kind: weather.KindMalformed, City: "Garbled"},
			"Slow":     &weather.Error{Kind: weather.KindTimeout, City: "Slow"},
			"Down":     &weather.Error{Kind: weather.KindUpstream, City: "Down"},
		},
	})
	require.NoError(t, err)

	reg := tg.NewRegistry()
	b.router = router.New(router.Options{Registry: reg, Sessions: b.sessions})
	require.NoError(t, h.Register(reg, b.router))
	return b
}

func (b *bot) send(c *teletest.Context) *teletest.Context {
	b.t.Helper()
	require.NoError(b.t, b.router.Dispatch(c))
	return c
}

func (b *bot) text(text string) *teletest.Context {
	return b.send(teletest.NewMessage(chat, text))
}

func (b *bot) state() state.State {
	return b.sessions.State(chat)
}

func TestRegistrationScenario(t *testing.T) {
	b := newBot(t)

	c := b.text("/start")
	require.Len(t, c.SentCalls(), 1)
	assert.Equal(t, "Hello, Test User!", c.SentTexts()[0])
	markup, ok := c.SentCalls()[0].Opts[0].(*tele.ReplyMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Equal(t, state.StateIdle, b.state())

	c = b.send(teletest.NewCallback(chat, "\foption|1"))
	assert.Equal(t, []string{"You chose option 1."}, c.EditedTexts())
	assert.Equal(t, []string{textAskName}, c.SentTexts())
	assert.Len(t, c.Responses(), 1)
	assert.Equal(t, StateAwaitingName, b.state())

	c = b.text("Ann")
	assert.Equal(t, []string{textAskAge}, c.SentTexts())
	assert.Equal(t, StateAwaitingAge, b.state())
	name, _ := b.sessions.Get(chat).Value("name")
	assert.Equal(t, "Ann", name)

	c = b.text("30")
	require.Len(t, c.SentTexts(), 1)
	assert.Contains(t, c.SentTexts()[0], "Ann")
	assert.Contains(t, c.SentTexts()[0], "30")
	assert.Equal(t, state.StateIdle, b.state())
	assert.Empty(t, b.sessions.Get(chat).Data)
	assert.Equal(t, []users.Record{{ChatID: chat, Name: "Ann", Age: 30}}, b.users.records)
}

func TestOptionTwoStartsForm(t *testing.T) {
	b := newBot(t)
	c := b.send(teletest.NewCallback(chat, "\foption|2"))
	assert.Equal(t, []string{"You chose option 2."}, c.EditedTexts())
	assert.Equal(t, StateAwaitingName, b.state())
}

func TestUnknownCallbackPayload(t *testing.T) {
	b := newBot(t)
	for _, data := range []string{"\foption|7", "\fother|1", "raw"} {
		c := b.send(teletest.NewCallback(chat, data))
		require.Len(t, c.Responses(), 1, data)
		assert.Equal(t, textUnsupported, c.Responses()[0].Text)
		assert.Equal(t, state.StateIdle, b.state())
	}
}

func TestInvalidAgeKeepsWaiting(t *testing.T) {
	b := newBot(t)
	b.send(teletest.NewCallback(chat, "\foption|1"))
	b.text("Ann")

	for _, in := range []string{"abc", "-1", "151", "3.5", "thirty"} {
		c := b.text(in)
		assert.Equal(t, []string{textAgeInvalid}, c.SentTexts(), in)
		assert.Equal(t, StateAwaitingAge, b.state())
	}
	assert.Empty(t, b.users.records)

	b.text("150")
	assert.Equal(t, state.StateIdle, b.state())
	require.Len(t, b.users.records, 1)
}

func TestDuplicateRegistration(t *testing.T) {
	b := newBot(t)
	b.users.records = []users.Record{{ChatID: chat, Name: "Ann", Age: 30}}

	b.send(teletest.NewCallback(chat, "\foption|1"))
	b.text("Bob")
	c := b.text("40")
	assert.Equal(t, []string{textAlreadyExists}, c.SentTexts())
	assert.Equal(t, state.StateIdle, b.state())
	assert.Len(t, b.users.records, 1)
}

func TestStoreFailureClearsSession(t *testing.T) {
	b := newBot(t)
	b.send(teletest.NewCallback(chat, "\foption|1"))
	b.text("Ann")
	b.users.err = errors.New("connection reset")

	c := b.text("30")
	assert.Equal(t, []string{textFailure}, c.SentTexts())
	assert.Equal(t, state.StateIdle, b.state())
	assert.Empty(t, b.sessions.Get(chat).Data)
}

func TestStartResetsDialog(t *testing.T) {
	b := newBot(t)
	b.send(teletest.NewCallback(chat, "\foption|1"))
	b.text("Ann")
	b.text("/start")
	assert.Equal(t, state.StateIdle, b.state())
	assert.Empty(t, b.sessions.Get(chat).Data)
}

func TestUsersListing(t *testing.T) {
	b := newBot(t)
	c := b.text("/users")
	assert.Equal(t, []string{textNoUsers}, c.SentTexts())

	b.users.records = []users.Record{{ChatID: 1, Name: "Ann", Age: 30}, {ChatID: 2, Name: "Bob", Age: 25}}
	c = b.text("/users")
	assert.Equal(t, []string{"1. Ann, 30\n2. Bob, 25"}, c.SentTexts())

	b.users.err = errors.New("db down")
	c = b.text("/users")
	assert.Equal(t, []string{textFailure}, c.SentTexts())
}

func TestFormatUsersSplitsLongLists(t *testing.T) {
	list := make([]users.Record, 50)
	for i := range list {
		list[i] = users.Record{ChatID: int64(i), Name: strings.Repeat("x", 20), Age: 1}
	}
	chunks := FormatUsers(list, 100)
	require.Greater(t, len(chunks), 1)
	lines := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 100)
		lines += len(strings.Split(c, "\n"))
	}
	assert.Equal(t, 50, lines)
	assert.True(t, strings.HasPrefix(chunks[1], "5. ") || strings.HasPrefix(chunks[1], "4. "))
}

func TestWeatherFlow(t *testing.T) {
	b := newBot(t)

	c := b.text("/weather")
	assert.Equal(t, []string{textAskCity}, c.SentTexts())
	assert.Equal(t, StateAwaitingCity, b.state())

	for _, city := range []string{"Atlantis", "Garbled"} {
		c = b.text(city)
		assert.Equal(t, []string{textCityNotFound}, c.SentTexts())
		assert.Equal(t, StateAwaitingCity, b.state())
	}

	c = b.text("Paris")
	assert.Equal(t, []string{"Weather in Paris: 18.3°C, humidity 70%"}, c.SentTexts())
	assert.Equal(t, state.StateIdle, b.state())
}

func TestWeatherTransientFailureEndsLookup(t *testing.T) {
	for _, city := range []string{"Slow", "Down"} {
		b := newBot(t)
		b.text("/weather")
		c := b.text(city)
		assert.Equal(t, []string{textWeatherDown}, c.SentTexts())
		assert.Equal(t, state.StateIdle, b.state())
	}
}

func TestAwaitingStateCapturesUnknownCommands(t *testing.T) {
	b := newBot(t)
	b.text("/weather")
	c := b.text("/paris")
	require.Len(t, c.SentTexts(), 1)
	assert.Equal(t, state.StateIdle, b.state())
}

func TestPhotoSize(t *testing.T) {
	b := newBot(t)
	c := b.send(teletest.NewPhoto(chat, 1280, 720))
	assert.Equal(t, []string{"Your image size: 1280 x 720 pixels."}, c.SentTexts())
}

func TestHelpAndEchoAlias(t *testing.T) {
	b := newBot(t)
	for _, cmd := range []string{"/help", "/echo"} {
		c := b.text(cmd)
		assert.Equal(t, []string{textHelp}, c.SentTexts(), cmd)
	}
}

func TestEchoText(t *testing.T) {
	b := newBot(t)
	c := b.text("just chatting")
	assert.Equal(t, []string{"just chatting"}, c.SentTexts())

	c = b.text("/unknown")
	assert.Equal(t, []string{"/unknown"}, c.SentTexts())
}

func TestEchoCopiesOtherContent(t *testing.T) {
	b := newBot(t)
	c := teletest.NewMessage(chat, "")
	c.Upd.Message.Sticker = &tele.Sticker{File: tele.File{FileID: "s"}}
	b.send(c)
	assert.Len(t, b.copier.copied, 1)
	assert.Empty(t, c.SentTexts())

	b.copier.err = errors.New("cannot copy")
	c = teletest.NewMessage(chat, "")
	c.Upd.Message.Sticker = &tele.Sticker{File: tele.File{FileID: "s"}}
	b.send(c)
	assert.Equal(t, []string{textNiceTry}, c.SentTexts())
}

func TestParseName(t *testing.T) {
	n, err := ParseName("  Ann   Lee ")
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", n)

	_, err = ParseName(strings.Repeat("a", 65))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
}

func TestFullName(t *testing.T) {
	assert.Equal(t, "Ann Lee", FullName(&tele.User{FirstName: "Ann", LastName: "Lee"}))
	assert.Equal(t, "Ann", FullName(&tele.User{FirstName: "Ann"}))
	assert.Equal(t, "ann_l", FullName(&tele.User{Username: "ann_l"}))
	assert.Equal(t, "there", FullName(nil))
}
