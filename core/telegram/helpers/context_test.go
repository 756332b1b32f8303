package helpers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/telegram/helpers"
	"github.com/m3rciful/formbot/core/telegram/teletest"
)

func TestConversationID(t *testing.T) {
	c := teletest.NewMessage(100, "hi")
	assert.Equal(t, int64(100), helpers.ConversationID(c))

	c = teletest.NewMessage(0, "hi")
	c.Upd.Message.Chat = nil
	c.Upd.Message.Sender = &tele.User{ID: 7}
	assert.Equal(t, int64(7), helpers.ConversationID(c))
}

func TestBuildContextCaches(t *testing.T) {
	c := teletest.NewMessage(100, "hi")
	ctx := helpers.BuildContext(c)
	assert.Equal(t, int64(100), logger.ChatIDFrom(ctx))
	assert.NotEmpty(t, logger.RIDFrom(ctx))

	again := helpers.BuildContext(c)
	assert.Equal(t, logger.RIDFrom(ctx), logger.RIDFrom(again))

	h := helpers.WithHandler(c, "start")
	assert.Equal(t, "start", logger.HandlerFrom(h))
}

func TestSendTextInlineWithoutDispatcher(t *testing.T) {
	helpers.SetDispatcher(nil)
	c := teletest.NewMessage(100, "hi")
	assert.NoError(t, helpers.SendText(c, "hello"))
	assert.Equal(t, []string{"hello"}, c.SentTexts())
}
