package telegram

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/formbot/core/metrics"
)

const testToken = "123456:ABC-def"

func newTestWebhook(t *testing.T, secret string) (http.Handler, chan tele.Update) {
	t.Helper()
	p := &WebhookPoller{Token: testToken, SecretToken: secret, Metrics: metrics.New("test")}
	dest := make(chan tele.Update, 4)
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	return p.Handler(dest, stop), dest
}

func post(h http.Handler, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcceptsUpdate(t *testing.T) {
	h, dest := newTestWebhook(t, "")
	rec := post(h, "/"+testToken, `{"update_id":10,"message":{"message_id":1,"date":1,"chat":{"id":5,"type":"private"},"text":"hi"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, dest, 1)
	upd := <-dest
	assert.Equal(t, 10, upd.ID)
	assert.Equal(t, "hi", upd.Message.Text)
}

func TestWebhookRejectsWrongToken(t *testing.T) {
	h, dest := newTestWebhook(t, "")
	rec := post(h, "/123456:wrong", `{"update_id":1}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, dest)
}

func TestWebhookMalformedBodyStillOK(t *testing.T) {
	h, dest := newTestWebhook(t, "")
	rec := post(h, "/"+testToken, `{not json`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, dest)
}

func TestWebhookSecretHeader(t *testing.T) {
	h, dest := newTestWebhook(t, "s3cret")
	rec := post(h, "/"+testToken, `{"update_id":1}`, map[string]string{secretHeader: "nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = post(h, "/"+testToken, `{"update_id":1}`, map[string]string{secretHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, dest, 1)
}

func TestWebhookHealthAndMetrics(t *testing.T) {
	h, _ := newTestWebhook(t, "")
	post(h, "/"+testToken, `{"update_id":1}`, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_webhook_requests_total{status="ok"} 1`)
}

func TestWebhookOnlyAcceptsPost(t *testing.T) {
	h, _ := newTestWebhook(t, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+testToken, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBuildPoller(t *testing.T) {
	p := BuildPoller(PollerOptions{
		RunMode: "webhook",
		Token:   testToken,
		Webhook: WebhookOptions{Listen: "0.0.0.0", Port: 8443, URL: "https://bot.example.com/"},
	})
	wp, ok := p.(*WebhookPoller)
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8443", wp.Listen)
	assert.Equal(t, "https://bot.example.com/"+testToken, wp.EndpointURL())

	lp, ok := BuildPoller(PollerOptions{RunMode: "longpoll"}).(*tele.LongPoller)
	require.True(t, ok)
	assert.Equal(t, "10s", lp.Timeout.String())
}
