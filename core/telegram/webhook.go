package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/metrics"

	tele "gopkg.in/telebot.v4"
)

const (
	secretHeader   = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateBytes = 1 << 20
)

// WebhookPoller receives updates on POST /{token}, the bot token being the path secret.
// Once the token matches the request is always acknowledged with 200 so Telegram does not redeliver.
// The same listener serves /healthz and /metrics.
type WebhookPoller struct {
	// Listen is the host:port to bind.
	Listen string
	// PublicURL is the externally reachable base; the token is appended as the path.
	PublicURL      string
	Token          string
	SecretToken    string
	MaxConnections int
	DropPending    bool
	AllowedUpdates []string
	Metrics        *metrics.Metrics
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Handler builds the HTTP surface. Decoded updates go to dest until stop closes.
func (p *WebhookPoller) Handler(dest chan<- tele.Update, stop <-chan struct{}) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/{token}", p.serveUpdate(dest, stop))
	metrics.Mount(r, p.Metrics)
	return r
}

func (p *WebhookPoller) serveUpdate(dest chan<- tele.Update, stop <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !equalSecret(chi.URLParam(r, "token"), p.Token) {
			p.reject(w, r, "token_mismatch")
			return
		}
		if p.SecretToken != "" && !equalSecret(r.Header.Get(secretHeader), p.SecretToken) {
			p.reject(w, r, "secret_mismatch")
			return
		}

		var upd tele.Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBytes)).Decode(&upd); err != nil {
			p.Metrics.IncWebhook("malformed")
			logger.HTTP.LogAttrs(r.Context(), slog.LevelWarn, "webhook.decode_failed",
				slog.String("status", "skip"),
				slog.String("err", logger.ErrText(err)),
			)
			w.WriteHeader(http.StatusOK)
			return
		}

		select {
		case dest <- upd:
			p.Metrics.IncWebhook("ok")
		case <-stop:
			p.Metrics.IncWebhook("dropped")
		case <-r.Context().Done():
			p.Metrics.IncWebhook("dropped")
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (p *WebhookPoller) reject(w http.ResponseWriter, r *http.Request, reason string) {
	p.Metrics.IncWebhook("forbidden")
	logger.HTTP.LogAttrs(r.Context(), slog.LevelWarn, "webhook.rejected",
		slog.String("status", "rejected"),
		slog.String("cause", reason),
		slog.String("remote", r.RemoteAddr),
	)
	w.WriteHeader(http.StatusForbidden)
}

func equalSecret(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// EndpointURL is the URL registered with Telegram.
func (p *WebhookPoller) EndpointURL() string {
	return p.PublicURL + "/" + p.Token
}

// Poll registers the webhook and serves updates until stop closes.
// A failed registration is logged and the listener still starts, so a
// previously registered webhook keeps delivering.
func (p *WebhookPoller) Poll(b *tele.Bot, dest chan tele.Update, stop chan struct{}) {
	hook := &tele.Webhook{
		MaxConnections: p.MaxConnections,
		AllowedUpdates: p.AllowedUpdates,
		DropUpdates:    p.DropPending,
		SecretToken:    p.SecretToken,
		Endpoint:       &tele.WebhookEndpoint{PublicURL: p.EndpointURL()},
	}
	if err := b.SetWebhook(hook); err != nil {
		logger.TG.Error("set webhook failed",
			slog.String("event", "tg.set_webhook"),
			slog.String("status", "fail"),
			slog.String("public_url", p.PublicURL),
			slog.String("err", logger.ErrText(err)),
		)
	} else {
		logger.TG.Info("webhook registered",
			slog.String("event", "tg.set_webhook"),
			slog.String("status", "ok"),
			slog.String("public_url", p.PublicURL),
		)
	}

	srv := &http.Server{
		Addr:              p.Listen,
		Handler:           p.Handler(dest, stop),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.HTTP.Info("webhook listener started",
			slog.String("event", "http.listen"),
			slog.String("listen", p.Listen),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-stop:
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.HTTP.Error("webhook listener failed",
				slog.String("event", "http.listen"),
				slog.String("status", "fail"),
				slog.String("err", logger.ErrText(err)),
			)
		}
		<-stop
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.HTTP.Warn("webhook shutdown",
			slog.String("event", "http.shutdown"),
			slog.String("err", logger.ErrText(err)),
		)
	}
}
