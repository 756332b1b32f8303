package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/formbot/core/config"
	"github.com/m3rciful/formbot/core/metrics"

	tele "gopkg.in/telebot.v4"
)

// WebhookOptions declares webhook listener settings.
type WebhookOptions struct {
	Listen         string
	Port           int
	URL            string
	SecretToken    string
	MaxConnections int
	DropPending    bool
}

// PollerOptions configures BuildPoller.
type PollerOptions struct {
	RunMode                string
	Token                  string
	LongPollTimeoutSeconds int
	Webhook                WebhookOptions
	Metrics                *metrics.Metrics
}

// BuildPoller returns the update source for the configured run mode.
func BuildPoller(opts PollerOptions) tele.Poller {
	runMode := strings.ToLower(strings.TrimSpace(opts.RunMode))
	if runMode == coreconfig.RunModeWebhook {
		return &WebhookPoller{
			Listen:         joinHostPort(opts.Webhook.Listen, opts.Webhook.Port),
			PublicURL:      strings.TrimRight(opts.Webhook.URL, "/"),
			Token:          opts.Token,
			SecretToken:    opts.Webhook.SecretToken,
			MaxConnections: opts.Webhook.MaxConnections,
			DropPending:    opts.Webhook.DropPending,
			Metrics:        opts.Metrics,
		}
	}

	timeoutSec := opts.LongPollTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 10
	}
	return &tele.LongPoller{Timeout: time.Duration(timeoutSec) * time.Second}
}
