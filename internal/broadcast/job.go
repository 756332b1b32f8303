// Package broadcast sends the daily notification to every registered user.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/metrics"
	"github.com/m3rciful/formbot/core/telegram/sender"
	"github.com/m3rciful/formbot/internal/users"
)

// JobName identifies the broadcast in logs and in the run claims table.
const JobName = "daily_broadcast"

// Sender delivers one message, as Bot.Send does.
type Sender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// Options configures NewJob.
type Options struct {
	Users   users.Store
	Sender  Sender
	Message string
	// RatePerSecond paces deliveries, default 20.
	RatePerSecond float64
	Metrics       *metrics.Metrics
}

// Result summarizes one run.
type Result struct {
	RunID  string
	Total  int
	Sent   int
	Failed int
}

// Job implements scheduler.Job.
type Job struct {
	users   users.Store
	sender  Sender
	message string
	rps     float64
	metrics *metrics.Metrics
}

// NewJob validates opts.
func NewJob(opts Options) (*Job, error) {
	if opts.Users == nil || opts.Sender == nil {
		return nil, errors.New("broadcast: users and sender are required")
	}
	if opts.Message == "" {
		return nil, errors.New("broadcast: message is required")
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	return &Job{
		users:   opts.Users,
		sender:  opts.Sender,
		message: opts.Message,
		rps:     opts.RatePerSecond,
		metrics: opts.Metrics,
	}, nil
}

func (j *Job) Name() string { return JobName }

func (j *Job) Run(ctx context.Context) error {
	_, err := j.Broadcast(ctx)
	return err
}

// Broadcast sends the message to every user. A failing recipient is logged and
// skipped; only a failed listing or a cancelled ctx stops the run.
func (j *Job) Broadcast(ctx context.Context) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	start := time.Now()

	list, err := j.users.List(ctx)
	if err != nil {
		j.finish(ctx, res, start, err)
		return res, fmt.Errorf("broadcast: list users: %w", err)
	}
	res.Total = len(list)

	limiter := rate.NewLimiter(rate.Limit(j.rps), 1)
	for _, u := range list {
		if err := limiter.Wait(ctx); err != nil {
			j.finish(ctx, res, start, err)
			return res, fmt.Errorf("broadcast: %w", err)
		}
		if _, err := j.sender.Send(tele.ChatID(u.ChatID), j.message); err != nil {
			res.Failed++
			logger.LogEvent(ctx, logger.BCAST, slog.LevelWarn, "broadcast.deliver",
				slog.String("status", "fail"),
				slog.String("run_id", res.RunID),
				slog.Int64("chat_id", u.ChatID),
				slog.String("err_kind", sender.ClassifyError(err)),
				slog.String("err", logger.ErrText(err)),
			)
			continue
		}
		res.Sent++
	}
	j.finish(ctx, res, start, nil)
	return res, nil
}

func (j *Job) finish(ctx context.Context, res Result, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
	case err != nil:
		outcome = "fail"
	}
	j.metrics.ObserveBroadcast(outcome, res.Sent, res.Failed, time.Now())

	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("outcome", outcome),
		slog.String("run_id", res.RunID),
		slog.Int("recipients", res.Total),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", logger.ErrText(err)))
		logger.LogEvent(ctx, logger.BCAST, slog.LevelError, "broadcast.run", attrs...)
		return
	}
	logger.LogEvent(ctx, logger.BCAST, slog.LevelInfo, "broadcast.run", attrs...)
}
