// Package scheduler fires a job once per calendar day at a wall-clock time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/formbot/core/logger"
)

// Job is the unit fired by Daily.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Claimer records that job ran on day (YYYY-MM-DD). It reports false when
// another process or an earlier run already claimed the day.
type Claimer interface {
	Claim(ctx context.Context, job, day string) (bool, error)
}

// Options configures a Daily schedule.
type Options struct {
	Hour, Minute int
	// Location defaults to time.Local.
	Location *time.Location
	// Interval is the tick period, default 1s.
	Interval time.Duration
	// Grace is how late a fire may still happen, default 1m.
	Grace   time.Duration
	Job     Job
	Claimer Claimer
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Daily fires Job once per day inside [HH:MM, HH:MM+Grace). A day missed
// entirely (process down through the window) is skipped, not caught up.
type Daily struct {
	opts      Options
	lastFired string
}

// NewDaily validates opts and applies defaults.
func NewDaily(opts Options) (*Daily, error) {
	if opts.Job == nil {
		return nil, errors.New("scheduler: job is required")
	}
	if opts.Hour < 0 || opts.Hour > 23 || opts.Minute < 0 || opts.Minute > 59 {
		return nil, fmt.Errorf("scheduler: invalid time %02d:%02d", opts.Hour, opts.Minute)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Grace <= 0 {
		opts.Grace = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Daily{opts: opts}, nil
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (int, int, error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("scheduler: clock %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("scheduler: invalid hour in %q", s)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 || len(ms) != 2 {
		return 0, 0, fmt.Errorf("scheduler: invalid minute in %q", s)
	}
	return h, m, nil
}

// Run ticks until ctx is done. Jobs run inline, so a slow job delays the next check only.
func (d *Daily) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	logger.SCHED.Info("scheduler started",
		slog.String("event", "scheduler.start"),
		slog.String("job", d.opts.Job.Name()),
		slog.String("at", fmt.Sprintf("%02d:%02d", d.opts.Hour, d.opts.Minute)),
		slog.String("tz", d.opts.Location.String()),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick evaluates the schedule once and reports whether the job ran.
func (d *Daily) Tick(ctx context.Context) bool {
	now := d.opts.Now().In(d.opts.Location)
	day := now.Format(time.DateOnly)
	if d.lastFired == day {
		return false
	}
	fireAt := time.Date(now.Year(), now.Month(), now.Day(), d.opts.Hour, d.opts.Minute, 0, 0, d.opts.Location)
	if now.Before(fireAt) || !now.Before(fireAt.Add(d.opts.Grace)) {
		return false
	}

	name := d.opts.Job.Name()
	if d.opts.Claimer != nil {
		ok, err := d.opts.Claimer.Claim(ctx, name, day)
		if err != nil {
			// retried next tick while the window is open
			logger.SCHED.Error("claim failed",
				slog.String("event", "scheduler.claim"),
				slog.String("status", "fail"),
				slog.String("job", name),
				slog.String("date", day),
				slog.String("err", logger.ErrText(err)),
			)
			return false
		}
		if !ok {
			d.lastFired = day
			logger.SCHED.Info("already claimed",
				slog.String("event", "scheduler.claim"),
				slog.String("status", "skip"),
				slog.String("job", name),
				slog.String("date", day),
			)
			return false
		}
	}

	d.lastFired = day
	start := time.Now()
	err := d.opts.Job.Run(ctx)
	logger.LogEvent(ctx, logger.SCHED, levelFor(err), "scheduler.fire",
		slog.String("status", logger.Status(err)),
		slog.String("job", name),
		slog.String("date", day),
		slog.Duration("duration", logger.Took(start)),
		slog.String("err", logger.ErrText(err)),
	)
	return true
}

func levelFor(err error) slog.Level {
	if err != nil {
		return slog.LevelError
	}
	return slog.LevelInfo
}
