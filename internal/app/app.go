// Package app wires the formbot components into a runnable Telegram bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/formbot/core/bootstrap"
	"github.com/m3rciful/formbot/core/buildinfo"
	coreconfig "github.com/m3rciful/formbot/core/config"
	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/metrics"
	"github.com/m3rciful/formbot/core/scheduler"
	tg "github.com/m3rciful/formbot/core/telegram"
	"github.com/m3rciful/formbot/core/telegram/router"
	tgsender "github.com/m3rciful/formbot/core/telegram/sender"
	"github.com/m3rciful/formbot/core/telegram/state"
	"github.com/m3rciful/formbot/core/tracing"
	"github.com/m3rciful/formbot/internal/broadcast"
	"github.com/m3rciful/formbot/internal/config"
	"github.com/m3rciful/formbot/internal/dialog"
	"github.com/m3rciful/formbot/internal/users"
	"github.com/m3rciful/formbot/internal/weather"
)

// App holds the long-lived dependencies of one bot process.
type App struct {
	cfg *config.Config

	DB       *sqlx.DB
	Redis    *redis.Client
	Metrics  *metrics.Metrics
	Sessions *state.Store
	Users    users.Store
	Weather  weather.Fetcher

	tracingShutdown tracing.Shutdown
	copier          *lazyCopier

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// test seams
var (
	runBootstrap = bootstrap.Run
	setupTracing = tracing.Setup
	connectRedis = newRedisClient
)

// Bootstrap initializes logging, tracing, the database, the optional Redis cache
// and the domain services.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	a := &App{cfg: cfg, copier: &lazyCopier{}}

	res, err := runBootstrap(ctx, bootstrap.Options{Config: &cfg.Config, Database: cfg.Database})
	if err != nil {
		return nil, err
	}
	a.DB = res.DB

	a.tracingShutdown, err = setupTracing(ctx, cfg.Tracing, buildinfo.Version)
	if err != nil {
		a.closeResources(ctx)
		return nil, err
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(cfg.Metrics.Namespace)
	}
	a.Sessions = state.NewStore(state.Options{
		TTL:     cfg.Sessions.TTL,
		OnSweep: a.Metrics.SetActiveSessions,
	})
	if a.DB != nil {
		a.Users = users.NewRepository(a.DB, cfg.Database.QueryTimeout)
	}

	a.Weather, err = a.buildWeather(ctx)
	if err != nil {
		a.closeResources(ctx)
		return nil, err
	}

	logger.Info(ctx, "app", "app.bootstrap",
		slog.String("status", "ok"),
		slog.Bool("metrics", a.Metrics != nil),
		slog.Bool("redis", a.Redis != nil),
		slog.Bool("weather", a.Weather != nil),
		slog.Bool("broadcast", cfg.Broadcast.Enabled),
	)
	return a, nil
}

func (a *App) buildWeather(ctx context.Context) (weather.Fetcher, error) {
	wc := a.cfg.Weather
	if wc.APIKey == "" {
		logger.Warn(ctx, "app", "weather.disabled", slog.String("reason", "no api key"))
		return nil, nil
	}
	client, err := weather.NewClient(weather.Options{
		BaseURL: wc.BaseURL,
		APIKey:  wc.APIKey,
		Timeout: wc.Timeout,
		Metrics: a.Metrics,
	})
	if err != nil {
		return nil, err
	}
	if !a.cfg.Redis.Enabled() {
		return client, nil
	}
	rdb, err := connectRedis(ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.Redis = rdb
	return &weather.CachedFetcher{
		Next:    client,
		Cache:   weather.NewRedisCache(rdb, a.cfg.Redis.Timeout),
		TTL:     wc.CacheTTL,
		Metrics: a.Metrics,
	}, nil
}

func newRedisClient(ctx context.Context, rc config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		DialTimeout:  rc.Timeout,
		ReadTimeout:  rc.Timeout,
		WriteTimeout: rc.Timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, rc.Timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", rc.Addr, err)
	}
	return rdb, nil
}

// TelegramRunOptions registers the dialog and returns the runtime configuration.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	if a.Users == nil {
		return tg.RunOptions{}, errors.New("app: user store not initialized")
	}
	reg := tg.NewRegistry()
	r := router.New(router.Options{Registry: reg, Sessions: a.Sessions, Metrics: a.Metrics})

	h, err := dialog.New(dialog.Options{
		Sessions: a.Sessions,
		Users:    a.Users,
		Weather:  a.Weather,
		Copier:   a.copier,
	})
	if err != nil {
		return tg.RunOptions{}, err
	}
	if err := h.Register(reg, r); err != nil {
		return tg.RunOptions{}, err
	}

	sc := a.cfg.Sender
	return tg.RunOptions{
		Config:   &a.cfg.Config,
		Registry: reg,
		Metrics:  a.Metrics,
		DispatcherOptions: tgsender.Options{
			Workers:      sc.Workers,
			QueueSize:    sc.QueueSize,
			MaxRetries:   sc.MaxRetries,
			RetryBackoff: sc.RetryBackoff,
		},
		Middlewares: tg.DefaultMiddlewares(&a.cfg.Config, a.Metrics, onLimited),
		Routes:      r.Routes(),
		OnStart:     a.onStart,
		OnStop:      a.onStop,
	}, nil
}

func onLimited(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: "Too many requests, slow down."})
	}
	return c.Send("Too many requests, slow down.")
}

func (a *App) onStart(ctx context.Context, rt tg.Runtime) error {
	a.copier.set(rt.Bot)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Sessions.StartJanitor(runCtx, a.cfg.Sessions.JanitorInterval)

	if a.cfg.Broadcast.Enabled {
		daily, err := a.newScheduler(rt.Bot)
		if err != nil {
			cancel()
			return err
		}
		a.goRun(func() { daily.Run(runCtx) })
	}

	if a.Metrics != nil && strings.EqualFold(a.cfg.Telegram.RunMode, coreconfig.RunModeLongpoll) && a.cfg.Metrics.Listen != "" {
		srv := metrics.NewServer(a.cfg.Metrics.Listen, a.Metrics)
		a.goRun(func() {
			if err := metrics.Serve(runCtx, srv); err != nil {
				logger.Error(runCtx, "http", "http.serve",
					slog.String("status", "fail"),
					slog.String("err", logger.ErrText(err)),
				)
			}
		})
	}
	return nil
}

func (a *App) newScheduler(sender broadcast.Sender) (*scheduler.Daily, error) {
	bc := a.cfg.Broadcast
	job, err := broadcast.NewJob(broadcast.Options{
		Users:         a.Users,
		Sender:        sender,
		Message:       bc.Message,
		RatePerSecond: bc.RatePerSecond,
		Metrics:       a.Metrics,
	})
	if err != nil {
		return nil, err
	}
	opts := scheduler.Options{
		Hour:     bc.Hour,
		Minute:   bc.Minute,
		Location: bc.Location,
		Interval: bc.CheckInterval,
		Grace:    bc.Grace,
		Job:      job,
	}
	if a.DB != nil {
		opts.Claimer = broadcast.NewRunStore(a.DB)
	}
	return scheduler.NewDaily(opts)
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *App) onStop(ctx context.Context, _ tg.Runtime) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn(ctx, "app", "shutdown.timeout", slog.String("waiting_for", "background tasks"))
	}
	a.copier.set(nil)
	return a.closeResources(ctx)
}

func (a *App) closeResources(ctx context.Context) error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.tracingShutdown != nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		errs = append(errs, a.tracingShutdown(flushCtx))
		cancel()
	}
	return errors.Join(errs...)
}

// lazyCopier forwards to the bot once it exists; handlers are registered before that.
type lazyCopier struct {
	bot atomic.Pointer[tele.Bot]
}

func (l *lazyCopier) set(b *tele.Bot) { l.bot.Store(b) }

func (l *lazyCopier) Copy(to tele.Recipient, msg tele.Editable, opts ...any) (*tele.Message, error) {
	b := l.bot.Load()
	if b == nil {
		return nil, errors.New("app: bot not running")
	}
	return b.Copy(to, msg, opts...)
}
