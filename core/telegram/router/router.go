// Package router dispatches every update to exactly one handler by a fixed priority table.
package router

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/metrics"
	tg "github.com/m3rciful/formbot/core/telegram"
	tghelpers "github.com/m3rciful/formbot/core/telegram/helpers"
	"github.com/m3rciful/formbot/core/telegram/state"

	tele "gopkg.in/telebot.v4"
)

const tracerName = "github.com/m3rciful/formbot/core/telegram/router"

// SessionReader exposes the dialog state of a conversation.
type SessionReader interface {
	State(id int64) state.State
}

// Options configures New.
type Options struct {
	Registry *tg.Registry
	Sessions SessionReader
	Metrics  *metrics.Metrics
	// Tracer defaults to the global provider.
	Tracer trace.Tracer
}

// Router picks one handler per update:
// start, callback, awaiting-state text, known command, photo, fallback.
type Router struct {
	reg      *tg.Registry
	sessions SessionReader
	states   map[state.State]tele.HandlerFunc
	photo    tele.HandlerFunc
	fallback tele.HandlerFunc
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// New builds a Router. Registry and Sessions are required.
func New(opts Options) *Router {
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Router{
		reg:      opts.Registry,
		sessions: opts.Sessions,
		states:   make(map[state.State]tele.HandlerFunc),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}
}

// HandleState binds the handler for text received while the conversation is in st.
func (r *Router) HandleState(st state.State, h tele.HandlerFunc) {
	if h == nil || st == state.StateIdle {
		return
	}
	r.states[st] = h
}

// HandlePhoto binds the photo handler.
func (r *Router) HandlePhoto(h tele.HandlerFunc) { r.photo = h }

// SetFallback binds the handler for everything no other rule matched.
func (r *Router) SetFallback(h tele.HandlerFunc) { r.fallback = h }

// Routes binds Dispatch to every endpoint carrying a message or callback.
func (r *Router) Routes() []tg.Route {
	endpoints := []string{
		tele.OnText, tele.OnCallback, tele.OnMedia, tele.OnContact, tele.OnLocation,
		tele.OnVenue, tele.OnDice, tele.OnPoll, tele.OnGame, tele.OnInvoice,
	}
	routes := make([]tg.Route, 0, len(endpoints))
	for _, e := range endpoints {
		routes = append(routes, tg.Route{Endpoint: e, Handler: r.Dispatch})
	}
	logger.TWire.Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", r.reg.CommandCount()),
		slog.Int("callbacks", len(r.reg.ListCallbacks())),
		slog.Int("states", len(r.states)),
	)
	return routes
}

// Dispatch classifies c, resolves the handler and runs it. Handler errors are
// logged in the summary line and not returned.
func (r *Router) Dispatch(c tele.Context) error {
	start := time.Now()
	ev := Classify(c)
	r.metrics.IncUpdate(ev.Kind.String())

	st := state.StateIdle
	if ev.ConversationID != 0 {
		st = r.sessions.State(ev.ConversationID)
	}

	name, h := r.resolve(ev, st)
	extras := []slog.Attr{
		slog.String("kind", ev.Kind.String()),
		slog.String("state", string(st)),
	}
	if ev.CallbackKey != "" {
		extras = append(extras, slog.String("cb_key", logger.SanitizeLimit(ev.CallbackKey, 128)))
	}
	if h == nil {
		summary{handler: name, start: start, status: "skip", extras: extras}.log(c)
		return nil
	}

	if ev.Kind == KindCallback {
		ac := &answerContext{Context: c}
		c = ac
		defer func() {
			if !ac.answered {
				_ = ac.Context.Respond()
			}
		}()
	}

	err := r.run(c, ev, name, h)
	r.metrics.ObserveHandler(name, logger.Status(err), time.Since(start))
	summary{handler: name, start: start, err: err, extras: extras}.log(c)
	return nil
}

func (r *Router) resolve(ev Event, st state.State) (string, tele.HandlerFunc) {
	kind := ev.Kind

	var cmdKey string
	var cmdHandler tele.HandlerFunc
	if kind == KindStart || kind == KindCommand {
		if key, cmd, ok := r.reg.LookupCommand(ev.Command); ok {
			cmdKey, cmdHandler = key, cmd.Handler
		} else if kind == KindCommand {
			// unknown names fall through as plain text
			kind = KindText
		}
	}

	switch {
	case kind == KindStart && cmdHandler != nil:
		return handlerName(cmdKey), cmdHandler
	case kind == KindCallback:
		if h, ok := r.reg.GetCallback(ev.CallbackKey); ok {
			return "callback." + handlerName(ev.CallbackKey), h
		}
		return "callback.not_found", r.reg.CallbackNotFound()
	}
	if kind == KindText && st != state.StateIdle {
		if h, ok := r.states[st]; ok {
			return "state." + string(st), h
		}
	}
	switch {
	case kind == KindCommand && cmdHandler != nil:
		return handlerName(cmdKey), cmdHandler
	case kind == KindPhoto && r.photo != nil:
		return "photo", r.photo
	}
	return "fallback", r.fallback
}

func (r *Router) run(c tele.Context, ev Event, name string, h tele.HandlerFunc) error {
	ctx := tghelpers.WithHandler(c, name)
	ctx, span := r.tracer.Start(ctx, "tg.handle "+name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("tg.kind", ev.Kind.String()),
			attribute.Int64("tg.chat_id", ev.ConversationID),
			attribute.Int("tg.update_id", c.Update().ID),
		),
	)
	defer span.End()
	tghelpers.StoreContext(c, logger.WithSpan(ctx))

	err := h(c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, logger.ErrText(err))
	}
	return err
}

// answerContext records whether the handler answered the callback itself.
type answerContext struct {
	tele.Context
	answered bool
}

func (a *answerContext) Respond(resp ...*tele.CallbackResponse) error {
	a.answered = true
	return a.Context.Respond(resp...)
}

func (a *answerContext) RespondText(text string) error {
	return a.Respond(&tele.CallbackResponse{Text: text})
}

func (a *answerContext) RespondAlert(text string) error {
	return a.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
}
