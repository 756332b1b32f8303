// Package serial runs work in arrival order per key while different keys proceed in parallel.
package serial

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/m3rciful/formbot/core/logger"
	"github.com/m3rciful/formbot/core/metrics"

	tele "gopkg.in/telebot.v4"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("serial: queue closed")

// Queue owns one lane per active key. A lane goroutine exists only while the lane has work.
type Queue struct {
	mu     sync.Mutex
	lanes  map[int64]*lane
	closed bool
	wg     sync.WaitGroup

	metrics *metrics.Metrics
}

type lane struct {
	tasks []func()
}

// New creates an empty queue. m may be nil.
func New(m *metrics.Metrics) *Queue {
	return &Queue{lanes: make(map[int64]*lane), metrics: m}
}

// Submit appends task to the lane for key.
func (q *Queue) Submit(key int64, task func()) error {
	if task == nil {
		return errors.New("serial: nil task")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if l, ok := q.lanes[key]; ok {
		l.tasks = append(l.tasks, task)
		q.mu.Unlock()
		q.metrics.AddPending(1)
		return nil
	}
	l := &lane{}
	q.lanes[key] = l
	q.wg.Add(1)
	q.mu.Unlock()

	go q.drain(key, l, task)
	return nil
}

func (q *Queue) drain(key int64, l *lane, task func()) {
	defer q.wg.Done()
	for {
		q.run(key, task)

		q.mu.Lock()
		if len(l.tasks) == 0 {
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		task = l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		q.mu.Unlock()
		q.metrics.AddPending(-1)
	}
}

func (q *Queue) run(key int64, task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.TG.Error("panic recovered",
				slog.String("event", "tg.panic"),
				slog.Int64("chat_id", key),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	task()
}

// Lanes reports the number of keys with queued or running work.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// Close rejects new work and waits for queued work to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}

// Middleware moves handling of each update onto the lane chosen by key.
// Updates with key 0 run inline. Handler errors go to onError, which may be nil.
func Middleware(q *Queue, key func(tele.Context) int64, onError func(error, tele.Context)) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			k := key(c)
			if k == 0 {
				return next(c)
			}
			err := q.Submit(k, func() {
				if err := next(c); err != nil && onError != nil {
					onError(err, c)
				}
			})
			if err != nil {
				logger.TG.Warn("update dropped",
					slog.String("event", "tg.serial.reject"),
					slog.Int64("chat_id", k),
					slog.Int("update_id", c.Update().ID),
					slog.String("err", logger.ErrText(err)),
				)
			}
			return nil
		}
	}
}
