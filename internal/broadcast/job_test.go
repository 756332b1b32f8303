package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/formbot/core/scheduler"
	"github.com/m3rciful/formbot/internal/users"
)

type staticUsers struct {
	list []users.Record
	err  error
}

func (s staticUsers) Insert(context.Context, users.Record) error { return nil }

func (s staticUsers) List(context.Context) ([]users.Record, error) { return s.list, s.err }

type recordingSender struct {
	mu     sync.Mutex
	fail   map[int64]error
	sentTo []int64
}

func (r *recordingSender) Send(to tele.Recipient, what any, _ ...any) (*tele.Message, error) {
	id := int64(to.(tele.ChatID))
	if err := r.fail[id]; err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sentTo = append(r.sentTo, id)
	return &tele.Message{Text: what.(string)}, nil
}

func recipients(ids ...int64) []users.Record {
	out := make([]users.Record, len(ids))
	for i, id := range ids {
		out[i] = users.Record{ChatID: id, Name: "u", Age: 1}
	}
	return out
}

func TestBroadcastSkipsFailingRecipient(t *testing.T) {
	snd := &recordingSender{fail: map[int64]error{2: &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}}}
	job, err := NewJob(Options{
		Users:         staticUsers{list: recipients(1, 2, 3)},
		Sender:        snd,
		Message:       "hello",
		RatePerSecond: 1000,
	})
	require.NoError(t, err)

	res, err := job.Broadcast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []int64{1, 3}, snd.sentTo)
	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)
}

func TestBroadcastListFailure(t *testing.T) {
	job, err := NewJob(Options{Users: staticUsers{err: errors.New("db down")}, Sender: &recordingSender{}, Message: "hi"})
	require.NoError(t, err)
	_, err = job.Broadcast(context.Background())
	assert.ErrorContains(t, err, "list users")
}

func TestBroadcastStopsOnCancel(t *testing.T) {
	snd := &recordingSender{}
	job, err := NewJob(Options{Users: staticUsers{list: recipients(1, 2, 3, 4)}, Sender: snd, Message: "hi", RatePerSecond: 0.001})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := job.Broadcast(ctx)
	require.Error(t, err)
	// the first token is available immediately, the next one is far away
	assert.Equal(t, 1, res.Sent)
}

func TestBroadcastPacing(t *testing.T) {
	snd := &recordingSender{}
	job, err := NewJob(Options{Users: staticUsers{list: recipients(1, 2, 3)}, Sender: snd, Message: "hi", RatePerSecond: 20})
	require.NoError(t, err)

	start := time.Now()
	_, err = job.Broadcast(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestNewJobValidates(t *testing.T) {
	_, err := NewJob(Options{})
	assert.Error(t, err)
	_, err = NewJob(Options{Users: staticUsers{}, Sender: &recordingSender{}})
	assert.Error(t, err)
}

func newRunStore(t *testing.T) *RunStore {
	t.Helper()
	raw, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	raw.SetMaxOpenConns(1)
	db := sqlx.NewDb(raw, "sqlite3")
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE broadcast_runs (
		job        TEXT NOT NULL,
		run_date   TEXT NOT NULL,
		claimed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (job, run_date)
	)`)
	require.NoError(t, err)
	return NewRunStore(db)
}

func TestClaimOncePerDay(t *testing.T) {
	s := newRunStore(t)
	ctx := context.Background()

	ok, err := s.Claim(ctx, JobName, "2026-10-18")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, JobName, "2026-10-18")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Claim(ctx, JobName, "2026-10-19")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScheduledBroadcastFiresOnceAcrossRestart(t *testing.T) {
	store := newRunStore(t)
	snd := &recordingSender{}
	job, err := NewJob(Options{Users: staticUsers{list: recipients(1)}, Sender: snd, Message: "hi", RatePerSecond: 1000})
	require.NoError(t, err)

	now := time.Date(2026, 10, 18, 9, 0, 10, 0, time.UTC)
	newDaily := func() *scheduler.Daily {
		d, err := scheduler.NewDaily(scheduler.Options{
			Hour: 9, Location: time.UTC, Job: job, Claimer: store,
			Now: func() time.Time { return now },
		})
		require.NoError(t, err)
		return d
	}

	first := newDaily()
	assert.True(t, first.Tick(context.Background()))
	assert.False(t, first.Tick(context.Background()))

	// a restarted process inside the grace window sees the claim
	restarted := newDaily()
	assert.False(t, restarted.Tick(context.Background()))
	assert.Equal(t, []int64{1}, snd.sentTo)
}
