package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/formbot/core/logger"
)

// Options configures a Store.
type Options struct {
	// TTL evicts sessions untouched for longer than this; zero keeps them forever.
	TTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
	// OnSweep receives the number of live sessions after every janitor pass.
	OnSweep func(live int)
}

// Store holds conversation sessions keyed by conversation id.
type Store struct {
	mu      sync.RWMutex // guards entries only
	entries map[int64]*entry

	ttl     time.Duration
	now     func() time.Time
	onSweep func(int)
}

type entry struct {
	mu      sync.Mutex
	sess    Session
	touched time.Time
	dead    bool
}

// NewStore constructs an empty Store.
func NewStore(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		entries: make(map[int64]*entry),
		ttl:     opts.TTL,
		now:     opts.Now,
		onSweep: opts.OnSweep,
	}
}

// lock returns the live entry for id with its mutex held, creating it if absent.
func (s *Store) lock(id int64) *entry {
	for {
		s.mu.RLock()
		e, ok := s.entries[id]
		s.mu.RUnlock()
		if !ok {
			s.mu.Lock()
			if e, ok = s.entries[id]; !ok {
				e = &entry{sess: Session{State: StateIdle, Data: map[string]string{}}}
				s.entries[id] = e
			}
			s.mu.Unlock()
		}
		e.mu.Lock()
		if !e.dead {
			e.touched = s.now()
			return e
		}
		// evicted between lookup and lock
		e.mu.Unlock()
	}
}

// Get returns a snapshot of the session, creating an idle one if absent.
func (s *Store) Get(id int64) Session {
	e := s.lock(id)
	defer e.mu.Unlock()
	return e.sess.clone()
}

// State returns the current dialog state.
func (s *Store) State(id int64) State {
	e := s.lock(id)
	defer e.mu.Unlock()
	return e.sess.State
}

// SetState moves the session to st. Moving to idle empties the data.
func (s *Store) SetState(id int64, st State) {
	s.Update(id, func(sess *Session) { sess.State = st })
}

// MergeData sets one data field.
func (s *Store) MergeData(id int64, key, value string) {
	s.Update(id, func(sess *Session) { sess.Data[key] = value })
}

// Clear resets the session to idle with empty data. Clearing twice is the same as once.
func (s *Store) Clear(id int64) {
	s.Update(id, func(sess *Session) {
		sess.State = StateIdle
		clear(sess.Data)
	})
}

// Update applies fn to the session under its lock and returns the resulting snapshot.
// fn must not call back into the Store for the same id.
func (s *Store) Update(id int64, fn func(*Session)) Session {
	e := s.lock(id)
	defer e.mu.Unlock()
	fn(&e.sess)
	if e.sess.Data == nil {
		e.sess.Data = map[string]string{}
	}
	if e.sess.State == "" || e.sess.State == StateIdle {
		e.sess.State = StateIdle
		clear(e.sess.Data)
	}
	return e.sess.clone()
}

// Len reports the number of sessions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep evicts sessions idle past the TTL and returns how many were removed.
// Sessions currently locked by an operation are skipped.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		if now.Sub(e.touched) > s.ttl {
			e.dead = true
			delete(s.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// StartJanitor sweeps every interval until ctx is done.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.ttl <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					logger.Debug(ctx, "tg.state", "sessions.evicted",
						slog.Int("count", n),
						slog.Int("live", s.Len()),
					)
				}
				if s.onSweep != nil {
					s.onSweep(s.Len())
				}
			}
		}
	}()
}
