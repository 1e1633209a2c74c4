package timer

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"

	"unibot/internal/eventbus"
	"unibot/internal/runtime/supervisor"
	"unibot/internal/storage"
	logx "unibot/pkg/logx"
)

const (
	DefaultLookAhead         = 40 * 24 * time.Hour
	DefaultShortThreshold    = 60 * time.Second
	DefaultQueryTimeout      = 10 * time.Second
	DefaultSearchRecheck     = 24 * time.Hour
	DefaultRestartBackoffMin = 500 * time.Millisecond
	DefaultRestartBackoffMax = 30 * time.Second
)

// Bus event types.
const (
	EventCreated     = "timer.created"
	EventDeleted     = "timer.deleted"
	EventFired       = "timer.fired"
	EventRescheduled = "timer.rescheduled"
	EventLoopFailed  = "timer.loop_failed"
	EventDropped     = "timer.dropped"
)

type State int32

const (
	StateIdle State = iota
	StateSearching
	StateArmed
	StateFiring
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateArmed:
		return "armed"
	case StateFiring:
		return "firing"
	default:
		return "idle"
	}
}

type Config struct {
	// LookAhead bounds how far ahead the loop looks for the earliest timer.
	LookAhead time.Duration
	// Timers due within ShortThreshold of creation are never persisted.
	ShortThreshold time.Duration
	// QueryTimeout bounds each store call made by the loop.
	QueryTimeout time.Duration
	// SearchRecheck re-queries an idle store so timers created beyond LookAhead still fire.
	SearchRecheck time.Duration
	// RestartBackoffMin/Max bound the delay before replacing a loop that hit a store error.
	// A zero Min restarts immediately.
	RestartBackoffMin time.Duration
	RestartBackoffMax time.Duration
}

func DefaultConfig() Config {
	return Config{
		LookAhead:         DefaultLookAhead,
		ShortThreshold:    DefaultShortThreshold,
		QueryTimeout:      DefaultQueryTimeout,
		SearchRecheck:     DefaultSearchRecheck,
		RestartBackoffMin: DefaultRestartBackoffMin,
		RestartBackoffMax: DefaultRestartBackoffMax,
	}
}

func (c Config) withDefaults() Config {
	if c.LookAhead <= 0 {
		c.LookAhead = DefaultLookAhead
	}
	if c.ShortThreshold < 0 {
		c.ShortThreshold = 0
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.SearchRecheck <= 0 {
		c.SearchRecheck = DefaultSearchRecheck
	}
	if c.RestartBackoffMax < c.RestartBackoffMin {
		c.RestartBackoffMax = c.RestartBackoffMin
	}
	return c
}

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option { return func(s *Scheduler) { s.clock = c } }
func WithLogger(l logx.Logger) Option    { return func(s *Scheduler) { s.log = l } }
func WithBus(b eventbus.Bus) Option      { return func(s *Scheduler) { s.bus = b } }

// Scheduler owns the dispatch loop and the short-timer goroutines.
type Scheduler struct {
	cfg       Config
	store     storage.TimerStore
	sink      Sink
	clock     clockwork.Clock
	log       logx.Logger
	bus       eventbus.Bus
	available *signal // "data available": a timer inside the look-ahead window may exist

	mu         sync.Mutex
	running    bool
	root       context.Context
	stop       context.CancelFunc
	loopCancel context.CancelFunc
	gen        uint64 // bumped for every loop task; stale tasks cannot publish state
	mutations  uint64 // bumped after every insert/delete that reached the store
	state      State
	current    *Timer
	backoff    *supervisor.Backoff
	stats      stats

	wg sync.WaitGroup
}

type stats struct {
	reschedules  uint64
	recoveries   uint64
	fired        uint64
	shortFired   uint64
	shortPending int64
	lastErr      string
	lastErrAt    time.Time
}

// Snapshot is a point-in-time view of the scheduler for status output and tests.
type Snapshot struct {
	Running      bool      `json:"running"`
	State        string    `json:"state"`
	Current      *Timer    `json:"-"`
	Generation   uint64    `json:"generation"`
	Reschedules  uint64    `json:"reschedules"`
	Recoveries   uint64    `json:"recoveries"`
	Fired        uint64    `json:"fired"`
	ShortFired   uint64    `json:"short_fired"`
	ShortPending int64     `json:"short_pending"`
	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at,omitempty"`
}

func New(cfg Config, store storage.TimerStore, sink Sink, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:       cfg,
		store:     store,
		sink:      sink,
		clock:     clockwork.NewRealClock(),
		log:       logx.Nop(),
		available: newSignal(),
		backoff:   supervisor.NewBackoff(cfg.RestartBackoffMin, cfg.RestartBackoffMax),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "timer"))
	return s
}

// Start launches the dispatch loop. The scheduler stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.root, s.stop = context.WithCancel(ctx)
	s.running = true
	s.spawnLocked()
	s.log.Info("timer scheduler started",
		logx.Duration("look_ahead", s.cfg.LookAhead), logx.Duration("short_threshold", s.cfg.ShortThreshold))
	return nil
}

// Stop cancels the loop and pending short timers and waits for them (bounded by ctx).
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stop()
	s.current = nil
	s.state = StateIdle
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("timer scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawnLocked cancels the current loop task (if any) and starts a fresh one at SEARCHING.
func (s *Scheduler) spawnLocked() {
	if s.loopCancel != nil {
		s.loopCancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(s.root)
	s.loopCancel = cancel
	s.current = nil
	s.state = StateSearching
	s.wg.Add(1)
	go s.run(ctx, gen)
}

func (s *Scheduler) rescheduleLocked(reason string, fields ...logx.Field) {
	s.stats.reschedules++
	s.log.Debug("rescheduling timer loop", append(fields, logx.String("reason", reason))...)
	s.spawnLocked()
	eventbus.Emit(s.bus, EventRescheduled, reason)
}

type createOpts struct {
	createdAt time.Time
}

type CreateOption func(*createOpts)

// WithCreatedAt overrides the creation time used for human-readable deltas
// (e.g. the time of the message that asked for the timer).
func WithCreatedAt(t time.Time) CreateOption {
	return func(o *createOpts) { o.createdAt = t }
}

// Create schedules event to fire at when with payload.
//
// Timers due within ShortThreshold are kept in memory only and the returned Timer has no id.
// Everything else is persisted first; a store failure is returned to the caller.
func (s *Scheduler) Create(ctx context.Context, when time.Time, event string, payload Payload, opts ...CreateOption) (*Timer, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}
	var co createOpts
	for _, o := range opts {
		o(&co)
	}
	now := s.clock.Now()
	created := now
	if !co.createdAt.IsZero() {
		created = co.createdAt
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	t, err := newTimer(event, created, when, raw)
	if err != nil {
		return nil, err
	}

	delta := t.expiresAt.Sub(now)
	if delta <= s.cfg.ShortThreshold {
		if err := s.startShort(t); err != nil {
			return nil, err
		}
		return t, nil
	}

	id, err := s.store.InsertTimer(ctx, t.record())
	if err != nil {
		return nil, errors.Wrap(err, "create timer")
	}
	t.id = id

	if delta <= s.cfg.LookAhead {
		s.available.Set()
	}

	s.mu.Lock()
	s.mutations++
	if s.running && s.current != nil && t.expiresAt.Before(s.current.expiresAt) {
		s.rescheduleLocked("earlier timer", logx.Int64("id", id))
	}
	s.mu.Unlock()

	eventbus.Emit(s.bus, EventCreated, t)
	return t, nil
}

// startShort sleeps for the timer in a detached goroutine and dispatches it directly.
func (s *Scheduler) startShort(t *Timer) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	var wake clockwork.Timer
	if d := t.expiresAt.Sub(s.clock.Now()); d > 0 {
		wake = s.clock.NewTimer(d)
	}
	root := s.root
	s.stats.shortPending++
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.stats.shortPending--
			s.mu.Unlock()
		}()
		if wake != nil {
			select {
			case <-root.Done():
				wake.Stop()
				s.log.Debug("short timer abandoned", logx.String("timer", t.String()))
				return
			case <-wake.Chan():
			}
		}
		s.mu.Lock()
		s.stats.shortFired++
		s.mu.Unlock()
		s.dispatch(t)
	}()
	return nil
}

// Delete removes a persisted timer. Deleting an unknown id reports false without error.
func (s *Scheduler) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := s.store.DeleteTimer(ctx, id)
	if err != nil {
		return false, errors.Wrap(err, "delete timer")
	}
	if !deleted {
		return false, nil
	}
	s.mu.Lock()
	s.mutations++
	if s.running && s.current != nil && s.current.id == id {
		s.rescheduleLocked("armed timer deleted", logx.Int64("id", id))
	}
	s.mu.Unlock()
	eventbus.Emit(s.bus, EventDeleted, id)
	return true, nil
}

// DeleteWhere removes every timer matching f and returns how many were removed.
func (s *Scheduler) DeleteWhere(ctx context.Context, f storage.TimerFilter) (int64, error) {
	n, err := s.store.DeleteTimers(ctx, f)
	if err != nil {
		return 0, errors.Wrap(err, "delete timers")
	}
	if n == 0 {
		return 0, nil
	}
	s.mu.Lock()
	s.mutations++
	if s.running && s.current != nil && mayInclude(f, s.current) {
		s.rescheduleLocked("bulk delete", logx.Int64("deleted", n))
	}
	s.mu.Unlock()
	eventbus.Emit(s.bus, EventDeleted, f)
	return n, nil
}

// mayInclude reports whether a bulk delete by f may have removed cur. An owner filter is
// treated as a match on owner alone, without checking the other fields.
func mayInclude(f storage.TimerFilter, cur *Timer) bool {
	switch {
	case f.ID != 0:
		return cur.id == f.ID
	case f.Owner != "":
		return cur.Owner() == f.Owner
	default:
		return cur.event == f.Event
	}
}

// List returns persisted timers matching f, soonest first.
func (s *Scheduler) List(ctx context.Context, f storage.TimerFilter, limit int) ([]*Timer, error) {
	recs, err := s.store.ListTimers(ctx, f, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list timers")
	}
	out := make([]*Timer, 0, len(recs))
	for _, rec := range recs {
		t, err := fromRecord(rec)
		if err != nil {
			s.log.Warn("skipping undecodable timer", logx.Int64("id", rec.ID), logx.Err(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Scheduler) Count(ctx context.Context, f storage.TimerFilter) (int64, error) {
	n, err := s.store.CountTimers(ctx, f)
	return n, errors.Wrap(err, "count timers")
}

// Current returns the timer the loop is sleeping on, or nil.
func (s *Scheduler) Current() *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Running:      s.running,
		State:        s.state.String(),
		Current:      s.current,
		Generation:   s.gen,
		Reschedules:  s.stats.reschedules,
		Recoveries:   s.stats.recoveries,
		Fired:        s.stats.fired,
		ShortFired:   s.stats.shortFired,
		ShortPending: s.stats.shortPending,
		LastError:    s.stats.lastErr,
		LastErrorAt:  s.stats.lastErrAt,
	}
}

func (s *Scheduler) dispatch(t *Timer) {
	s.mu.Lock()
	s.stats.fired++
	s.mu.Unlock()
	s.log.Debug("timer fired", logx.String("timer", t.String()))
	eventbus.Emit(s.bus, EventFired, t)
	s.sink.Dispatch(t.CompletionName(), t)
}
