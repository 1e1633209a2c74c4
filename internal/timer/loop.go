package timer

import (
	"context"

	"github.com/jonboulle/clockwork"

	"unibot/internal/eventbus"
	logx "unibot/pkg/logx"
)

// run hosts one loop task. A store failure hands over to a replacement task; cancellation
// (reschedule or shutdown) just ends it.
func (s *Scheduler) run(ctx context.Context, gen uint64) {
	defer s.wg.Done()
	err := s.dispatchTimers(ctx, gen)
	if ctx.Err() != nil || err == nil {
		return
	}
	s.recover(ctx, gen, err)
}

func (s *Scheduler) recover(ctx context.Context, gen uint64, cause error) {
	s.mu.Lock()
	if s.gen != gen || !s.running {
		s.mu.Unlock()
		return
	}
	s.stats.recoveries++
	s.stats.lastErr = cause.Error()
	s.stats.lastErrAt = s.clock.Now()
	s.current = nil
	s.state = StateSearching
	wait := s.backoff.Next()
	s.mu.Unlock()

	s.log.Warn("timer loop failed, restarting", logx.Err(cause), logx.Duration("backoff", wait))
	eventbus.Emit(s.bus, EventLoopFailed, cause.Error())

	if wait > 0 {
		t := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.Chan():
		}
	}

	s.mu.Lock()
	if s.gen == gen && s.running {
		s.spawnLocked()
	}
	s.mu.Unlock()
}

func (s *Scheduler) dispatchTimers(ctx context.Context, gen uint64) error {
	for {
		t, wake, err := s.waitForActiveTimer(ctx, gen)
		if err != nil {
			return err
		}
		if err := sleep(ctx, wake); err != nil {
			return err
		}
		if err := s.fire(ctx, gen, t); err != nil {
			return err
		}
	}
}

// waitForActiveTimer blocks until a timer inside the look-ahead window exists and arms it.
// wake is nil when the timer is already due.
func (s *Scheduler) waitForActiveTimer(ctx context.Context, gen uint64) (*Timer, clockwork.Timer, error) {
	for {
		// cleared before the lookup so an insert racing with it is not lost
		s.available.Clear()
		seq := s.mutationSeq()

		t, err := s.activeTimer(ctx)
		if err != nil {
			return nil, nil, err
		}
		if t == nil {
			recheck, err := s.setSearching(ctx, gen)
			if err != nil {
				return nil, nil, err
			}
			err = s.waitForData(ctx, recheck)
			recheck.Stop()
			if err != nil {
				return nil, nil, err
			}
			continue
		}

		s.available.Set()
		wake, ok, err := s.arm(ctx, gen, seq, t)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			return t, wake, nil
		}
	}
}

func (s *Scheduler) mutationSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// activeTimer returns the earliest timer inside the look-ahead window, or nil.
// Records that cannot be decoded are dropped so they cannot wedge the loop.
func (s *Scheduler) activeTimer(ctx context.Context) (*Timer, error) {
	for {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		rec, ok, err := s.store.EarliestTimer(qctx, s.clock.Now().Add(s.cfg.LookAhead))
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.backoff.Reset()
		s.mu.Unlock()

		if !ok {
			return nil, nil
		}
		t, err := fromRecord(rec)
		if err == nil {
			return t, nil
		}

		s.log.Error("dropping undecodable timer", logx.Int64("id", rec.ID), logx.String("event", rec.Event), logx.Err(err))
		dctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		_, err = s.store.DeleteTimer(dctx, rec.ID)
		cancel()
		if err != nil {
			return nil, err
		}
		eventbus.Emit(s.bus, EventDropped, rec.ID)
	}
}

// setSearching publishes SEARCHING and registers the periodic re-query that picks up timers
// which were beyond the look-ahead window when they were created.
func (s *Scheduler) setSearching(ctx context.Context, gen uint64) (clockwork.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, context.Canceled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.current = nil
	s.state = StateSearching
	return s.clock.NewTimer(s.cfg.SearchRecheck), nil
}

func (s *Scheduler) waitForData(ctx context.Context, recheck clockwork.Timer) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.available.C():
		return nil
	case <-recheck.Chan():
		return nil
	}
}

// arm publishes t as the current timer and registers its wake-up. It reports ok=false when
// the store changed after the lookup started; the caller must query again.
func (s *Scheduler) arm(ctx context.Context, gen, seq uint64, t *Timer) (clockwork.Timer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, false, context.Canceled
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.mutations != seq {
		return nil, false, nil
	}
	var wake clockwork.Timer
	if d := t.expiresAt.Sub(s.clock.Now()); d > 0 {
		wake = s.clock.NewTimer(d)
	}
	s.current = t
	s.state = StateArmed
	s.log.Debug("timer armed", logx.String("timer", t.String()))
	return wake, true, nil
}

func sleep(ctx context.Context, wake clockwork.Timer) error {
	if wake == nil {
		return ctx.Err()
	}
	defer wake.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake.Chan():
		// a restart may have raced with the wake-up; the replacement loop owns the timer then
		return ctx.Err()
	}
}

// fire removes t from the store and dispatches it when this loop performed the removal.
func (s *Scheduler) fire(ctx context.Context, gen uint64, t *Timer) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return context.Canceled
	}
	s.state = StateFiring
	s.mu.Unlock()

	// the delete must finish even if a reschedule cancels ctx meanwhile, or the timer is lost
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.QueryTimeout)
	deleted, err := s.store.DeleteTimer(dctx, t.id)
	cancel()
	if err != nil {
		return err
	}
	if !deleted {
		s.log.Debug("timer removed before firing", logx.String("timer", t.String()))
		return nil
	}
	s.dispatch(t)
	return nil
}
