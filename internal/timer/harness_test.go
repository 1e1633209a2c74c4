package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"unibot/internal/storage"
)

var testBase = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

type fired struct {
	name  string
	timer *Timer
}

type recorder struct{ ch chan fired }

func newRecorder() *recorder { return &recorder{ch: make(chan fired, 128)} }

func (r *recorder) Dispatch(name string, t *Timer) { r.ch <- fired{name: name, timer: t} }

func (r *recorder) next(t *testing.T) fired {
	t.Helper()
	select {
	case f := <-r.ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dispatch")
		return fired{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case f := <-r.ch:
		t.Fatalf("unexpected dispatch of %s", f.timer)
	case <-time.After(50 * time.Millisecond):
	}
}

// flakyStore fails the next N EarliestTimer calls with an unavailable error.
type flakyStore struct {
	*storage.Memory
	failEarliest atomic.Int32
}

func (f *flakyStore) EarliestTimer(ctx context.Context, before time.Time) (storage.TimerRecord, bool, error) {
	if f.failEarliest.Add(-1) >= 0 {
		return storage.TimerRecord{}, false, errors.Mark(errors.New("connection reset by peer"), storage.ErrUnavailable)
	}
	return f.Memory.EarliestTimer(ctx, before)
}

type harness struct {
	s     *Scheduler
	clk   clockwork.FakeClock
	rec   *recorder
	store *flakyStore
	ctx   context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clockwork.NewFakeClockAt(testBase)
	store := &flakyStore{Memory: storage.NewMemory()}
	rec := newRecorder()
	cfg := DefaultConfig()
	cfg.RestartBackoffMin = 0
	cfg.RestartBackoffMax = 0

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		s:     New(cfg, store, rec, WithClock(clk)),
		clk:   clk,
		rec:   rec,
		store: store,
		ctx:   ctx,
	}
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		require.NoError(t, h.s.Stop(sctx))
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.Start(h.ctx))
}

func (h *harness) create(t *testing.T, in time.Duration, owner int64) *Timer {
	t.Helper()
	tm, err := h.s.Create(h.ctx, h.clk.Now().Add(in), "reminder", Payload{"author": owner, "message": "hi"})
	require.NoError(t, err)
	return tm
}

func (h *harness) waitArmed(t *testing.T, want *Timer) {
	t.Helper()
	id, _ := want.ID()
	require.Eventually(t, func() bool {
		snap := h.s.Snapshot()
		if snap.State != StateArmed.String() || snap.Current == nil {
			return false
		}
		got, _ := snap.Current.ID()
		return got == id
	}, 2*time.Second, time.Millisecond, "timer %d never armed", id)
}

func (h *harness) waitSearching(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := h.s.Snapshot()
		return snap.State == StateSearching.String() && snap.Current == nil
	}, 2*time.Second, time.Millisecond)
}

func idOf(t *Timer) int64 {
	id, _ := t.ID()
	return id
}
