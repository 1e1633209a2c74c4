package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unibot/internal/eventbus"
	logx "unibot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		cron  string
		src   string
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *", src: "cron"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly", src: "cron"},
		{in: "cron: 0 9 * * 1", kind: SpecCron, cron: "0 9 * * 1", src: "cron"},
		{in: "60s", kind: SpecInterval, every: time.Minute, src: "duration"},
		{in: "2h30m", kind: SpecInterval, every: 150 * time.Minute, src: "duration"},
		{in: "02:30", kind: SpecInterval, every: 150 * time.Minute, src: "hhmm"},
		{in: "every: 3m", kind: SpecInterval, every: 3 * time.Minute, src: "duration"},
		{in: "interval:00:50", kind: SpecInterval, every: 50 * time.Minute, src: "hhmm"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			ps, err := ParseSchedule(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, ps.Kind)
			assert.Equal(t, tc.every, ps.Every)
			assert.Equal(t, tc.cron, ps.Cron)
			assert.Equal(t, tc.src, ps.Source)
		})
	}

	for _, bad := range []string{"", "soon", "00:00", "01:75", "-5m", "cron:"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestStartupSpreadDelaysFirstRunOnly(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := makeIntervalScheduleWithSpread(time.Minute, now)
	assert.GreaterOrEqual(t, jitter, time.Duration(0))
	assert.Less(t, jitter, 30*time.Second)

	first := sched.Next(now)
	assert.Equal(t, now.Add(time.Minute+jitter), first)
	assert.Equal(t, first.Add(time.Minute), sched.Next(first))
}

func newService(t *testing.T, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(Config{Timezone: "UTC"}, logx.Nop(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		s.Stop(stopCtx)
	})
	return s
}

func TestTriggerSkipsOverlappingRuns(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "task.")
	defer unsub()
	s := newService(t, bus)

	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.AddInterval("sweep", time.Hour, time.Second, func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}))

	assert.True(t, s.Trigger("sweep"))
	assert.False(t, s.Trigger("sweep"), "second trigger overlaps the first")
	assert.False(t, s.Trigger("missing"))
	close(release)

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, runs.Load())
	assert.EqualValues(t, 1, s.Snapshot().Skipped)

	var types []string
	for len(types) < 2 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("missing task events")
		}
	}
	assert.ElementsMatch(t, []string{EventSkipped, EventRun}, types)
}

func TestJobTimeoutAndPanicAreRecorded(t *testing.T) {
	t.Parallel()
	s := newService(t, nil)

	require.NoError(t, s.AddInterval("slow", time.Hour, 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, s.AddCron("boom", "0 3 * * *", 0, func(context.Context) error {
		panic("kaboom")
	}))

	require.True(t, s.Trigger("slow"))
	require.True(t, s.Trigger("boom"))
	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 2 }, time.Second, 5*time.Millisecond)

	errs := map[string]string{}
	for _, h := range s.Snapshot().History {
		errs[h.Name] = h.Error
	}
	assert.Contains(t, errs["slow"], "deadline exceeded")
	assert.Contains(t, errs["boom"], "kaboom")
}

func TestAddUpsertsAndRemove(t *testing.T) {
	t.Parallel()
	s := newService(t, nil)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.AddSchedule("rotate", "3m", 0, noop))
	require.NoError(t, s.AddSchedule("rotate", "@hourly", 0, noop))
	assert.Error(t, s.AddCron("bad", "not a cron", 0, noop))
	assert.ErrorIs(t, s.AddInterval(" ", time.Minute, 0, noop), ErrNameRequired)

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "@hourly", snap.Schedules[0].Spec)
	assert.False(t, snap.Schedules[0].Next.IsZero())
	assert.Equal(t, "UTC", snap.Timezone)

	assert.True(t, s.Remove("rotate"))
	assert.False(t, s.Remove("rotate"))
	assert.Empty(t, s.Snapshot().Schedules)
}
