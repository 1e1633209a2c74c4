package reminder

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unibot/internal/notifier"
	"unibot/internal/storage"
	"unibot/internal/timer"
	kit "unibot/internal/transport"
	"unibot/internal/transport/transporttest"
	logx "unibot/pkg/logx"
)

const (
	alice = int64(9)
	bob   = int64(10)
)

type inbox struct {
	mu  sync.Mutex
	got []notifier.Notification
}

func (i *inbox) Notify(_ context.Context, n notifier.Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.got = append(i.got, n)
	return nil
}

func (i *inbox) all() []notifier.Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]notifier.Notification(nil), i.got...)
}

type fixture struct {
	svc   *Service
	sched *timer.Scheduler
	clk   clockwork.FakeClock
	inbox *inbox
	reg   *timer.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(base)
	f := &fixture{clk: clk, inbox: &inbox{}, reg: timer.NewRegistry(logx.Nop(), time.Second)}
	f.sched = timer.New(timer.DefaultConfig(), storage.NewMemory(), f.reg, timer.WithClock(clk))
	f.svc = New(cfg, f.sched, f.inbox, &transporttest.Adapter{},
		WithClock(clk), WithPrefix(func() string { return "!" }))
	f.reg.On(Event, f.svc.OnFired)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sched.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.sched.Stop(ctx)
		_ = f.reg.Close(ctx)
	})
}

func origin(author int64) Origin {
	return Origin{AuthorID: author, ChatID: 500, ThreadID: 2, GuildID: 700, MessageID: 77}
}

func TestCreateReplies(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	tm, reply, err := f.svc.Create(ctx, origin(alice), "10m feed the cat")
	require.NoError(t, err)
	assert.Equal(t, "Alright <@9>, in 10 minutes: feed the cat", reply)
	assert.True(t, tm.Persisted())
	assert.Equal(t, "9", tm.Owner())

	_, reply, err = f.svc.Create(ctx, origin(alice), "2h")
	require.NoError(t, err)
	assert.Equal(t, "Alright <@9>, in 2 hours: …", reply)

	_, _, err = f.svc.Create(ctx, origin(alice), "1h "+strings.Repeat("x", 1500))
	require.EqualError(t, err, "Reminder must be fewer than 1500 characters.")
}

func TestListDeleteClear(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ListLimit: 2})
	ctx := context.Background()

	var ids []int64
	for _, in := range []string{"3h third", "1h first", "2h second"} {
		tm, _, err := f.svc.Create(ctx, origin(alice), in)
		require.NoError(t, err)
		id, _ := tm.ID()
		ids = append(ids, id)
	}
	_, _, err := f.svc.Create(ctx, origin(bob), "1h not yours")
	require.NoError(t, err)

	out, err := f.svc.List(ctx, alice)
	require.NoError(t, err)
	assert.Contains(t, out, "in 1 hour\n  first")
	assert.Contains(t, out, "in 2 hours\n  second")
	assert.NotContains(t, out, "third")
	assert.Contains(t, out, "Only showing up to 2 of 3 reminders.")

	_, err = f.svc.Delete(ctx, bob, "#"+itoa(ids[0]))
	require.EqualError(t, err, "Could not delete any reminders with that ID.")
	reply, err := f.svc.Delete(ctx, alice, itoa(ids[0]))
	require.NoError(t, err)
	assert.Equal(t, "Successfully deleted reminder.", reply)
	_, err = f.svc.Delete(ctx, alice, "nope")
	require.Error(t, err)

	out, err = f.svc.List(ctx, alice)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "\n2 reminders"), out)

	reply, err = f.svc.RequestClear(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "Are you sure you want to delete 2 reminders? Run !reminder clear confirm within 5 minutes.", reply)
	reply, err = f.svc.ConfirmClear(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "Successfully deleted 2/2 reminders.", reply)

	_, err = f.svc.ConfirmClear(ctx, alice)
	require.EqualError(t, err, "Aborting")

	reply, err = f.svc.RequestClear(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "You do not have any reminders to delete.", reply)

	out, err = f.svc.List(ctx, bob)
	require.NoError(t, err)
	assert.Contains(t, out, "not yours")
}

func TestClearConfirmationLapses(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, _, err := f.svc.Create(ctx, origin(alice), "1h a")
	require.NoError(t, err)

	_, err = f.svc.RequestClear(ctx, alice)
	require.NoError(t, err)
	f.clk.Advance(5 * time.Minute)
	_, err = f.svc.ConfirmClear(ctx, alice)
	require.EqualError(t, err, "Aborting")

	n, err := f.sched.Count(ctx, ownerFilter(alice))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOnFiredAndSnooze(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	tm, _, err := f.svc.Create(ctx, origin(alice), "10m feed the cat")
	require.NoError(t, err)
	require.NoError(t, f.svc.OnFired(ctx, tm))

	got := f.inbox.all()
	require.Len(t, got, 1)
	assert.Equal(t, Event, got[0].Channel)
	assert.Equal(t, kit.ChatTarget{ChatID: 500, ThreadID: 2}, got[0].Target)
	assert.Equal(t, "<@9>, 10 minutes: feed the cat\n"+
		"Original message: https://chat.example/700/500/77\n"+
		"Snooze it with !reminder snooze [duration]", got[0].Text)

	_, err = f.svc.Snooze(ctx, bob, "")
	require.EqualError(t, err, "You have no recently fired reminder to snooze.")
	_, err = f.svc.Snooze(ctx, alice, "whenever")
	require.EqualError(t, err, msgBadDuration)

	reply, err := f.svc.Snooze(ctx, alice, "")
	require.NoError(t, err)
	assert.Equal(t, "Alright <@9>, I've snoozed your reminder for 10 minutes: feed the cat", reply)

	_, err = f.svc.Snooze(ctx, alice, "5m")
	require.Error(t, err, "a fired reminder snoozes once")

	list, err := f.sched.List(ctx, ownerFilter(alice), 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, base.Add(10*time.Minute), list[1].ExpiresAt())
}

func TestSnoozeWindowExpires(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	tm, _, err := f.svc.Create(ctx, origin(alice), "10m stretch")
	require.NoError(t, err)
	require.NoError(t, f.svc.OnFired(ctx, tm))

	f.clk.Advance(5 * time.Minute)
	require.NoError(t, f.svc.SweepJob(ctx))
	_, err = f.svc.Snooze(ctx, alice, "")
	require.EqualError(t, err, "You have no recently fired reminder to snooze.")
}

func TestReminderFiresThroughScheduler(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.start(t)
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, origin(alice), "2m tea")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.sched.Snapshot().State == "armed" }, time.Second, time.Millisecond)

	f.clk.Advance(2 * time.Minute)
	require.Eventually(t, func() bool { return len(f.inbox.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, strings.HasPrefix(f.inbox.all()[0].Text, "<@9>, 2 minutes: tea"))

	// short reminders bypass the store
	tm, _, err := f.svc.Create(ctx, origin(bob), "30s quick")
	require.NoError(t, err)
	assert.False(t, tm.Persisted())
	f.clk.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return len(f.inbox.all()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, strings.HasPrefix(f.inbox.all()[1].Text, "<@10>, 30 seconds: quick"))
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
