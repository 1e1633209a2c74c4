package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unibot/internal/config"
	"unibot/internal/runtime/supervisor"
	"unibot/internal/task/scheduler"
	"unibot/internal/timer"
	logx "unibot/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
bot:
  prefix: "!"
  owner_user_ids: [1]
discord:
  token: test-token
storage:
  driver: memory
`

func TestCheckConfig(t *testing.T) {
	cfg, err := CheckConfig(context.Background(), writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "discord", transportName(cfg))
	assert.Equal(t, "!", cfg.Bot.Prefix)
}

func TestCheckConfigRejectsBadTimezone(t *testing.T) {
	_, err := CheckConfig(context.Background(), writeConfig(t, minimalConfig+`
reminders:
  timezone: Mars/Olympus
`))
	require.Error(t, err)
}

func TestPendingTimersOnEmptyStore(t *testing.T) {
	recs, total, err := PendingTimers(context.Background(), writeConfig(t, minimalConfig), 10, logx.Nop())
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, total)
}

func TestMappingDefaults(t *testing.T) {
	cfg := &config.Config{}

	tc, handlerTimeout, err := mapTimerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, timer.DefaultLookAhead, tc.LookAhead)
	assert.Equal(t, timer.DefaultShortThreshold, tc.ShortThreshold)
	assert.Equal(t, 30*time.Second, handlerTimeout)

	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "./data/unibot.db", sc.Path)

	vc, ttl, sweep, err := mapVerifyConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, vc.RequestWindow)
	assert.Zero(t, ttl)
	assert.Equal(t, time.Minute, sweep)

	pc, every, err := mapPresenceConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, every)
	assert.Empty(t, pc.Activities)
}

func TestMappingParsesOverrides(t *testing.T) {
	cfg := &config.Config{}
	cfg.Timers.ShortThreshold = "30s"
	cfg.Discord.GuildID = 77
	cfg.Presence.Activities = []config.ActivityConfig{{Kind: "watch", Name: "{members} members"}}
	cfg.Presence.Status = "IDLE"

	tc, _, err := mapTimerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, tc.ShortThreshold)

	vc, _, _, err := mapVerifyConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(77), vc.GuildID)

	pc, _, err := mapPresenceConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "idle", pc.Status)
	assert.Equal(t, "watching", pc.Activities[0].Kind)

	cfg.Timers.LookAhead = "forever"
	_, _, err = mapTimerConfig(cfg)
	require.Error(t, err)
	require.Error(t, checkMappings(cfg))
}

func TestNewAdapterRejectsUnknownTransport(t *testing.T) {
	cfg := &config.Config{}
	cfg.Bot.Transport = "irc"
	_, err := newAdapter(cfg, logx.Nop())
	require.Error(t, err)
}

func TestFormatTimers(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	out := formatTimers(timer.Snapshot{Running: true, State: "searching", Fired: 1200, ShortFired: 3}, 42, now)
	assert.Contains(t, out, "Timer scheduler: searching")
	assert.Contains(t, out, "Next: none")
	assert.Contains(t, out, "Pending (stored): 42")
	assert.Contains(t, out, "Fired: 1,200 (3 short)")

	out = formatTimers(timer.Snapshot{State: "stopped", LastError: "boom", LastErrorAt: now.Add(-time.Minute)}, 0, now)
	assert.Contains(t, out, "(stopped)")
	assert.Contains(t, out, "Last error 1 minute ago: boom")
}

func TestFormatTasks(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "No periodic jobs.", formatTasks(scheduler.Snapshot{}, now))

	out := formatTasks(scheduler.Snapshot{
		Timezone:  "UTC",
		Schedules: []scheduler.ScheduleInfo{{Name: "otp.sweep", Spec: "@every 1m0s", Next: now.Add(time.Minute)}},
		History:   []scheduler.HistoryItem{{Name: "otp.sweep", Error: "nope"}},
	}, now)
	assert.Contains(t, out, "- otp.sweep [@every 1m0s], next 1 minute from now")
	assert.Contains(t, out, "Last failure: otp.sweep: nope")
}

func TestFormatSupervisor(t *testing.T) {
	out := formatSupervisor(supervisor.Snapshot{
		Active:     1,
		Started:    2,
		Goroutines: []supervisor.GoroutineStats{{Name: "commands.dispatch", Active: 1, Restarts: 2}},
	}, 5)
	assert.Contains(t, out, "Goroutines: 1 active, 2 started")
	assert.Contains(t, out, "- commands.dispatch: 1 active, 2 restarts")
	assert.Contains(t, out, "Chat log records dropped: 5")
}
