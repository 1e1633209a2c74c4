package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
bot:
  transport: discord
  prefix: "!"
  owner_user_ids: [80088516616269824]
discord:
  guild_id: 1093847561234567891
storage:
  driver: sqlite
  path: ./data/unibot.db
timers:
  look_ahead: 960h
verification:
  enabled: true
  email_suffix: student.example.edu
  role_ids: [1100000000000000001]
presence:
  enabled: true
  status: dnd
  activities:
    - {kind: watching, name: "{members} members"}
    - {kind: playing, name: with timers}
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func noSecrets() (Secrets, error) { return Secrets{}, nil }

func TestParseYAMLKeepsSnowflakes(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	m.secrets = noSecrets

	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, []int64{80088516616269824}, cfg.Bot.OwnerUserIDs)
	assert.EqualValues(t, 1093847561234567891, cfg.Discord.GuildID)
	assert.Equal(t, []int64{1100000000000000001}, cfg.Verification.RoleIDs)
	assert.Len(t, cfg.Presence.Activities, 2)
	assert.Equal(t, "960h", cfg.Timers.LookAhead)
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", `{"bot":{"prefx":"!"}}`))
	m.secrets = noSecrets
	_, err := m.Parse()
	assert.ErrorContains(t, err, "prefx")

	m = NewManager(writeFile(t, "config.json", `{"bot":{}} {"bot":{}}`))
	m.secrets = noSecrets
	_, err = m.Parse()
	assert.ErrorContains(t, err, "trailing data")
}

func TestSecretsOverlayFromEnvironment(t *testing.T) {
	t.Setenv("UNIBOT_DISCORD_TOKEN", "env-token")
	t.Setenv("UNIBOT_MAIL_PASSWORD", "env-pass")
	t.Setenv("UNIBOT_MAIL_USERNAME", "")

	m := NewManager(writeFile(t, "config.json", `{"mail":{"username":"bot@example.com","password":"file-pass"}}`))
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, "env-pass", cfg.Mail.Password)
	assert.Equal(t, "bot@example.com", cfg.Mail.Username, "empty env values do not override")
}

func TestLoadDotEnv(t *testing.T) {
	p := writeFile(t, ".env", "UNIBOT_TELEGRAM_TOKEN=from-dotenv\n")
	t.Setenv("UNIBOT_TELEGRAM_TOKEN", "")
	require.NoError(t, os.Unsetenv("UNIBOT_TELEGRAM_TOKEN"))

	require.NoError(t, LoadDotEnv(p))
	sec, err := ReadSecrets()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", sec.TelegramToken)

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := &Config{
		Bot:      BotConfig{Transport: "telegram"},
		Telegram: TelegramConfig{Token: "t"},
		Presence: PresenceConfig{Enabled: true, Status: "dnd", Activities: []ActivityConfig{{Kind: "playing", Name: "x"}}},
	}
	require.NoError(t, Validate(valid))

	bad := &Config{
		Bot:          BotConfig{Transport: "irc"},
		Storage:      StorageConfig{Driver: "mongo"},
		Verification: VerificationConfig{Enabled: true},
		Timers:       TimersConfig{LookAhead: "40d"},
		Presence:     PresenceConfig{Enabled: true, Status: "busy", Activities: []ActivityConfig{{Kind: "singing"}}},
	}
	err := Validate(bad)
	require.Error(t, err)
	for _, want := range []string{
		"bot.transport", "storage.uri", "verification.email_suffix", "mail:",
		"timers.look_ahead", "presence.status", "presence.activities[0].kind",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestReloadPublishesChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"bot":{"transport":"telegram","prefix":"!"},"telegram":{"token":"t"}}`)
	m := NewManager(path)
	m.secrets = noSecrets
	ctx := context.Background()

	first, err := m.Load(ctx)
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	changed, err := m.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "same content")

	require.NoError(t, os.WriteFile(path, []byte(`{"bot":{"transport":"telegram","prefix":"?"},"telegram":{"token":"t"}}`), 0o600))
	changed, err = m.Reload(ctx)
	require.NoError(t, err)
	require.True(t, changed)

	select {
	case c := <-ch:
		assert.Same(t, first, c.Old)
		assert.Equal(t, "?", c.New.Bot.Prefix)
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"bot":{"transport":"carrier-pigeon"}}`), 0o600))
	_, err = m.Reload(ctx)
	assert.ErrorContains(t, err, "config rejected")
	assert.Equal(t, "?", m.Get().Bot.Prefix, "rejected config is not committed")
}

func TestWatchPicksUpEdits(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", "bot: {transport: telegram}\ntelegram: {token: t}\n")
	m := NewManager(path)
	m.secrets = noSecrets
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := m.Load(ctx)
	require.NoError(t, err)
	ch := m.Subscribe(1)
	go func() { _ = m.Watch(ctx) }()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("bot: {transport: telegram, prefix: '$'}\ntelegram: {token: t}\n"), 0o600)
		select {
		case c := <-ch:
			return c.New.Bot.Prefix == "$"
		case <-time.After(400 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Discord: DiscordConfig{Token: "a"}, Logging: LoggingConfig{Level: "info"}}
	b := &Config{Discord: DiscordConfig{Token: "b"}, Logging: LoggingConfig{Level: "debug"}}

	changed, attrs, restart := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"discord", "logging"}, changed)
	assert.Equal(t, []string{"discord"}, restart)
	assert.Len(t, attrs, 2)
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationField("x", " 90s ")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
}
