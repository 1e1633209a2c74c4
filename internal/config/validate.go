package config

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	transports = map[string]bool{"discord": true, "telegram": true}
	drivers    = map[string]bool{"": true, "sqlite": true, "memory": true, "postgres": true, "mongo": true, "redis": true}
	statuses   = map[string]bool{"": true, "online": true, "idle": true, "dnd": true, "invisible": true}
	activities = map[string]bool{
		"playing": true, "watching": true, "listening": true, "competing": true, "custom": true,
		"play": true, "watch": true, "listen": true, "comp": true,
	}
)

// Validate checks cross-field rules that decoding cannot express. All problems are
// reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	transport := strings.ToLower(strings.TrimSpace(cfg.Bot.Transport))
	if transport == "" {
		transport = "discord"
	}
	if !transports[transport] {
		add(errors.Newf("bot.transport: unknown transport %q", cfg.Bot.Transport))
	}
	if transport == "telegram" && cfg.Telegram.Token == "" {
		add(errors.New("telegram.token: required (or set UNIBOT_TELEGRAM_TOKEN)"))
	}
	if transport == "discord" && cfg.Discord.Token == "" {
		add(errors.New("discord.token: required (or set UNIBOT_DISCORD_TOKEN)"))
	}

	if !drivers[strings.ToLower(cfg.Storage.Driver)] {
		add(errors.Newf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres", "mongo", "redis":
		if cfg.Storage.URI == "" {
			add(errors.Newf("storage.uri: required for driver %q", cfg.Storage.Driver))
		}
	}

	if cfg.Verification.Enabled {
		if strings.TrimSpace(cfg.Verification.EmailSuffix) == "" {
			add(errors.New("verification.email_suffix: required when verification is enabled"))
		}
		if cfg.Mail.Username == "" || cfg.Mail.Password == "" {
			add(errors.New("mail: username and password required when verification is enabled"))
		}
	}

	if cfg.Presence.Enabled {
		for i, a := range cfg.Presence.Activities {
			if !activities[strings.ToLower(a.Kind)] {
				add(errors.Newf("presence.activities[%d].kind: unknown kind %q", i, a.Kind))
			}
		}
		if !statuses[strings.ToLower(cfg.Presence.Status)] {
			add(errors.Newf("presence.status: unknown status %q", cfg.Presence.Status))
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"storage.connect_timeout", cfg.Storage.ConnectTimeout},
		{"timers.look_ahead", cfg.Timers.LookAhead},
		{"timers.short_threshold", cfg.Timers.ShortThreshold},
		{"timers.query_timeout", cfg.Timers.QueryTimeout},
		{"timers.search_recheck", cfg.Timers.SearchRecheck},
		{"timers.restart_backoff_min", cfg.Timers.RestartBackoffMin},
		{"timers.restart_backoff_max", cfg.Timers.RestartBackoffMax},
		{"timers.handler_timeout", cfg.Timers.HandlerTimeout},
		{"tasks.default_timeout", cfg.Tasks.DefaultTimeout},
		{"notifier.retry_base", cfg.Notifier.RetryBase},
		{"notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay},
		{"notifier.dedup_window", cfg.Notifier.DedupWindow},
		{"mail.timeout", cfg.Mail.Timeout},
		{"verification.request_window", cfg.Verification.RequestWindow},
		{"verification.code_ttl", cfg.Verification.CodeTTL},
		{"verification.sweep_interval", cfg.Verification.SweepInterval},
		{"reminders.snooze_default", cfg.Reminders.SnoozeDefault},
		{"reminders.snooze_window", cfg.Reminders.SnoozeWindow},
		{"reminders.clear_confirm_in", cfg.Reminders.ClearConfirmIn},
		{"presence.interval", cfg.Presence.Interval},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}

	return errors.Join(errs...)
}
