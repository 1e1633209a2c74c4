package app

import (
	"strings"
	"time"

	"unibot/internal/config"
	"unibot/internal/mail"
	"unibot/internal/notifier"
	"unibot/internal/observability/diag"
	"unibot/internal/presence"
	"unibot/internal/reminder"
	"unibot/internal/storage"
	"unibot/internal/task/scheduler"
	"unibot/internal/timer"
	kit "unibot/internal/transport"
	"unibot/internal/verify"
	logx "unibot/pkg/logx"
)

// durations parses a batch of config durations, keeping the first error.
type durations struct{ err error }

func (d *durations) get(path, raw string, def time.Duration) time.Duration {
	v, err := config.ParseDurationOrDefault(path, raw, def)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			Compress:   l.File.Compress,
		},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChatID:     l.Chat.ChatID,
			ThreadID:   l.Chat.ThreadID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	var d durations
	out := storage.Config{
		Driver:         strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:           strings.TrimSpace(sc.Path),
		BusyTimeout:    d.get("storage.busy_timeout", sc.BusyTimeout, time.Second),
		URI:            sc.URI,
		Database:       sc.Database,
		Prefix:         sc.Prefix,
		PoolSize:       sc.PoolSize,
		ConnectTimeout: d.get("storage.connect_timeout", sc.ConnectTimeout, 5*time.Second),
	}
	if out.Path == "" {
		out.Path = "./data/unibot.db"
	}
	return out, d.err
}

func mapTimerConfig(cfg *config.Config) (timer.Config, time.Duration, error) {
	tc := cfg.Timers
	var d durations
	out := timer.Config{
		LookAhead:         d.get("timers.look_ahead", tc.LookAhead, timer.DefaultLookAhead),
		ShortThreshold:    d.get("timers.short_threshold", tc.ShortThreshold, timer.DefaultShortThreshold),
		QueryTimeout:      d.get("timers.query_timeout", tc.QueryTimeout, timer.DefaultQueryTimeout),
		SearchRecheck:     d.get("timers.search_recheck", tc.SearchRecheck, timer.DefaultSearchRecheck),
		RestartBackoffMin: d.get("timers.restart_backoff_min", tc.RestartBackoffMin, timer.DefaultRestartBackoffMin),
		RestartBackoffMax: d.get("timers.restart_backoff_max", tc.RestartBackoffMax, timer.DefaultRestartBackoffMax),
	}
	handlerTimeout := d.get("timers.handler_timeout", tc.HandlerTimeout, 30*time.Second)
	return out, handlerTimeout, d.err
}

func mapTaskConfig(cfg *config.Config) (scheduler.Config, error) {
	var d durations
	out := scheduler.Config{
		Timezone:       strings.TrimSpace(cfg.Tasks.Timezone),
		DefaultTimeout: d.get("tasks.default_timeout", cfg.Tasks.DefaultTimeout, 30*time.Second),
		HistorySize:    cfg.Tasks.HistorySize,
	}
	if out.Timezone != "" {
		if _, err := time.LoadLocation(out.Timezone); err != nil && d.err == nil {
			d.err = err
		}
	}
	return out, d.err
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	var d durations
	out := notifier.Config{
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       d.get("notifier.retry_base", nc.RetryBase, 0),
		RetryMaxDelay:   d.get("notifier.retry_max_delay", nc.RetryMaxDelay, 0),
		DedupWindow:     d.get("notifier.dedup_window", nc.DedupWindow, 0),
		DedupMaxEntries: nc.DedupMaxEntries,
	}
	return out, d.err
}

func mapMailConfig(cfg *config.Config) (mail.Config, error) {
	mc := cfg.Mail
	var d durations
	out := mail.Config{
		Host:     mc.Host,
		Port:     mc.Port,
		Username: mc.Username,
		Password: mc.Password,
		From:     mc.From,
		Timeout:  d.get("mail.timeout", mc.Timeout, mail.DefaultTimeout),
	}
	return out, d.err
}

// mapVerifyConfig also returns the OTP lifetime and the sweep interval shared by the OTP cache
// and the pending-request sweep.
func mapVerifyConfig(cfg *config.Config) (verify.Config, time.Duration, time.Duration, error) {
	vc := cfg.Verification
	var d durations
	out := verify.Config{
		EmailSuffix:   vc.EmailSuffix,
		RoleIDs:       vc.RoleIDs,
		RequestWindow: d.get("verification.request_window", vc.RequestWindow, verify.DefaultRequestWindow),
		GuildID:       cfg.Discord.GuildID,
	}
	ttl := d.get("verification.code_ttl", vc.CodeTTL, 0)
	sweep := d.get("verification.sweep_interval", vc.SweepInterval, 60*time.Second)
	return out, ttl, sweep, d.err
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminders
	var d durations
	out := reminder.Config{
		MaxMessageLen:  rc.MaxMessageLen,
		ListLimit:      rc.ListLimit,
		SnoozeDefault:  d.get("reminders.snooze_default", rc.SnoozeDefault, 0),
		SnoozeWindow:   d.get("reminders.snooze_window", rc.SnoozeWindow, 0),
		ClearConfirmIn: d.get("reminders.clear_confirm_in", rc.ClearConfirmIn, 0),
	}
	if tz := strings.TrimSpace(rc.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil && d.err == nil {
			d.err = err
		}
		out.Location = loc
	}
	return out, d.err
}

func mapPresenceConfig(cfg *config.Config) (presence.Config, time.Duration, error) {
	pc := cfg.Presence
	var d durations
	acts := make([]kit.Activity, 0, len(pc.Activities))
	for _, a := range pc.Activities {
		acts = append(acts, kit.Activity{Kind: presence.NormalizeKind(a.Kind), Name: a.Name})
	}
	out := presence.Config{Status: strings.ToLower(pc.Status), Activities: acts}
	every := d.get("presence.interval", pc.Interval, presence.DefaultInterval)
	return out, every, d.err
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	dc := cfg.Diagnostics
	return diag.Config{Enabled: dc.Enabled, Addr: strings.TrimSpace(dc.Addr), Token: dc.Token, AllowInsecure: dc.AllowInsecure}
}

// checkMappings is installed as the config manager's extra validator so a reload that
// cannot be mapped onto components is rejected before it is committed.
func checkMappings(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTimerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMailConfig(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapVerifyConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapPresenceConfig(cfg); err != nil {
		return err
	}
	if cfg.Diagnostics.Enabled {
		return diag.New(mapDiagConfig(cfg), diag.Views{}, logx.Nop()).Check()
	}
	return nil
}
