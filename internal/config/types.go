package config

// Config is the on-disk configuration (JSON or YAML). Secrets may be left empty here and
// supplied through UNIBOT_* environment variables instead (see env.go).
//
// All durations are Go duration strings ("500ms", "10s", "3m").
type Config struct {
	Bot          BotConfig          `json:"bot"`
	Telegram     TelegramConfig     `json:"telegram"`
	Discord      DiscordConfig      `json:"discord"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Timers       TimersConfig       `json:"timers"`
	Tasks        TasksConfig        `json:"tasks"`
	Notifier     NotifierConfig     `json:"notifier"`
	Mail         MailConfig         `json:"mail"`
	Verification VerificationConfig `json:"verification"`
	Reminders    RemindersConfig    `json:"reminders"`
	Presence     PresenceConfig     `json:"presence"`
	Diagnostics  DiagnosticsConfig  `json:"diagnostics"`
}

type BotConfig struct {
	// Transport selects the chat adapter: "discord" (default) or "telegram".
	Transport    string  `json:"transport"`
	Prefix       string  `json:"prefix"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
}

type TelegramConfig struct {
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout"`
}

type DiscordConfig struct {
	Token string `json:"token,omitempty"`
	// GuildID is the server whose roles verification grants.
	GuildID int64 `json:"guild_id"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// LoggingChat forwards warn+ records to an operator chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the durable store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/unibot.db" }
//	"storage": { "driver": "mongo", "uri": "mongodb://localhost:27017", "database": "unibot" }
type StorageConfig struct {
	Driver         string `json:"driver"` // sqlite (default) | memory | postgres | mongo | redis
	Path           string `json:"path,omitempty"`
	BusyTimeout    string `json:"busy_timeout,omitempty"`
	URI            string `json:"uri,omitempty"`
	Database       string `json:"database,omitempty"`
	Prefix         string `json:"prefix,omitempty"`
	PoolSize       int    `json:"pool_size,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"`
}

type TimersConfig struct {
	LookAhead         string `json:"look_ahead,omitempty"`
	ShortThreshold    string `json:"short_threshold,omitempty"`
	QueryTimeout      string `json:"query_timeout,omitempty"`
	SearchRecheck     string `json:"search_recheck,omitempty"`
	RestartBackoffMin string `json:"restart_backoff_min,omitempty"`
	RestartBackoffMax string `json:"restart_backoff_max,omitempty"`
	HandlerTimeout    string `json:"handler_timeout,omitempty"`
}

type TasksConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type NotifierConfig struct {
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

type MailConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type VerificationConfig struct {
	Enabled bool `json:"enabled"`
	// EmailSuffix is the domain part accepted by "verify email", e.g. "student.example.edu".
	EmailSuffix   string  `json:"email_suffix"`
	RoleIDs       []int64 `json:"role_ids"`
	RequestWindow string  `json:"request_window,omitempty"`
	CodeTTL       string  `json:"code_ttl,omitempty"`
	SweepInterval string  `json:"sweep_interval,omitempty"`
}

type RemindersConfig struct {
	MaxMessageLen  int    `json:"max_message_len,omitempty"`
	ListLimit      int    `json:"list_limit,omitempty"`
	SnoozeDefault  string `json:"snooze_default,omitempty"`
	SnoozeWindow   string `json:"snooze_window,omitempty"`
	ClearConfirmIn string `json:"clear_confirm_in,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

type PresenceConfig struct {
	Enabled    bool             `json:"enabled"`
	Interval   string           `json:"interval,omitempty"`
	Status     string           `json:"status,omitempty"`
	Activities []ActivityConfig `json:"activities"`
}

type ActivityConfig struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// DiagnosticsConfig enables the HTTP health, state and pprof endpoint. Binding beyond
// loopback needs a token or allow_insecure.
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
