package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment override, e.g. UNIBOT_DISCORD_TOKEN.
const EnvPrefix = "UNIBOT"

// Secrets are the values that should not live in the config file.
type Secrets struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	DiscordToken  string `envconfig:"DISCORD_TOKEN"`
	MailUsername  string `envconfig:"MAIL_USERNAME"`
	MailPassword  string `envconfig:"MAIL_PASSWORD"`
	StorageURI    string `envconfig:"STORAGE_URI"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	DiagToken     string `envconfig:"DIAGNOSTICS_TOKEN"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return errors.Wrapf(godotenv.Load(path), "load %s", path)
}

func ReadSecrets() (Secrets, error) {
	var s Secrets
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return Secrets{}, errors.Wrap(err, "process env config")
	}
	return s, nil
}

// Overlay copies every non-empty secret onto cfg.
func (s Secrets) Overlay(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, s.TelegramToken)
	set(&cfg.Discord.Token, s.DiscordToken)
	set(&cfg.Mail.Username, s.MailUsername)
	set(&cfg.Mail.Password, s.MailPassword)
	set(&cfg.Storage.URI, s.StorageURI)
	set(&cfg.Logging.Level, s.LogLevel)
	set(&cfg.Diagnostics.Token, s.DiagToken)
}
