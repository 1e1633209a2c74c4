package app

import (
	"strings"

	"github.com/cockroachdb/errors"

	"unibot/internal/config"
	kit "unibot/internal/transport"
	"unibot/internal/transport/discord"
	"unibot/internal/transport/telegram"
	logx "unibot/pkg/logx"
)

func transportName(cfg *config.Config) string {
	t := strings.ToLower(strings.TrimSpace(cfg.Bot.Transport))
	if t == "" {
		return "discord"
	}
	return t
}

func newAdapter(cfg *config.Config, log logx.Logger) (kit.Adapter, error) {
	switch name := transportName(cfg); name {
	case "discord":
		ad, err := discord.New(discord.Config{Token: cfg.Discord.Token, GuildID: cfg.Discord.GuildID}, log)
		if err != nil {
			return nil, err
		}
		return ad, nil
	case "telegram":
		poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, log)
		if err != nil {
			return nil, err
		}
		return ad, nil
	default:
		return nil, errors.Newf("unknown transport %q", name)
	}
}
