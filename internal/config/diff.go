package config

import (
	"reflect"
	"slices"
	"strings"

	logx "unibot/pkg/logx"
)

// secretSections hold credentials; their changes are reported as "<section>.secret_changed"
// and never logged by value.
var secretSections = map[string]bool{"telegram": true, "discord": true, "mail": true, "storage": true, "diagnostics": true}

// restartSections cannot be applied to a running bot. Of the bot section only the transport
// needs a restart; prefix and owners apply live.
var restartSections = []string{"telegram", "discord", "storage", "timers", "mail", "verification", "reminders", "diagnostics"}

// SummarizeConfigChange returns the top-level sections that differ, safe structured fields
// for logging, and the subset of changed sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, needRestart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	ov := reflect.ValueOf(*oldCfg)
	nv := reflect.ValueOf(*newCfg)
	typ := ov.Type()
	for i := 0; i < typ.NumField(); i++ {
		name := jsonName(typ.Field(i))
		if reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			continue
		}
		changed = append(changed, name)
		if slices.Contains(restartSections, name) ||
			(name == "bot" && !strings.EqualFold(oldCfg.Bot.Transport, newCfg.Bot.Transport)) {
			needRestart = append(needRestart, name)
		}
		if secretSections[name] {
			attrs = append(attrs, logx.Bool(name+".secret_changed", secretsDiffer(name, oldCfg, newCfg)))
		}
	}

	if oldCfg.Logging.Level != newCfg.Logging.Level {
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
	}
	if oldCfg.Presence.Enabled != newCfg.Presence.Enabled || len(oldCfg.Presence.Activities) != len(newCfg.Presence.Activities) {
		attrs = append(attrs,
			logx.Bool("presence.enabled", newCfg.Presence.Enabled),
			logx.Int("presence.activities", len(newCfg.Presence.Activities)))
	}
	if !slices.Equal(oldCfg.Bot.OwnerUserIDs, newCfg.Bot.OwnerUserIDs) {
		attrs = append(attrs, logx.Int("bot.owner_count", len(newCfg.Bot.OwnerUserIDs)))
	}
	return changed, attrs, needRestart
}

func secretsDiffer(section string, a, b *Config) bool {
	switch section {
	case "telegram":
		return a.Telegram.Token != b.Telegram.Token
	case "discord":
		return a.Discord.Token != b.Discord.Token
	case "mail":
		return a.Mail.Password != b.Mail.Password
	case "storage":
		return a.Storage.URI != b.Storage.URI
	case "diagnostics":
		return a.Diagnostics.Token != b.Diagnostics.Token
	}
	return false
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i]
		}
	}
	if tag == "" {
		return f.Name
	}
	return tag
}
