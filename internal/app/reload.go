package app

import (
	"context"
	"strings"

	"unibot/internal/config"
	logx "unibot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan config.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts, keeping the oldest Old and the newest New
			for drained := false; !drained; {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					ch.New = newer.New
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, ch.Old, ch.New)
		}
	}
}

// applyConfig pushes the parts of a committed config that can change on a running bot.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, needRestart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(needRestart) > 0 {
		a.log.Warn("config sections changed that need a restart to take effect",
			logx.String("sections", strings.Join(needRestart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	a.router.SetOwners(newCfg.Bot.OwnerUserIDs)
	a.router.SetPrefix(newCfg.Bot.Prefix)
	if oldCfg == nil || oldCfg.Bot.Prefix != newCfg.Bot.Prefix {
		if err := a.router.SyncMenu(ctx); err != nil {
			a.log.Warn("command menu sync failed", logx.Err(err))
		}
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if tcfg, err := mapTaskConfig(newCfg); err != nil {
		a.log.Warn("invalid tasks config; keeping previous", logx.Err(err))
	} else {
		a.tasks.Apply(tcfg)
	}

	a.applyPresence(newCfg)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyPresence(cfg *config.Config) {
	if a.presence == nil {
		if cfg.Presence.Enabled {
			a.log.Warn("presence was enabled; restart to start rotating")
		}
		return
	}
	if !cfg.Presence.Enabled {
		if a.tasks.Remove(taskPresence) {
			a.log.Info("presence rotation disabled via config")
		}
		return
	}
	pcfg, every, err := mapPresenceConfig(cfg)
	if err != nil {
		a.log.Warn("invalid presence config; keeping previous", logx.Err(err))
		return
	}
	a.presence.Apply(pcfg)
	if err := a.tasks.AddInterval(taskPresence, every, 0, a.presence.Rotate); err != nil {
		a.log.Warn("presence reschedule failed", logx.Err(err))
	}
}
