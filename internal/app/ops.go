package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"unibot/internal/commands"
	"unibot/internal/runtime/supervisor"
	"unibot/internal/storage"
	"unibot/internal/task/scheduler"
	"unibot/internal/timer"
)

// opsCommands are owner-only views of the bot's runtime state.
func (a *App) opsCommands() []commands.Command {
	return []commands.Command{
		{
			Route:       "timers",
			Description: "timer scheduler state",
			Usage:       "timers",
			Access:      commands.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *commands.Request) (string, error) {
				pending, err := a.timers.Count(ctx, storage.TimerFilter{})
				if err != nil {
					return "", err
				}
				return formatTimers(a.timers.Snapshot(), pending, req.Now), nil
			},
		},
		{
			Route:       "tasks",
			Description: "periodic jobs and their last runs",
			Usage:       "tasks",
			Access:      commands.AccessOwnerOnly,
			Handle: func(_ context.Context, req *commands.Request) (string, error) {
				return formatTasks(a.tasks.Snapshot(), req.Now), nil
			},
		},
		{
			Route:       "status",
			Description: "supervised goroutines",
			Usage:       "status",
			Access:      commands.AccessOwnerOnly,
			Handle: func(context.Context, *commands.Request) (string, error) {
				return formatSupervisor(a.sup.Snapshot(), a.logs.Dropped()), nil
			},
		},
	}
}

func formatTimers(s timer.Snapshot, pending int64, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Timer scheduler: %s", s.State)
	if !s.Running {
		b.WriteString(" (stopped)")
	}
	b.WriteString("\n")
	if s.Current != nil {
		fmt.Fprintf(&b, "Next: %s, %s\n", s.Current.String(), humanize.RelTime(s.Current.ExpiresAt(), now, "ago", "from now"))
	} else {
		b.WriteString("Next: none\n")
	}
	fmt.Fprintf(&b, "Pending (stored): %s, short in memory: %d\n", humanize.Comma(pending), s.ShortPending)
	fmt.Fprintf(&b, "Fired: %s (%s short), reschedules: %d, recoveries: %d",
		humanize.Comma(int64(s.Fired)), humanize.Comma(int64(s.ShortFired)), s.Reschedules, s.Recoveries)
	if s.LastError != "" {
		fmt.Fprintf(&b, "\nLast error %s: %s", humanize.RelTime(s.LastErrorAt, now, "ago", "from now"), s.LastError)
	}
	return b.String()
}

func formatTasks(s scheduler.Snapshot, now time.Time) string {
	if len(s.Schedules) == 0 {
		return "No periodic jobs."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Periodic jobs (%s):", s.Timezone)
	for _, it := range s.Schedules {
		fmt.Fprintf(&b, "\n- %s [%s]", it.Name, it.Spec)
		if it.Running {
			b.WriteString(" running")
		}
		if !it.Next.IsZero() {
			fmt.Fprintf(&b, ", next %s", humanize.RelTime(it.Next, now, "ago", "from now"))
		}
	}
	if s.Skipped > 0 {
		fmt.Fprintf(&b, "\nSkipped overlapping runs: %d", s.Skipped)
	}
	var failed []string
	for _, h := range s.History {
		if h.Error != "" {
			failed = append(failed, h.Name+": "+h.Error)
		}
	}
	if n := len(failed); n > 0 {
		fmt.Fprintf(&b, "\nLast failure: %s", failed[n-1])
	}
	return b.String()
}

func formatSupervisor(s supervisor.Snapshot, logDropped uint64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goroutines: %d active, %d started", s.Active, s.Started)
	for _, g := range s.Goroutines {
		fmt.Fprintf(&b, "\n- %s: %d active", g.Name, g.Active)
		if g.Restarts > 0 {
			fmt.Fprintf(&b, ", %d restarts", g.Restarts)
		}
		if g.Panics > 0 {
			fmt.Fprintf(&b, ", %d panics", g.Panics)
		}
	}
	if s.FirstError != "" {
		fmt.Fprintf(&b, "\nFirst error: %s", s.FirstError)
	}
	if logDropped > 0 {
		fmt.Fprintf(&b, "\nChat log records dropped: %d", logDropped)
	}
	return b.String()
}
