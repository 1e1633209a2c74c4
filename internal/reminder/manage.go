package reminder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"

	"unibot/internal/commands"
	"unibot/internal/storage"
)

const listPreviewLen = 512

func failf(format string, args ...any) error { return commands.Fail(fmt.Sprintf(format, args...)) }

func ownerFilter(authorID int64) storage.TimerFilter {
	return storage.TimerFilter{Event: Event, Owner: strconv.FormatInt(authorID, 10)}
}

// List renders the author's soonest reminders.
func (s *Service) List(ctx context.Context, authorID int64) (string, error) {
	f := ownerFilter(authorID)
	timers, err := s.timers.List(ctx, f, s.cfg.ListLimit)
	if err != nil {
		return "", errors.Wrap(err, "list reminders")
	}
	if len(timers) == 0 {
		return "No currently running reminders.", nil
	}
	total, err := s.timers.Count(ctx, f)
	if err != nil {
		return "", errors.Wrap(err, "count reminders")
	}

	now := s.clock.Now()
	lines := []string{"Reminders:"}
	for _, t := range timers {
		id, _ := t.ID()
		text, _ := t.Payload().String(keyMessage)
		lines = append(lines, fmt.Sprintf("%d: in %s\n  %s", id, relative(now, t.ExpiresAt()), shorten(text, listPreviewLen)))
	}
	if int(total) > len(timers) {
		lines = append(lines, fmt.Sprintf("Only showing up to %d of %s.", len(timers), english.Plural(int(total), "reminder", "")))
	} else {
		lines = append(lines, english.Plural(len(timers), "reminder", ""))
	}
	return strings.Join(lines, "\n"), nil
}

// Delete removes one of the author's reminders by id.
func (s *Service) Delete(ctx context.Context, authorID int64, rawID string) (string, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(rawID), "#"), 10, 64)
	if err != nil || id <= 0 {
		return "", failf("Could not delete any reminders with that ID.")
	}
	f := ownerFilter(authorID)
	f.ID = id
	n, err := s.timers.DeleteWhere(ctx, f)
	if err != nil {
		return "", errors.Wrap(err, "delete reminder")
	}
	if n == 0 {
		return "", failf("Could not delete any reminders with that ID.")
	}
	return "Successfully deleted reminder.", nil
}

// RequestClear counts the author's reminders and arms a confirmation.
func (s *Service) RequestClear(ctx context.Context, authorID int64) (string, error) {
	total, err := s.timers.Count(ctx, ownerFilter(authorID))
	if err != nil {
		return "", errors.Wrap(err, "count reminders")
	}
	if total == 0 {
		return "You do not have any reminders to delete.", nil
	}
	now := s.clock.Now()
	s.mu.Lock()
	s.clears[strconv.FormatInt(authorID, 10)] = pendingClear{total: total, expires: now.Add(s.cfg.ClearConfirmIn)}
	s.mu.Unlock()
	return fmt.Sprintf("Are you sure you want to delete %s? Run %sreminder clear confirm within %s.",
		english.Plural(int(total), "reminder", ""), s.prefix(), relative(now, now.Add(s.cfg.ClearConfirmIn))), nil
}

// ConfirmClear deletes every reminder of the author if a confirmation is pending.
func (s *Service) ConfirmClear(ctx context.Context, authorID int64) (string, error) {
	key := strconv.FormatInt(authorID, 10)
	now := s.clock.Now()
	s.mu.Lock()
	pc, ok := s.clears[key]
	delete(s.clears, key)
	s.mu.Unlock()
	if !ok || !now.Before(pc.expires) {
		return "", failf("Aborting")
	}

	n, err := s.timers.DeleteWhere(ctx, ownerFilter(authorID))
	if err != nil {
		return "", errors.Wrap(err, "clear reminders")
	}
	return fmt.Sprintf("Successfully deleted %s/%s.", humanize.Comma(n), english.Plural(int(pc.total), "reminder", "")), nil
}

func relative(now, t time.Time) string {
	return strings.TrimSpace(humanize.RelTime(now, t, "", ""))
}

// shorten collapses whitespace and cuts s to at most width runes on a word boundary.
func shorten(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	cut := string(r[:width-1])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
