// Package reminder lets members schedule reminders on top of the durable timer scheduler.
package reminder

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"

	"unibot/internal/notifier"
	"unibot/internal/storage"
	"unibot/internal/timer"
	kit "unibot/internal/transport"
	logx "unibot/pkg/logx"
)

// Event is the timer event tag for reminders.
const Event = "reminder"

// Payload keys.
const (
	keyChannel   = "channel"
	keyThread    = "thread"
	keyGuild     = "guild"
	keyMessage   = "message"
	keyMessageID = "message_id"
)

const defaultText = "…"

type Config struct {
	MaxMessageLen  int
	ListLimit      int
	SnoozeDefault  time.Duration
	SnoozeWindow   time.Duration
	ClearConfirmIn time.Duration
	Location       *time.Location
}

func (c Config) withDefaults() Config {
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = 1500
	}
	if c.ListLimit <= 0 {
		c.ListLimit = 10
	}
	if c.SnoozeDefault <= 0 {
		c.SnoozeDefault = 10 * time.Minute
	}
	if c.SnoozeWindow <= 0 {
		c.SnoozeWindow = 5 * time.Minute
	}
	if c.ClearConfirmIn <= 0 {
		c.ClearConfirmIn = 5 * time.Minute
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Timers is the part of the timer scheduler reminders use.
type Timers interface {
	Create(ctx context.Context, when time.Time, event string, payload timer.Payload, opts ...timer.CreateOption) (*timer.Timer, error)
	DeleteWhere(ctx context.Context, f storage.TimerFilter) (int64, error)
	List(ctx context.Context, f storage.TimerFilter, limit int) ([]*timer.Timer, error)
	Count(ctx context.Context, f storage.TimerFilter) (int64, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }
func WithLogger(l logx.Logger) Option    { return func(s *Service) { s.log = l } }

// WithPrefix supplies the current command prefix for hints in fired reminders.
func WithPrefix(f func() string) Option { return func(s *Service) { s.prefix = f } }

type fired struct {
	t  *timer.Timer
	at time.Time
}

type pendingClear struct {
	total   int64
	expires time.Time
}

type Service struct {
	cfg    Config
	timers Timers
	notify Notifier
	chat   kit.Adapter
	parser *Parser
	clock  clockwork.Clock
	log    logx.Logger
	prefix func() string

	mu     sync.Mutex
	fired  map[string]fired // author -> most recent fired reminder
	clears map[string]pendingClear
}

func New(cfg Config, timers Timers, notify Notifier, chat kit.Adapter, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:    cfg,
		timers: timers,
		notify: notify,
		chat:   chat,
		parser: NewParser(cfg.Location),
		clock:  clockwork.NewRealClock(),
		log:    logx.Nop(),
		prefix: func() string { return "/" },
		fired:  map[string]fired{},
		clears: map[string]pendingClear{},
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "reminder"))
	return s
}

// Origin identifies where a reminder was requested.
type Origin struct {
	AuthorID  int64
	ChatID    int64
	ThreadID  int
	GuildID   int64
	MessageID int64
}

func (o Origin) author() string { return strconv.FormatInt(o.AuthorID, 10) }

// Create parses "<when> [text]" and schedules the reminder.
func (s *Service) Create(ctx context.Context, o Origin, input string) (*timer.Timer, string, error) {
	now := s.clock.Now()
	p, err := s.parser.Parse(input, now)
	if err != nil {
		return nil, "", err
	}
	text := p.Text
	if text == "" {
		text = defaultText
	}
	if utf8.RuneCountInString(text) >= s.cfg.MaxMessageLen {
		return nil, "", failf("Reminder must be fewer than %d characters.", s.cfg.MaxMessageLen)
	}

	t, err := s.timers.Create(ctx, p.When, Event, timer.Payload{
		timer.OwnerKey: o.author(),
		keyChannel:     o.ChatID,
		keyThread:      o.ThreadID,
		keyGuild:       o.GuildID,
		keyMessage:     text,
		keyMessageID:   o.MessageID,
	}, timer.WithCreatedAt(now))
	if err != nil {
		return nil, "", errors.Wrap(err, "schedule reminder")
	}
	return t, "Alright " + s.mention(o.AuthorID) + ", in " + t.HumanDelta() + ": " + text, nil
}

// OnFired is the handler for reminder_timer_complete.
func (s *Service) OnFired(ctx context.Context, t *timer.Timer) error {
	p := t.Payload()
	author, _ := p.Int64(timer.OwnerKey)
	chatID, ok := p.Int64(keyChannel)
	if !ok {
		return errors.Newf("reminder %s has no channel", t)
	}
	thread, _ := p.Int64(keyThread)
	guild, _ := p.Int64(keyGuild)
	msgID, _ := p.Int64(keyMessageID)
	text, _ := p.String(keyMessage)

	var b strings.Builder
	b.WriteString(s.mention(author) + ", " + t.HumanDelta() + ": " + text)
	if lk, ok := s.chat.(kit.MessageLinker); ok && msgID != 0 {
		if link := lk.MessageLink(guild, chatID, msgID); link != "" {
			b.WriteString("\nOriginal message: " + link)
		}
	}
	b.WriteString("\nSnooze it with " + s.prefix() + "reminder snooze [duration]")

	err := s.notify.Notify(ctx, notifier.Notification{
		Channel: Event,
		Target:  kit.ChatTarget{ChatID: chatID, ThreadID: int(thread)},
		Text:    b.String(),
		Options: &kit.SendOptions{DisablePreview: true},
	})
	if err != nil {
		return errors.Wrapf(err, "notify reminder %s", t)
	}

	s.mu.Lock()
	s.fired[t.Owner()] = fired{t: t, at: s.clock.Now()}
	s.mu.Unlock()
	return nil
}

// Snooze re-schedules the author's most recently fired reminder as a new timer.
func (s *Service) Snooze(ctx context.Context, authorID int64, input string) (string, error) {
	author := strconv.FormatInt(authorID, 10)
	now := s.clock.Now()

	s.mu.Lock()
	f, ok := s.fired[author]
	if ok && now.Sub(f.at) >= s.cfg.SnoozeWindow {
		delete(s.fired, author)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return "", failf("You have no recently fired reminder to snooze.")
	}

	when := now.Add(s.cfg.SnoozeDefault)
	if strings.TrimSpace(input) != "" {
		at, err := s.parser.ParseDuration(input, now)
		if err != nil {
			return "", err
		}
		when = at
	}
	t, err := s.timers.Create(ctx, when, f.t.Event(), f.t.Payload(), timer.WithCreatedAt(now))
	if err != nil {
		return "", errors.Wrap(err, "snooze reminder")
	}

	s.mu.Lock()
	if cur, ok := s.fired[author]; ok && cur.t == f.t {
		delete(s.fired, author)
	}
	s.mu.Unlock()

	text, _ := f.t.Payload().String(keyMessage)
	return "Alright " + s.mention(authorID) + ", I've snoozed your reminder for " + t.HumanDelta() + ": " + text, nil
}

// SweepJob forgets fired reminders and clear confirmations that can no longer be used.
func (s *Service) SweepJob(context.Context) error {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, f := range s.fired {
		if now.Sub(f.at) >= s.cfg.SnoozeWindow {
			delete(s.fired, k)
		}
	}
	for k, c := range s.clears {
		if !now.Before(c.expires) {
			delete(s.clears, k)
		}
	}
	return nil
}

func (s *Service) mention(userID int64) string {
	if m, ok := s.chat.(kit.Mentioner); ok {
		return m.Mention(userID)
	}
	return "user " + strconv.FormatInt(userID, 10)
}
