// Package discord adapts a discordgo gateway session to the transport interfaces. Besides
// text it supports role grants, rich presence and member counts.
package discord

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	kit "unibot/internal/transport"
	logx "unibot/pkg/logx"
)

const textLimit = 2000

type Config struct {
	Token string
	// GuildID, when set, restricts member counts to one server.
	GuildID int64
}

type Adapter struct {
	cfg Config
	log logx.Logger
	s   *discordgo.Session

	out     atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64

	mu      sync.Mutex
	running bool
	remove  func()
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord: token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, errors.Wrap(err, "discord: create session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers
	s.ShouldReconnectOnError = true
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log.With(logx.String("comp", "discord")), s: s}, nil
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	a.out.Store(&out)
	a.remove = a.s.AddHandler(a.onMessage)
	installLogger(a.log)
	if err := a.s.Open(); err != nil {
		a.remove()
		a.out.Store(nil)
		return errors.Wrap(err, "discord: open gateway")
	}
	a.running = true
	a.log.Info("gateway connected")
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	a.out.Store(nil)
	if a.remove != nil {
		a.remove()
	}
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n))
	}
	return errors.Wrap(a.s.Close(), "discord: close gateway")
}

func (a *Adapter) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	out := a.out.Load()
	if out == nil {
		return
	}
	up := kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:           snowflake(m.ID),
			ChatID:       snowflake(m.ChannelID),
			GuildID:      snowflake(m.GuildID),
			FromID:       snowflake(m.Author.ID),
			FromUsername: m.Author.Username,
			Text:         m.Content,
			IsGroup:      m.GuildID != "",
		},
	}
	select {
	case *out <- up:
	default:
		if a.dropped.Add(1)%100 == 1 {
			a.log.Warn("incoming updates dropped (channel full)", logx.Int("chan_cap", cap(*out)))
		}
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	channel := id(to.ChatID)
	var first kit.MessageRef
	for i, chunk := range split(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		data := &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers}},
		}
		if opt.DisablePreview {
			data.Flags = discordgo.MessageFlagsSuppressEmbeds
		}
		if i == 0 && opt.ReplyTo != 0 {
			noFail := false
			data.Reference = &discordgo.MessageReference{MessageID: id(opt.ReplyTo), ChannelID: channel, FailIfNotExists: &noFail}
		}
		msg, err := a.s.ChannelMessageSendComplex(channel, data, discordgo.WithContext(ctx))
		if err != nil {
			return first, errors.Wrapf(err, "discord: send to %s", channel)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: snowflake(msg.ID)}
		}
	}
	return first, nil
}

func (a *Adapter) Mention(userID int64) string { return "<@" + id(userID) + ">" }

func (a *Adapter) MessageLink(guildID, chatID, messageID int64) string {
	guild := "@me"
	if guildID != 0 {
		guild = id(guildID)
	}
	return "https://discord.com/channels/" + guild + "/" + id(chatID) + "/" + id(messageID)
}

func (a *Adapter) GrantRoles(ctx context.Context, guildID, userID int64, roleIDs []int64) error {
	var errs error
	for _, r := range roleIDs {
		if err := a.s.GuildMemberRoleAdd(id(guildID), id(userID), id(r), discordgo.WithContext(ctx)); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "discord: add role %d", r))
		}
	}
	return errs
}

func (a *Adapter) HasRoles(ctx context.Context, guildID, userID int64, roleIDs []int64) (bool, error) {
	m, err := a.s.GuildMember(id(guildID), id(userID), discordgo.WithContext(ctx))
	if err != nil {
		return false, errors.Wrap(err, "discord: fetch member")
	}
	for _, r := range roleIDs {
		if !slices.Contains(m.Roles, id(r)) {
			return false, nil
		}
	}
	return true, nil
}

func (a *Adapter) SetPresence(_ context.Context, status string, act kit.Activity) error {
	data := discordgo.UpdateStatusData{Status: status}
	switch kind := activityType(act.Kind); kind {
	case discordgo.ActivityTypeCustom:
		data.Activities = []*discordgo.Activity{{Name: "Custom Status", Type: kind, State: act.Name}}
	default:
		data.Activities = []*discordgo.Activity{{Name: act.Name, Type: kind}}
	}
	return errors.Wrap(a.s.UpdateStatusComplex(data), "discord: update status")
}

// MemberCount sums member counts of the servers in the session state.
func (a *Adapter) MemberCount(context.Context) (int, error) {
	st := a.s.State
	st.RLock()
	defer st.RUnlock()
	total := 0
	for _, g := range st.Guilds {
		if a.cfg.GuildID != 0 && g.ID != id(a.cfg.GuildID) {
			continue
		}
		total += g.MemberCount
	}
	return total, nil
}

func activityType(kind string) discordgo.ActivityType {
	switch kind {
	case "playing":
		return discordgo.ActivityTypeGame
	case "watching":
		return discordgo.ActivityTypeWatching
	case "listening":
		return discordgo.ActivityTypeListening
	case "competing":
		return discordgo.ActivityTypeCompeting
	default:
		return discordgo.ActivityTypeCustom
	}
}

func snowflake(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func id(n int64) string { return strconv.FormatInt(n, 10) }

// split cuts s into chunks of at most limit runes on line boundaries where possible.
func split(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > 0 {
		end := min(limit, len(rs))
		if end < len(rs) {
			if i := lastNewline(rs[:end]); i >= limit/3 {
				end = i + 1
			}
		}
		out = append(out, strings.TrimRight(string(rs[:end]), "\n"))
		rs = rs[end:]
	}
	return out
}

func lastNewline(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == '\n' {
			return i
		}
	}
	return -1
}

var loggerOnce sync.Once

// installLogger routes discordgo's package-level logging through logx.
func installLogger(log logx.Logger) {
	loggerOnce.Do(func() {
		discordgo.Logger = func(level, _ int, format string, args ...any) {
			msg := fmt.Sprintf(format, args...)
			switch level {
			case discordgo.LogError:
				log.Error(msg)
			case discordgo.LogWarning:
				log.Warn(msg)
			case discordgo.LogInformational:
				log.Info(msg)
			default:
				log.Debug(msg)
			}
		}
	})
}
