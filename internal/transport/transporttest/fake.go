// Package transporttest provides an in-memory chat adapter for tests.
package transporttest

import (
	"context"
	"strconv"
	"sync"

	kit "unibot/internal/transport"
)

type Sent struct {
	To   kit.ChatTarget
	Text string
	Opts kit.SendOptions
}

type Grant struct {
	GuildID, UserID int64
	Roles           []int64
}

// Adapter records outgoing traffic. It implements every optional transport interface.
type Adapter struct {
	mu       sync.Mutex
	sent     []Sent
	grants   []Grant
	presence []kit.Activity
	status   string
	menu     []kit.BotCommand

	Members  int
	GrantErr error
	SendErr  error
}

func (a *Adapter) Name() string                                   { return "fake" }
func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                     { return nil }

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SendErr != nil {
		return kit.MessageRef{}, a.SendErr
	}
	s := Sent{To: to, Text: text}
	if opt != nil {
		s.Opts = *opt
	}
	a.sent = append(a.sent, s)
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: int64(len(a.sent))}, nil
}

func (a *Adapter) Mention(userID int64) string { return "<@" + strconv.FormatInt(userID, 10) + ">" }

func (a *Adapter) MessageLink(guildID, chatID, messageID int64) string {
	return "https://chat.example/" + strconv.FormatInt(guildID, 10) + "/" +
		strconv.FormatInt(chatID, 10) + "/" + strconv.FormatInt(messageID, 10)
}

func (a *Adapter) GrantRoles(_ context.Context, guildID, userID int64, roleIDs []int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.GrantErr != nil {
		return a.GrantErr
	}
	a.grants = append(a.grants, Grant{GuildID: guildID, UserID: userID, Roles: append([]int64(nil), roleIDs...)})
	return nil
}

func (a *Adapter) HasRoles(_ context.Context, guildID, userID int64, roleIDs []int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	held := map[int64]bool{}
	for _, g := range a.grants {
		if g.GuildID == guildID && g.UserID == userID {
			for _, r := range g.Roles {
				held[r] = true
			}
		}
	}
	for _, r := range roleIDs {
		if !held[r] {
			return false, nil
		}
	}
	return true, nil
}

func (a *Adapter) SetPresence(_ context.Context, status string, act kit.Activity) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
	a.presence = append(a.presence, act)
	return nil
}

func (a *Adapter) MemberCount(context.Context) (int, error) { return a.Members, nil }

func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.menu = append([]kit.BotCommand(nil), cmds...)
	return nil
}

func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// Texts returns the text of every sent message in order.
func (a *Adapter) Texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sent))
	for i, s := range a.sent {
		out[i] = s.Text
	}
	return out
}

func (a *Adapter) Last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1].Text
}

func (a *Adapter) Grants() []Grant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Grant(nil), a.grants...)
}

func (a *Adapter) Presence() (string, []kit.Activity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status, append([]kit.Activity(nil), a.presence...)
}

func (a *Adapter) Menu() []kit.BotCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.BotCommand(nil), a.menu...)
}

// Reset forgets everything recorded so far.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent, a.grants, a.presence, a.menu = nil, nil, nil, nil
}
