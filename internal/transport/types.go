package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int64
	ChatID       int64
	ThreadID     int   // telegram forum topic thread id (0 if none)
	GuildID      int64 // discord guild (0 on telegram / direct messages)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int64 // message id to reply to, 0 for none
}

type Adapter interface {
	Name() string
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Mentioner renders a platform mention for a user id.
type Mentioner interface {
	Mention(userID int64) string
}

// MessageLinker builds a jump link to an earlier message, when the platform has one.
type MessageLinker interface {
	MessageLink(guildID, chatID, messageID int64) string
}

// RoleGranter is implemented by adapters whose platform has server roles.
type RoleGranter interface {
	GrantRoles(ctx context.Context, guildID, userID int64, roleIDs []int64) error
	// HasRoles reports whether the member already holds every role in roleIDs.
	HasRoles(ctx context.Context, guildID, userID int64, roleIDs []int64) (bool, error)
}

// Activity is a rich-presence entry shown next to the bot's name.
type Activity struct {
	Kind string // "playing" | "watching" | "listening" | "competing" | "custom"
	Name string
}

// PresenceSetter is implemented by adapters that can show an activity and status.
type PresenceSetter interface {
	SetPresence(ctx context.Context, status string, act Activity) error
}

// MemberCounter reports the number of members across the servers the bot is in.
type MemberCounter interface {
	MemberCount(ctx context.Context) (int, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
