package reminder

import (
	"context"

	"unibot/internal/commands"
)

func originOf(req *commands.Request) Origin {
	m := req.Msg
	return Origin{AuthorID: m.FromID, ChatID: m.ChatID, ThreadID: m.ThreadID, GuildID: m.GuildID, MessageID: m.ID}
}

// Commands exposes reminders as chat commands.
func (s *Service) Commands() []commands.Command {
	return []commands.Command{
		{
			Route:       "reminder",
			Aliases:     []string{"remind", "remindme", "timer"},
			Description: "remind you of something after a certain amount of time",
			Usage:       "remind <when> [text]",
			Handle: func(ctx context.Context, req *commands.Request) (string, error) {
				if req.Raw == "" {
					return "", commands.ErrUsage
				}
				_, reply, err := s.Create(ctx, originOf(req), req.Raw)
				return reply, err
			},
		},
		{
			Route:       "reminder list",
			Aliases:     []string{"reminders"},
			Description: "show your soonest reminders",
			Usage:       "reminder list",
			Handle: func(ctx context.Context, req *commands.Request) (string, error) {
				return s.List(ctx, req.Msg.FromID)
			},
		},
		{
			Route:       "reminder delete",
			Description: "delete one of your reminders by id",
			Usage:       "reminder delete <id>",
			Handle: func(ctx context.Context, req *commands.Request) (string, error) {
				if len(req.Args) != 1 {
					return "", commands.ErrUsage
				}
				return s.Delete(ctx, req.Msg.FromID, req.Args[0])
			},
		},
		{
			Route:       "reminder clear",
			Description: "delete all of your reminders",
			Usage:       "reminder clear",
			Handle: func(ctx context.Context, req *commands.Request) (string, error) {
				return s.RequestClear(ctx, req.Msg.FromID)
			},
		},
		{
			Route:       "reminder clear confirm",
			Description: "confirm a pending clear",
			Usage:       "reminder clear confirm",
			Handle: func(ctx context.Context, req *commands.Request) (string, error) {
				return s.ConfirmClear(ctx, req.Msg.FromID)
			},
		},
		{
			Route:       "reminder snooze",
			Aliases:     []string{"snooze"},
			Description: "snooze the reminder that just fired",
			Usage:       "reminder snooze [duration]",
			Handle: func(ctx context.Context, req *commands.Request) (string, error) {
				return s.Snooze(ctx, req.Msg.FromID, req.Raw)
			},
		},
	}
}
