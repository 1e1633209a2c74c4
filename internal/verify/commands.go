package verify

import (
	"context"

	"unibot/internal/commands"
)

// Commands exposes the verification flow as chat commands.
func (s *Service) Commands() []commands.Command {
	return []commands.Command{
		{
			Route:       "verify",
			Description: "verify your account as a genuine student",
			Usage:       "verify",
			Handle: func(ctx context.Context, req *commands.Request) (string, error) {
				return s.Status(ctx, req.Msg.GuildID, req.Msg.FromID, req.Prefix)
			},
		},
		{
			Route:       "verify email",
			Description: "set the university address to verify",
			Usage:       "verify email <address>",
			Handle: func(ctx context.Context, req *commands.Request) (string, error) {
				if len(req.Args) != 1 {
					return "", commands.ErrUsage
				}
				return s.SetEmail(ctx, req.Msg.FromID, req.Args[0])
			},
		},
		{
			Route:       "verify send",
			Description: "mail a one-time code to the address",
			Usage:       "verify send",
			Handle: func(ctx context.Context, req *commands.Request) (string, error) {
				return s.SendCode(ctx, req.Msg.FromID)
			},
		},
		{
			Route:       "verify code",
			Description: "redeem the one-time code",
			Usage:       "verify code <code>",
			Handle: func(ctx context.Context, req *commands.Request) (string, error) {
				if len(req.Args) != 1 {
					return "", commands.ErrUsage
				}
				return s.Redeem(ctx, req.Msg.GuildID, req.Msg.FromID, req.Args[0])
			},
		},
	}
}
