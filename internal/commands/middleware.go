package commands

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	logx "unibot/pkg/logx"
)

type Middleware func(next Handler) Handler

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h Handler, m ...Middleware) Handler {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func withTimeout(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (string, error) {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func withRecover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (reply string, err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Log.Error("command panicked", logx.Any("panic", r), logx.Stack(logx.StackTrace(4, 32)))
					reply, err = "", errors.Newf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func withRequestLog() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			fields := []logx.Field{logx.Int("args", len(req.Args)), logx.Duration("dur", time.Since(start))}
			var ue *UserError
			switch {
			case err == nil:
				req.Log.Info("command ok", fields...)
			case errors.As(err, &ue), errors.Is(err, ErrUsage):
				req.Log.Debug("command rejected", append(fields, logx.Err(err))...)
			default:
				req.Log.Warn("command failed", append(fields, logx.Err(err))...)
			}
			return reply, err
		}
	}
}
