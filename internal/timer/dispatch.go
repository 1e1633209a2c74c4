package timer

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	logx "unibot/pkg/logx"
)

// CompletionName is the dispatch name for timers of the given event.
func CompletionName(event string) string { return event + "_timer_complete" }

// Sink receives due timers. Dispatch must not block the caller.
type Sink interface {
	Dispatch(name string, t *Timer)
}

// Handler consumes one fired timer.
type Handler func(ctx context.Context, t *Timer) error

// Registry is a Sink that routes completion names to registered handlers.
// Each handler runs on its own goroutine.
type Registry struct {
	log     logx.Logger
	timeout time.Duration

	mu       sync.RWMutex
	handlers map[string][]Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry returns an empty registry. timeout bounds each handler call (0 means none).
func NewRegistry(log logx.Logger, timeout time.Duration) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		log:      log,
		timeout:  timeout,
		handlers: map[string][]Handler{},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// On registers h for timers created with the given event tag.
func (r *Registry) On(event string, h Handler) {
	if h == nil {
		return
	}
	name := CompletionName(event)
	r.mu.Lock()
	r.handlers[name] = append(r.handlers[name], h)
	r.mu.Unlock()
}

func (r *Registry) Dispatch(name string, t *Timer) {
	r.mu.RLock()
	hs := r.handlers[name]
	r.mu.RUnlock()

	if len(hs) == 0 {
		r.log.Warn("no handler for timer", logx.String("name", name), logx.String("timer", t.String()))
		return
	}
	if r.ctx.Err() != nil {
		r.log.Warn("timer dispatched after registry close", logx.String("timer", t.String()))
		return
	}
	for _, h := range hs {
		r.wg.Add(1)
		go r.run(name, h, t)
	}
}

func (r *Registry) run(name string, h Handler, t *Timer) {
	defer r.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("timer handler panicked",
				logx.String("name", name), logx.Any("panic", p), logx.Stack(logx.StackTrace(3, 24)))
		}
	}()

	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := h(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
		r.log.Error("timer handler failed",
			logx.String("name", name), logx.String("timer", t.String()), logx.Err(err))
	}
}

// Close cancels running handlers and waits for them (bounded by ctx).
func (r *Registry) Close(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(name string, t *Timer)

func (f SinkFunc) Dispatch(name string, t *Timer) { f(name, t) }
