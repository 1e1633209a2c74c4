package commands

import (
	"context"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"unibot/internal/eventbus"
	kit "unibot/internal/transport"
	logx "unibot/pkg/logx"
)

const (
	EventHandled = "command.handled"
	EventFailed  = "command.failed"
)

// ErrUsage makes the router answer with the command's usage line.
var ErrUsage = errors.New("invalid usage")

// UserError carries a message meant for the invoking user.
type UserError struct{ Msg string }

func (e *UserError) Error() string { return e.Msg }

// Fail returns an error whose text is shown to the user as-is.
func Fail(msg string) error { return &UserError{Msg: msg} }

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Handler func(ctx context.Context, req *Request) (string, error)

type Command struct {
	// Route is a space separated command path, e.g. "reminder delete".
	Route       string
	Aliases     []string // root level shortcuts
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      Handler
}

// Request is one command invocation.
type Request struct {
	ID     string
	Msg    *kit.Message
	Prefix string
	Route  string
	Args   []string // tokens after the route
	Raw    string   // text after the route, spacing and quotes preserved
	Now    time.Time
	Log    logx.Logger
}

func (r *Request) Target() kit.ChatTarget {
	return kit.ChatTarget{ChatID: r.Msg.ChatID, ThreadID: r.Msg.ThreadID}
}

// Author is the invoking user id in the form stored in timer payloads.
func (r *Request) Author() string { return strconv.FormatInt(r.Msg.FromID, 10) }

type Options struct {
	Prefix    string
	Owners    []int64
	Workers   int
	QueueSize int
	Timeout   time.Duration // default per-command timeout
}

type Router struct {
	mu     sync.RWMutex
	prefix string
	owners []int64
	root   *node
	alias  map[string]*node

	adapter kit.Adapter
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
	opts    Options

	jobs chan func()
}

func NewRouter(opts Options, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Router {
	if opts.Prefix == "" {
		opts.Prefix = "/"
	}
	if opts.Workers <= 0 {
		opts.Workers = max(2, runtime.NumCPU())
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	r := &Router{
		prefix:  opts.Prefix,
		owners:  slices.Clone(opts.Owners),
		root:    newNode(""),
		alias:   map[string]*node{},
		adapter: adapter,
		log:     log.With(logx.String("comp", "commands")),
		bus:     bus,
		now:     time.Now,
		opts:    opts,
		jobs:    make(chan func(), opts.QueueSize),
	}
	r.Register(Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show help",
		Usage:       "help [command] [subcommand...]",
		Handle: func(_ context.Context, req *Request) (string, error) {
			return r.helpText(req.Args), nil
		},
	})
	return r
}

// SetOwners replaces the owner list used for owner-only commands.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

// SetPrefix changes the command prefix, e.g. after a config reload.
func (r *Router) SetPrefix(p string) {
	if p == "" {
		return
	}
	r.mu.Lock()
	r.prefix = p
	r.mu.Unlock()
}

func (r *Router) Prefix() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prefix
}

// Register adds commands, replacing any earlier command on the same route.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		c.Route = strings.Join(route, " ")
		leaf := r.root.add(route, c)
		if len(route) > 1 {
			auto := strings.Join(route, "_")
			if _, exists := r.alias[auto]; !exists {
				r.alias[auto] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			r.alias[a] = leaf
		}
	}
}

// SyncMenu publishes the top level commands to adapters with a command menu.
func (r *Router) SyncMenu(ctx context.Context) error {
	mu, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	r.mu.RLock()
	var cmds []kit.BotCommand
	for _, name := range r.root.childNames() {
		n, _ := r.root.child(name)
		desc := name
		if n.cmd != nil && n.cmd.Description != "" {
			desc = n.cmd.Description
		}
		cmds = append(cmds, kit.BotCommand{Command: name, Description: desc})
	}
	r.mu.RUnlock()
	return mu.UpdateMenuCommands(ctx, cmds)
}

// Run dispatches message updates to a bounded worker pool until ctx is done or updates
// is closed. In-flight commands are drained before it returns.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	var wg sync.WaitGroup
	wg.Add(r.opts.Workers)
	for i := 0; i < r.opts.Workers; i++ {
		go func() {
			defer wg.Done()
			for job := range r.jobs {
				job()
			}
		}()
	}
	r.log.Info("command router started", logx.Int("workers", r.opts.Workers), logx.String("prefix", r.Prefix()))
	defer func() {
		close(r.jobs)
		wg.Wait()
		r.log.Info("command router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			job, ok := r.prepare(ctx, up.Message)
			if !ok {
				continue
			}
			select {
			case r.jobs <- job:
			default:
				r.reply(ctx, up.Message, "busy, try again")
			}
		}
	}
}

// Handle routes a single message synchronously and reports whether it was a command.
func (r *Router) Handle(ctx context.Context, msg *kit.Message) bool {
	job, ok := r.prepare(ctx, msg)
	if ok {
		job()
	}
	return ok
}

func (r *Router) prepare(ctx context.Context, msg *kit.Message) (func(), bool) {
	r.mu.RLock()
	prefix := r.prefix
	owners := r.owners
	root := r.root
	alias := r.alias
	r.mu.RUnlock()

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, prefix) || len(text) == len(prefix) {
		return nil, false
	}
	body := text[len(prefix):]
	parts := tokenize(body)
	if len(parts) == 0 {
		return nil, false
	}
	word := strings.ToLower(parts[0])
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	var (
		cur      *node
		path     []string
		consumed = 1
	)
	if leaf, ok := alias[word]; ok && leaf.cmd != nil {
		cur = leaf
		path = splitRoute(leaf.cmd.Route)
	} else if n, ok := root.child(word); ok {
		sub, subPath := n.walk(args)
		cur = sub
		path = append([]string{word}, subPath...)
		args = args[len(subPath):]
		consumed += len(subPath)
	} else {
		return nil, false
	}

	if cur.cmd == nil {
		help := r.helpText(path)
		return func() { r.reply(ctx, msg, help) }, true
	}
	cmd := *cur.cmd
	if cmd.Access == AccessOwnerOnly && !slices.Contains(owners, msg.FromID) {
		return func() { r.reply(ctx, msg, "This command is restricted to the bot owners.") }, true
	}

	rid := uuid.NewString()
	reqLog := r.log.With(
		logx.String("rid", rid),
		logx.String("cmd", cmd.Route),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
	)
	req := &Request{
		ID:     rid,
		Msg:    msg,
		Prefix: prefix,
		Route:  cmd.Route,
		Args:   args,
		Raw:    skipFields(body, consumed),
		Now:    r.now(),
		Log:    reqLog,
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.opts.Timeout
	}
	h := Chain(cmd.Handle, withRecover(), withRequestLog(), withTimeout(timeout))
	return func() { r.finish(ctx, req, cmd, h) }, true
}

func (r *Router) finish(ctx context.Context, req *Request, cmd Command, h Handler) {
	reply, err := h(ctx, req)
	var ue *UserError
	switch {
	case err == nil:
		eventbus.Emit(r.bus, EventHandled, map[string]any{"cmd": cmd.Route, "rid": req.ID})
	case errors.Is(err, ErrUsage):
		reply = "Usage: " + r.Prefix() + cmd.Usage
	case errors.As(err, &ue):
		reply = ue.Msg
	default:
		eventbus.Emit(r.bus, EventFailed, map[string]any{"cmd": cmd.Route, "rid": req.ID, "err": err.Error()})
		reply = "Something went wrong (ref " + req.ID[:8] + ")."
	}
	if reply != "" {
		r.reply(ctx, req.Msg, reply)
	}
}

func (r *Router) reply(ctx context.Context, msg *kit.Message, text string) {
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if _, err := r.adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true, ReplyTo: msg.ID}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}
