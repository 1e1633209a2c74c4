// Package presence rotates the bot's rich-presence activity.
package presence

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"

	kit "unibot/internal/transport"
	logx "unibot/pkg/logx"
)

const (
	DefaultInterval = 3 * time.Minute
	DefaultStatus   = "dnd"

	// MembersPlaceholder is replaced with the formatted member count.
	MembersPlaceholder = "{members}"
)

// DefaultActivities is used when none are configured.
var DefaultActivities = []kit.Activity{
	{Kind: "watching", Name: MembersPlaceholder + " Students"},
	{Kind: "watching", Name: "Youtube"},
	{Kind: "listening", Name: "Cyber Security Lectures"},
	{Kind: "watching", Name: "Computer Science Lectures"},
	{Kind: "playing", Name: "Minecraft"},
}

type Config struct {
	Status     string
	Activities []kit.Activity
}

func (c Config) withDefaults() Config {
	if c.Status == "" {
		c.Status = DefaultStatus
	}
	if len(c.Activities) == 0 {
		c.Activities = DefaultActivities
	}
	return c
}

// ErrUnsupported is returned by New for adapters without presence.
var ErrUnsupported = errors.New("presence: adapter cannot set presence")

type Rotator struct {
	setter  kit.PresenceSetter
	counter kit.MemberCounter // nil when the adapter cannot count members
	log     logx.Logger

	mu  sync.Mutex
	cfg Config
	rnd *rand.Rand
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) (*Rotator, error) {
	setter, ok := adapter.(kit.PresenceSetter)
	if !ok {
		return nil, ErrUnsupported
	}
	counter, _ := adapter.(kit.MemberCounter)
	return &Rotator{
		setter:  setter,
		counter: counter,
		log:     log.With(logx.String("comp", "presence")),
		cfg:     cfg.withDefaults(),
		rnd:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}, nil
}

// Apply swaps the activity list and status, e.g. after a config reload.
func (r *Rotator) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.withDefaults()
	r.mu.Unlock()
}

// Rotate picks a random activity and publishes it. It has the task scheduler's job signature.
func (r *Rotator) Rotate(ctx context.Context) error {
	r.mu.Lock()
	status := r.cfg.Status
	acts := r.cfg.Activities
	r.mu.Unlock()

	members := ""
	if r.counter != nil {
		n, err := r.counter.MemberCount(ctx)
		if err != nil {
			r.log.Warn("member count failed", logx.Err(err))
		} else {
			members = humanize.Comma(int64(n))
		}
	}

	candidates := make([]kit.Activity, 0, len(acts))
	for _, a := range acts {
		if strings.Contains(a.Name, MembersPlaceholder) {
			if members == "" {
				continue
			}
			a.Name = strings.ReplaceAll(a.Name, MembersPlaceholder, members)
		}
		a.Kind = NormalizeKind(a.Kind)
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return nil
	}

	r.mu.Lock()
	act := candidates[r.rnd.IntN(len(candidates))]
	r.mu.Unlock()

	if err := r.setter.SetPresence(ctx, status, act); err != nil {
		return errors.Wrap(err, "set presence")
	}
	r.log.Debug("presence rotated", logx.String("kind", act.Kind), logx.String("name", act.Name))
	return nil
}

// NormalizeKind maps short forms ("watch", "play", "listen", "comp") to activity kinds.
// Anything unrecognised becomes "custom".
func NormalizeKind(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "watch", "watching":
		return "watching"
	case "play", "playing":
		return "playing"
	case "listen", "listening":
		return "listening"
	case "comp", "competing":
		return "competing"
	default:
		return "custom"
	}
}
