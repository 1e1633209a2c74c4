// Package otp keeps short-lived one-time codes keyed by user id.
//
// A user holds at most one live code: Generate returns the existing code until it expires.
// Expired entries are dropped lazily on Get and in bulk by Sweep, which the app runs
// every minute from the task scheduler.
package otp

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	logx "unibot/pkg/logx"
)

const (
	DefaultLength = 9
	DefaultTTL    = 5 * time.Minute
	// SweepInterval is how often the app schedules Sweep.
	SweepInterval = 60 * time.Second
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type Code struct {
	Value     string
	ExpiresAt time.Time
}

type Option func(*Cache)

func WithClock(c clockwork.Clock) Option { return func(k *Cache) { k.clock = c } }
func WithTTL(d time.Duration) Option     { return func(k *Cache) { k.ttl = d } }
func WithLength(n int) Option            { return func(k *Cache) { k.length = n } }
func WithLogger(l logx.Logger) Option    { return func(k *Cache) { k.log = l } }

type Cache struct {
	clock  clockwork.Clock
	ttl    time.Duration
	length int
	log    logx.Logger

	mu    sync.Mutex
	codes map[int64]Code
}

func New(opts ...Option) *Cache {
	c := &Cache{
		clock:  clockwork.NewRealClock(),
		ttl:    DefaultTTL,
		length: DefaultLength,
		log:    logx.Nop(),
		codes:  map[int64]Code{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.length <= 0 {
		c.length = DefaultLength
	}
	return c
}

// Generate returns the user's live code, issuing a fresh one when there is none.
// fresh reports whether a new code was issued.
func (c *Cache) Generate(userID int64) (code Code, fresh bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.codes[userID]; ok && now.Before(cur.ExpiresAt) {
		return cur, false
	}
	code = Code{Value: randomString(c.length), ExpiresAt: now.Add(c.ttl)}
	c.codes[userID] = code
	return code, true
}

// Get returns the user's code if it has not expired.
func (c *Cache) Get(userID int64) (Code, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.codes[userID]
	if !ok {
		return Code{}, false
	}
	if !now.Before(cur.ExpiresAt) {
		delete(c.codes, userID)
		return Code{}, false
	}
	return cur, true
}

// Forget drops the user's code, e.g. once it has been redeemed.
func (c *Cache) Forget(userID int64) {
	c.mu.Lock()
	delete(c.codes, userID)
	c.mu.Unlock()
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, code := range c.codes {
		if !now.Before(code.ExpiresAt) {
			delete(c.codes, id)
			n++
		}
	}
	return n
}

// SweepJob adapts Sweep to the task scheduler's job signature.
func (c *Cache) SweepJob(context.Context) error {
	if n := c.Sweep(); n > 0 {
		c.log.Debug("expired codes swept", logx.Int("removed", n))
	}
	return nil
}

// Length is the number of characters in every issued code.
func (c *Cache) Length() int { return c.length }

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.codes)
}

// randomString draws n characters uniformly from alphabet.
func randomString(n int) string {
	const maxByte = 256 - (256 % len(alphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic("otp: crypto/rand unavailable: " + err.Error())
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
