package otp

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache() (*Cache, clockwork.FakeClock) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	return New(WithClock(clk)), clk
}

func TestGenerateIsIdempotentWhileLive(t *testing.T) {
	t.Parallel()
	c, clk := newCache()

	first, fresh := c.Generate(42)
	require.True(t, fresh)
	assert.Len(t, first.Value, DefaultLength)
	assert.Regexp(t, `^[A-Za-z0-9]{9}$`, first.Value)

	clk.Advance(4 * time.Minute)
	again, fresh := c.Generate(42)
	assert.False(t, fresh)
	assert.Equal(t, first, again)

	clk.Advance(time.Minute)
	renewed, fresh := c.Generate(42)
	assert.True(t, fresh)
	assert.Equal(t, clk.Now().Add(DefaultTTL), renewed.ExpiresAt)
}

func TestGetEvictsExpired(t *testing.T) {
	t.Parallel()
	c, clk := newCache()

	_, ok := c.Get(1)
	assert.False(t, ok)

	code, _ := c.Generate(1)
	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, code, got)

	clk.Advance(DefaultTTL)
	_, ok = c.Get(1)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	t.Parallel()
	c, clk := newCache()

	c.Generate(1)
	clk.Advance(3 * time.Minute)
	c.Generate(2)
	clk.Advance(2 * time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(2)
	assert.True(t, ok)

	clk.Advance(3 * time.Minute)
	require.NoError(t, c.SweepJob(context.Background()))
	assert.Zero(t, c.Len())
}

func TestForget(t *testing.T) {
	t.Parallel()
	c, _ := newCache()
	c.Generate(7)
	c.Forget(7)
	_, ok := c.Get(7)
	assert.False(t, ok)
}

func TestRandomStringUsesWholeAlphabet(t *testing.T) {
	t.Parallel()
	seen := map[rune]bool{}
	for i := 0; i < 200; i++ {
		for _, r := range randomString(DefaultLength) {
			seen[r] = true
		}
	}
	assert.Greater(t, len(seen), 50)
	for r := range seen {
		assert.Contains(t, alphabet, string(r))
	}
}
