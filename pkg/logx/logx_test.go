package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "unibot/internal/transport"
)

type chatSink struct {
	mu   sync.Mutex
	msgs []string
	to   []kit.ChatTarget
}

func (c *chatSink) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	c.to = append(c.to, to)
	return kit.MessageRef{}, nil
}

func (c *chatSink) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("warning")
	require.True(t, ok)
	assert.Equal(t, LevelWarn, lvl)

	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	assert.False(t, Nop().IsZero())
	assert.False(t, l.With(String("k", "v")).IsZero())
}

func TestFormatChatRecord(t *testing.T) {
	out := formatChatRecord([]byte(`{"level":"warn","message":"store down","time":"x","driver":"sqlite","attempt":3}`))
	assert.Equal(t, "[WARN] store down\n- attempt=3\n- driver=sqlite", out)

	assert.Equal(t, "not json", formatChatRecord([]byte("not json\n")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate(strings.Repeat("abcdefghij", 3), 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))
}

func TestChatSinkForwardsWarnings(t *testing.T) {
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, ChatID: 99, ThreadID: 4, MinLevel: "warn", RatePerSec: 100},
	})
	t.Cleanup(func() { _ = svc.Close() })
	sink := &chatSink{}
	svc.SetSender(sink)

	log = log.With(String("comp", "test"))
	log.Info("quiet")
	log.Warn("loud", Int("n", 1))

	require.Eventually(t, func() bool { return len(sink.texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	msg := sink.texts()[0]
	assert.True(t, strings.HasPrefix(msg, "[WARN] loud"), msg)
	assert.Contains(t, msg, "- comp=test")
	assert.Contains(t, msg, "- n=1")
	assert.Equal(t, kit.ChatTarget{ChatID: 99, ThreadID: 4}, sink.to[0])
}

func TestApplyChangesLevel(t *testing.T) {
	svc, log := New(Config{Level: "info"})
	t.Cleanup(func() { _ = svc.Close() })
	assert.False(t, log.Enabled(LevelDebug))

	svc.Apply(Config{Level: "debug"})
	assert.True(t, log.Enabled(LevelDebug))
}

func TestStackTrace(t *testing.T) {
	st := StackTrace(1, 4)
	assert.Contains(t, st, "TestStackTrace")
}
