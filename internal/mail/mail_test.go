package mail

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"

	logx "unibot/pkg/logx"
)

func newTestMailer(results ...error) (*Mailer, *int) {
	m := New(Config{Username: "bot@example.com", Password: "app-password"}, logx.Nop())
	calls := 0
	m.deliver = func(ctx context.Context, msg *gomail.Msg) error {
		calls++
		if calls <= len(results) {
			return results[calls-1]
		}
		return nil
	}
	return m, &calls
}

func TestSendRetriesOnce(t *testing.T) {
	t.Parallel()
	m, calls := newTestMailer(errors.New("connection reset"))
	require.NoError(t, m.Send(context.Background(), "1234@student.example.edu", "code", "hello"))
	assert.Equal(t, 2, *calls)
}

func TestSendGivesUpAfterRetry(t *testing.T) {
	t.Parallel()
	m, calls := newTestMailer(errors.New("first"), errors.New("second"))
	err := m.Send(context.Background(), "1234@student.example.edu", "code", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second")
	assert.Equal(t, 2, *calls)
}

func TestSendRejectsBadInput(t *testing.T) {
	t.Parallel()
	m, calls := newTestMailer()
	assert.Error(t, m.Send(context.Background(), "not an address", "s", "b"))
	assert.Zero(t, *calls)

	unconfigured := New(Config{}, logx.Nop())
	assert.ErrorIs(t, unconfigured.Send(context.Background(), "a@b.c", "s", "b"), ErrNotConfigured)
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{Username: "bot@example.com"}.withDefaults()
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "bot@example.com", cfg.From)
}
