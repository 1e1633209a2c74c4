package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "unibot/internal/transport"
	"unibot/internal/transport/transporttest"
	logx "unibot/pkg/logx"
)

type plainAdapter struct{ kit.Adapter }

func TestNewRequiresPresenceSupport(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, plainAdapter{}, logx.Nop())
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestRotateFillsMemberCount(t *testing.T) {
	t.Parallel()
	ad := &transporttest.Adapter{Members: 12345}
	r, err := New(Config{Activities: []kit.Activity{{Kind: "watch", Name: "{members} Students"}}}, ad, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, r.Rotate(context.Background()))
	status, acts := ad.Presence()
	assert.Equal(t, "dnd", status)
	assert.Equal(t, []kit.Activity{{Kind: "watching", Name: "12,345 Students"}}, acts)
}

func TestRotatePicksFromConfiguredList(t *testing.T) {
	t.Parallel()
	ad := &transporttest.Adapter{Members: 3}
	r, err := New(Config{}, ad, logx.Nop())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, r.Rotate(context.Background()))
	}
	_, acts := ad.Presence()
	require.Len(t, acts, 50)
	allowed := map[string]bool{
		"3 Students": true, "Youtube": true, "Cyber Security Lectures": true,
		"Computer Science Lectures": true, "Minecraft": true,
	}
	for _, a := range acts {
		assert.True(t, allowed[a.Name], a.Name)
	}

	r.Apply(Config{Status: "idle", Activities: []kit.Activity{{Kind: "whatever", Name: "Chess"}}})
	require.NoError(t, r.Rotate(context.Background()))
	status, acts := ad.Presence()
	assert.Equal(t, "idle", status)
	assert.Equal(t, kit.Activity{Kind: "custom", Name: "Chess"}, acts[len(acts)-1])
}

func TestNormalizeKind(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"watch": "watching", "PLAY": "playing", "listening": "listening", "comp": "competing", "": "custom",
	} {
		assert.Equal(t, want, NormalizeKind(in), in)
	}
}
