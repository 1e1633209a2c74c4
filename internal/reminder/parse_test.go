package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func TestParseOffsets(t *testing.T) {
	t.Parallel()
	p := NewParser(time.UTC)
	tests := []struct {
		in   string
		want time.Time
		text string
	}{
		{"10m feed the cat", base.Add(10 * time.Minute), "feed the cat"},
		{"in 2 hours and 30 minutes stretch", base.Add(150 * time.Minute), "stretch"},
		{"2d4h", base.Add(52 * time.Hour), ""},
		{"1mo pay rent", time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC), "pay rent"},
		{"1w, 2 days water plants", base.AddDate(0, 0, 9), "water plants"},
		{"90s 2 apples", base.Add(90 * time.Second), "2 apples"},
	}
	for _, tt := range tests {
		got, err := p.Parse(tt.in, base)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.When, tt.in)
		assert.Equal(t, tt.text, got.Text, tt.in)
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	t.Parallel()
	p := NewParser(time.UTC)

	got, err := p.Parse("call mom tomorrow at 5pm", base)
	require.NoError(t, err)
	assert.Equal(t, "call mom", got.Text)
	assert.Equal(t, 2026, got.When.Year())
	assert.Equal(t, time.January, got.When.Month())
	assert.Equal(t, 11, got.When.Day())
	assert.Equal(t, 17, got.When.Hour())
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	p := NewParser(time.UTC)

	_, err := p.Parse("gibberish words only", base)
	require.EqualError(t, err, msgNoTime)

	_, err = p.Parse("0s right now", base)
	require.EqualError(t, err, msgPast)

	_, err = p.Parse("buy tomorrow milk", base)
	require.EqualError(t, err, msgMisplaced)
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	p := NewParser(nil)

	at, err := p.ParseDuration("10 minutes", base)
	require.NoError(t, err)
	assert.Equal(t, base.Add(10*time.Minute), at)

	for _, bad := range []string{"soon", "5m extra", "0s", ""} {
		_, err := p.ParseDuration(bad, base)
		require.EqualError(t, err, msgBadDuration, bad)
	}
}

func TestShorten(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short text", shorten("short   text", 20))
	assert.Equal(t, "one two…", shorten("one two three four", 12))
}
