package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unibot/internal/storage"
)

func mustTimer(t *testing.T, raw string, in time.Duration) *Timer {
	t.Helper()
	tm, err := newTimer("reminder", testBase, testBase.Add(in), []byte(raw))
	require.NoError(t, err)
	return tm
}

func TestTimerEquality(t *testing.T) {
	t.Parallel()
	a := mustTimer(t, `{}`, time.Hour)
	b := mustTimer(t, `{}`, time.Hour)

	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b), "unpersisted timers compare by identity")

	a.id, b.id = 5, 5
	assert.True(t, a.Equal(b))
	b.id = 6
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(nil))
}

func TestPayloadIsCopied(t *testing.T) {
	t.Parallel()
	tm := mustTimer(t, `{"message":"water the plants"}`, time.Hour)

	p := tm.Payload()
	p["message"] = "changed"
	got, ok := tm.Payload().String("message")
	require.True(t, ok)
	assert.Equal(t, "water the plants", got)
}

func TestPayloadKeepsSnowflakes(t *testing.T) {
	t.Parallel()
	raw, err := encodePayload(Payload{"channel": int64(1093847561234567891), "author": int64(80088516616269824)})
	require.NoError(t, err)
	tm, err := newTimer("reminder", testBase, testBase.Add(time.Hour), raw)
	require.NoError(t, err)

	ch, ok := tm.Payload().Int64("channel")
	require.True(t, ok)
	assert.EqualValues(t, 1093847561234567891, ch)
	assert.Equal(t, "80088516616269824", tm.Owner())
	assert.Equal(t, "80088516616269824", tm.record().Owner)
}

func TestEncodePayloadRejectsUnserializable(t *testing.T) {
	t.Parallel()
	_, err := encodePayload(Payload{"f": func() {}})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = decodePayload([]byte("{"))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestTimerTimesAreUTCMillis(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	when := time.Date(2026, 3, 1, 12, 0, 0, 123456789, loc)
	tm, err := newTimer("reminder", when, when.Add(time.Minute), nil)
	require.Error(t, err, "nil payload bytes are not valid JSON")

	tm, err = newTimer("reminder", when, when.Add(time.Minute), []byte(`null`))
	require.NoError(t, err)
	assert.Equal(t, time.UTC, tm.ExpiresAt().Location())
	assert.Equal(t, 123000000, tm.CreatedAt().Nanosecond())
	assert.NotNil(t, tm.Payload())
}

func TestHumanDelta(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "2 hours", mustTimer(t, `{}`, 2*time.Hour).HumanDelta())
	assert.Equal(t, "3 days", mustTimer(t, `{}`, 3*24*time.Hour).HumanDelta())
}

func TestCompletionName(t *testing.T) {
	t.Parallel()
	tm := mustTimer(t, `{}`, time.Hour)
	assert.Equal(t, "reminder_timer_complete", tm.CompletionName())
	assert.False(t, tm.Persisted())

	rec := storage.TimerRecord{ID: 9, Event: "poll", CreatedAt: testBase, ExpiresAt: testBase.Add(time.Hour), Payload: []byte(`{}`)}
	tm, err := fromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, "poll_timer_complete", tm.CompletionName())
	assert.Equal(t, "poll#9@2026-01-10T10:00:00Z", tm.String())
}
