package timer

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"

	"unibot/internal/storage"
)

// OwnerKey is the payload field naming the user a timer belongs to.
const OwnerKey = "author"

// Payload is the JSON-compatible argument map handed back to the consumer on fire.
type Payload map[string]any

// String returns p[key] as a string; numbers are formatted.
func (p Payload) String(key string) (string, bool) {
	switch v := p[key].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case nil:
		return "", false
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// Int64 returns p[key] as an integer. 64-bit chat ids survive because payloads are decoded
// with json.Number.
func (p Payload) Int64(key string) (int64, bool) {
	switch v := p[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), v == float64(int64(v))
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func encodePayload(p Payload) ([]byte, error) {
	if p == nil {
		p = Payload{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "encode payload"), ErrMalformedPayload)
	}
	return b, nil
}

func decodePayload(b []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode payload"), ErrMalformedPayload)
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// Timer is one scheduled event occurrence. It is immutable; use Scheduler.Create for a new one.
type Timer struct {
	id        int64 // 0 for timers that were never persisted
	event     string
	createdAt time.Time
	expiresAt time.Time
	raw       []byte
	payload   Payload
}

func newTimer(event string, createdAt, expiresAt time.Time, raw []byte) (*Timer, error) {
	p, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	return &Timer{
		event:     event,
		createdAt: createdAt.UTC().Truncate(time.Millisecond),
		expiresAt: expiresAt.UTC().Truncate(time.Millisecond),
		raw:       raw,
		payload:   p,
	}, nil
}

func fromRecord(rec storage.TimerRecord) (*Timer, error) {
	t, err := newTimer(rec.Event, rec.CreatedAt, rec.ExpiresAt, rec.Payload)
	if err != nil {
		return nil, err
	}
	t.id = rec.ID
	return t, nil
}

func (t *Timer) record() storage.TimerRecord {
	return storage.TimerRecord{
		ID:        t.id,
		Event:     t.event,
		Owner:     t.Owner(),
		CreatedAt: t.createdAt,
		ExpiresAt: t.expiresAt,
		Payload:   t.raw,
	}
}

// ID returns the durable id; ok is false for short timers that were never stored.
func (t *Timer) ID() (int64, bool)      { return t.id, t.id != 0 }
func (t *Timer) Event() string          { return t.event }
func (t *Timer) CreatedAt() time.Time   { return t.createdAt }
func (t *Timer) ExpiresAt() time.Time   { return t.expiresAt }
func (t *Timer) Persisted() bool        { return t.id != 0 }
func (t *Timer) CompletionName() string { return CompletionName(t.event) }

// Payload returns a private copy of the payload.
func (t *Timer) Payload() Payload {
	p, _ := decodePayload(t.raw)
	return p
}

// Owner returns the payload's author field, or "".
func (t *Timer) Owner() string {
	s, _ := t.payload.String(OwnerKey)
	return s
}

// Equal reports whether t and o denote the same timer: both persisted with the same id,
// or the very same in-memory short timer.
func (t *Timer) Equal(o *Timer) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.id == 0 || o.id == 0 {
		return t == o
	}
	return t.id == o.id
}

// HumanDelta describes the span between creation and expiry, e.g. "2 hours".
func (t *Timer) HumanDelta() string {
	return strings.TrimSpace(humanize.RelTime(t.createdAt, t.expiresAt, "", ""))
}

func (t *Timer) String() string {
	if t.id == 0 {
		return t.event + "@" + t.expiresAt.Format(time.RFC3339)
	}
	return t.event + "#" + strconv.FormatInt(t.id, 10) + "@" + t.expiresAt.Format(time.RFC3339)
}
