package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory keeps everything in process memory. It satisfies Store for tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	seq    int64
	timers map[int64]TimerRecord
	users  map[int64]Verification
}

func NewMemory() *Memory {
	return &Memory{
		timers: map[int64]TimerRecord{},
		users:  map[int64]Verification{},
	}
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }
func (m *Memory) Close() error                   { return nil }

func (m *Memory) InsertTimer(ctx context.Context, rec TimerRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	rec.ID = m.seq
	rec.Payload = append([]byte(nil), rec.Payload...)
	m.timers[rec.ID] = rec
	return rec.ID, nil
}

func (m *Memory) EarliestTimer(ctx context.Context, before time.Time) (TimerRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return TimerRecord{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  TimerRecord
		found bool
	)
	for _, r := range m.timers {
		if !r.ExpiresAt.Before(before) {
			continue
		}
		if !found || earlier(r, best) {
			best, found = r, true
		}
	}
	return best, found, nil
}

func (m *Memory) DeleteTimer(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timers[id]; !ok {
		return false, nil
	}
	delete(m.timers, id)
	return true, nil
}

func (m *Memory) DeleteTimers(ctx context.Context, f TimerFilter) (int64, error) {
	if f.IsZero() {
		return 0, ErrEmptyFilter
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.timers {
		if f.Matches(r) {
			delete(m.timers, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListTimers(ctx context.Context, f TimerFilter, limit int) ([]TimerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	out := make([]TimerRecord, 0, len(m.timers))
	for _, r := range m.timers {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return earlier(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountTimers(ctx context.Context, f TimerFilter) (int64, error) {
	recs, err := m.ListTimers(ctx, f, 0)
	return int64(len(recs)), err
}

func (m *Memory) GetVerification(ctx context.Context, userID int64) (Verification, bool, error) {
	if err := ctx.Err(); err != nil {
		return Verification{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.users[userID]
	return v, ok, nil
}

func (m *Memory) EmailInUse(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.users {
		if strings.EqualFold(v.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) PutVerification(ctx context.Context, v Verification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, other := range m.users {
		if id != v.UserID && strings.EqualFold(other.Email, v.Email) {
			return ErrEmailTaken
		}
	}
	m.users[v.UserID] = v
	return nil
}

// earlier orders by expiry, then id.
func earlier(a, b TimerRecord) bool {
	if !a.ExpiresAt.Equal(b.ExpiresAt) {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
	return a.ID < b.ID
}
