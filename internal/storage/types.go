package storage

import (
	"context"
	"time"
)

// Config configures storage.
//
// Driver values: "memory", "sqlite", "postgres", "mongo", "redis".
type Config struct {
	Driver string

	// sqlite
	Path        string
	BusyTimeout time.Duration

	// postgres, mongo, redis
	URI      string
	Database string // mongo database name
	Prefix   string // redis key prefix
	PoolSize int

	// ConnectTimeout bounds the initial connect + ping.
	ConnectTimeout time.Duration
}

// TimerRecord is the persisted shape of a pending timer.
// Times are UTC with millisecond precision.
type TimerRecord struct {
	ID        int64
	Event     string
	Owner     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Payload   []byte // JSON object
}

// TimerFilter selects timers by every non-zero field.
type TimerFilter struct {
	ID    int64
	Event string
	Owner string
}

func (f TimerFilter) IsZero() bool { return f.ID == 0 && f.Event == "" && f.Owner == "" }

func (f TimerFilter) Matches(r TimerRecord) bool {
	if f.ID != 0 && r.ID != f.ID {
		return false
	}
	if f.Event != "" && r.Event != f.Event {
		return false
	}
	if f.Owner != "" && r.Owner != f.Owner {
		return false
	}
	return true
}

// Verification links a chat user to the university address they proved ownership of.
type Verification struct {
	UserID     int64
	Email      string
	VerifiedAt time.Time
}

type TimerStore interface {
	InsertTimer(ctx context.Context, rec TimerRecord) (int64, error)
	// EarliestTimer returns the pending timer with the smallest expiry strictly before `before`.
	EarliestTimer(ctx context.Context, before time.Time) (TimerRecord, bool, error)
	// DeleteTimer is idempotent: deleting an absent id reports false, nil.
	DeleteTimer(ctx context.Context, id int64) (bool, error)
	DeleteTimers(ctx context.Context, f TimerFilter) (int64, error)
	// ListTimers returns matches ordered by expiry; limit <= 0 means no limit.
	ListTimers(ctx context.Context, f TimerFilter, limit int) ([]TimerRecord, error)
	CountTimers(ctx context.Context, f TimerFilter) (int64, error)
}

type VerificationStore interface {
	GetVerification(ctx context.Context, userID int64) (Verification, bool, error)
	EmailInUse(ctx context.Context, email string) (bool, error)
	// PutVerification fails with ErrEmailTaken when another user already owns the address.
	PutVerification(ctx context.Context, v Verification) error
}

type Store interface {
	TimerStore
	VerificationStore
	Ping(ctx context.Context) error
	Close() error
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
