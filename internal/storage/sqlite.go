package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	logx "unibot/pkg/logx"
)

//go:embed migrations_sqlite.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(cctx, pragma); err != nil {
			_ = db.Close()
			return nil, unavailable(err, "sqlite pragma")
		}
	}
	if _, err := db.ExecContext(cctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite migrate")
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return unavailable(s.db.PingContext(ctx), "sqlite ping")
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) InsertTimer(ctx context.Context, rec TimerRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO timers(event, owner, created_at, expires_at, payload) VALUES(?,?,?,?,?)`,
		rec.Event, rec.Owner, toMillis(rec.CreatedAt), toMillis(rec.ExpiresAt), string(rec.Payload),
	)
	if err != nil {
		return 0, unavailable(err, "sqlite insert timer")
	}
	id, err := res.LastInsertId()
	return id, unavailable(err, "sqlite insert timer")
}

const sqliteTimerCols = `SELECT id, event, owner, created_at, expires_at, payload FROM timers`

func scanSQLiteTimer(sc interface{ Scan(...any) error }) (TimerRecord, error) {
	var (
		r                TimerRecord
		created, expires int64
		payload          string
	)
	if err := sc.Scan(&r.ID, &r.Event, &r.Owner, &created, &expires, &payload); err != nil {
		return TimerRecord{}, err
	}
	r.CreatedAt = fromMillis(created)
	r.ExpiresAt = fromMillis(expires)
	r.Payload = []byte(payload)
	return r, nil
}

func (s *sqliteStore) EarliestTimer(ctx context.Context, before time.Time) (TimerRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		sqliteTimerCols+` WHERE expires_at < ? ORDER BY expires_at, id LIMIT 1`, toMillis(before))
	r, err := scanSQLiteTimer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TimerRecord{}, false, nil
	}
	if err != nil {
		return TimerRecord{}, false, unavailable(err, "sqlite earliest timer")
	}
	return r, true, nil
}

func (s *sqliteStore) DeleteTimer(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = ?`, id)
	if err != nil {
		return false, unavailable(err, "sqlite delete timer")
	}
	n, err := res.RowsAffected()
	return n > 0, unavailable(err, "sqlite delete timer")
}

func (s *sqliteStore) DeleteTimers(ctx context.Context, f TimerFilter) (int64, error) {
	if f.IsZero() {
		return 0, ErrEmptyFilter
	}
	where, args := f.where(questionMark)
	res, err := s.db.ExecContext(ctx, `DELETE FROM timers`+where, args...)
	if err != nil {
		return 0, unavailable(err, "sqlite delete timers")
	}
	n, err := res.RowsAffected()
	return n, unavailable(err, "sqlite delete timers")
}

func (s *sqliteStore) ListTimers(ctx context.Context, f TimerFilter, limit int) ([]TimerRecord, error) {
	where, args := f.where(questionMark)
	q := sqliteTimerCols + where + ` ORDER BY expires_at, id`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(err, "sqlite list timers")
	}
	defer rows.Close()

	var out []TimerRecord
	for rows.Next() {
		r, err := scanSQLiteTimer(rows)
		if err != nil {
			return nil, unavailable(err, "sqlite list timers")
		}
		out = append(out, r)
	}
	return out, unavailable(rows.Err(), "sqlite list timers")
}

func (s *sqliteStore) CountTimers(ctx context.Context, f TimerFilter) (int64, error) {
	where, args := f.where(questionMark)
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM timers`+where, args...).Scan(&n)
	return n, unavailable(err, "sqlite count timers")
}

func (s *sqliteStore) GetVerification(ctx context.Context, userID int64) (Verification, bool, error) {
	var (
		v  = Verification{UserID: userID}
		at int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT email, verified_at FROM verifications WHERE user_id = ?`, userID).Scan(&v.Email, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Verification{}, false, nil
	}
	if err != nil {
		return Verification{}, false, unavailable(err, "sqlite get verification")
	}
	v.VerifiedAt = fromMillis(at)
	return v, true, nil
}

func (s *sqliteStore) EmailInUse(ctx context.Context, email string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM verifications WHERE email = ?`, email).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, unavailable(err, "sqlite email in use")
}

func (s *sqliteStore) PutVerification(ctx context.Context, v Verification) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verifications(user_id, email, verified_at) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET email = excluded.email, verified_at = excluded.verified_at`,
		v.UserID, v.Email, toMillis(v.VerifiedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrEmailTaken
	}
	return unavailable(err, "sqlite put verification")
}
