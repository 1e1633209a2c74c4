package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "unibot/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresSchema string

const pgUniqueViolation = "23505"

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("storage.uri is required for postgres")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, errors.Wrap(err, "postgres config")
	}
	if cfg.PoolSize > 0 {
		pcfg.MaxConns = int32(cfg.PoolSize)
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(cctx, pcfg)
	if err != nil {
		return nil, unavailable(err, "postgres connect")
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, unavailable(err, "postgres ping")
	}
	if _, err := pool.Exec(cctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres migrate")
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return unavailable(s.pool.Ping(ctx), "postgres ping")
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) InsertTimer(ctx context.Context, rec TimerRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO timers(event, owner, created_at, expires_at, payload) VALUES($1,$2,$3,$4,$5) RETURNING id`,
		rec.Event, rec.Owner, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC(), string(rec.Payload),
	).Scan(&id)
	return id, unavailable(err, "postgres insert timer")
}

const pgTimerCols = `SELECT id, event, owner, created_at, expires_at, payload::text FROM timers`

func scanPGTimer(row pgx.Row) (TimerRecord, error) {
	var (
		r       TimerRecord
		payload string
	)
	if err := row.Scan(&r.ID, &r.Event, &r.Owner, &r.CreatedAt, &r.ExpiresAt, &payload); err != nil {
		return TimerRecord{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	r.Payload = []byte(payload)
	return r, nil
}

func (s *postgresStore) EarliestTimer(ctx context.Context, before time.Time) (TimerRecord, bool, error) {
	r, err := scanPGTimer(s.pool.QueryRow(ctx,
		pgTimerCols+` WHERE expires_at < $1 ORDER BY expires_at, id LIMIT 1`, before.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return TimerRecord{}, false, nil
	}
	if err != nil {
		return TimerRecord{}, false, unavailable(err, "postgres earliest timer")
	}
	return r, true, nil
}

func (s *postgresStore) DeleteTimer(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM timers WHERE id = $1`, id)
	if err != nil {
		return false, unavailable(err, "postgres delete timer")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) DeleteTimers(ctx context.Context, f TimerFilter) (int64, error) {
	if f.IsZero() {
		return 0, ErrEmptyFilter
	}
	where, args := f.where(dollar)
	tag, err := s.pool.Exec(ctx, `DELETE FROM timers`+where, args...)
	if err != nil {
		return 0, unavailable(err, "postgres delete timers")
	}
	return tag.RowsAffected(), nil
}

func (s *postgresStore) ListTimers(ctx context.Context, f TimerFilter, limit int) ([]TimerRecord, error) {
	where, args := f.where(dollar)
	q := pgTimerCols + where + ` ORDER BY expires_at, id`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable(err, "postgres list timers")
	}
	defer rows.Close()

	var out []TimerRecord
	for rows.Next() {
		r, err := scanPGTimer(rows)
		if err != nil {
			return nil, unavailable(err, "postgres list timers")
		}
		out = append(out, r)
	}
	return out, unavailable(rows.Err(), "postgres list timers")
}

func (s *postgresStore) CountTimers(ctx context.Context, f TimerFilter) (int64, error) {
	where, args := f.where(dollar)
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM timers`+where, args...).Scan(&n)
	return n, unavailable(err, "postgres count timers")
}

func (s *postgresStore) GetVerification(ctx context.Context, userID int64) (Verification, bool, error) {
	v := Verification{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT email, verified_at FROM verifications WHERE user_id = $1`, userID).Scan(&v.Email, &v.VerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Verification{}, false, nil
	}
	if err != nil {
		return Verification{}, false, unavailable(err, "postgres get verification")
	}
	v.VerifiedAt = v.VerifiedAt.UTC()
	return v, true, nil
}

func (s *postgresStore) EmailInUse(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM verifications WHERE email = $1)`, email).Scan(&exists)
	return exists, unavailable(err, "postgres email in use")
}

func (s *postgresStore) PutVerification(ctx context.Context, v Verification) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO verifications(user_id, email, verified_at) VALUES($1,$2,$3)
		 ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email, verified_at = EXCLUDED.verified_at`,
		v.UserID, v.Email, v.VerifiedAt.UTC(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrEmailTaken
	}
	return unavailable(err, "postgres put verification")
}
