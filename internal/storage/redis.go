package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	logx "unibot/pkg/logx"
)

// Key layout under the configured prefix:
//
//	timers:seq            INCR counter for ids
//	timers:due            ZSET id -> expiry (unix ms)
//	timer:<id>            HASH event, owner, created, expires, payload
//	timers:owner:<owner>  SET of ids
//	timers:event:<event>  SET of ids
//	verify:user:<id>      HASH email, at
//	verify:email:<email>  STRING user id
const redisDefaultPrefix = "unibot:"

// ZREM is the linearization point: whoever removes the id from the due set owns the delete.
const redisDeleteTimerLua = `
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return 0
end
local key = ARGV[2] .. "timer:" .. ARGV[1]
local f = redis.call("HMGET", key, "owner", "event")
redis.call("DEL", key)
if f[1] and f[1] ~= "" then
	redis.call("SREM", ARGV[2] .. "timers:owner:" .. f[1], ARGV[1])
end
if f[2] then
	redis.call("SREM", ARGV[2] .. "timers:event:" .. f[2], ARGV[1])
end
return 1
`

var redisDeleteTimer = redis.NewScript(redisDeleteTimerLua)

type redisStore struct {
	rdb    *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("storage.uri is required for redis")
	}
	opts, err := redis.ParseURL(cfg.URI)
	if err != nil {
		return nil, errors.Wrap(err, "redis url")
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	rdb := redis.NewClient(opts)

	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := rdb.Ping(cctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, unavailable(err, "redis ping")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = redisDefaultPrefix
	}
	return &redisStore{rdb: rdb, prefix: prefix, log: log}, nil
}

func (s *redisStore) k(parts ...string) string { return s.prefix + strings.Join(parts, "") }

func (s *redisStore) dueKey() string            { return s.k("timers:due") }
func (s *redisStore) timerKey(id string) string { return s.k("timer:", id) }

func (s *redisStore) Ping(ctx context.Context) error {
	return unavailable(s.rdb.Ping(ctx).Err(), "redis ping")
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) InsertTimer(ctx context.Context, rec TimerRecord) (int64, error) {
	id, err := s.rdb.Incr(ctx, s.k("timers:seq")).Result()
	if err != nil {
		return 0, unavailable(err, "redis timer id")
	}
	sid := strconv.FormatInt(id, 10)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.timerKey(sid),
			"event", rec.Event,
			"owner", rec.Owner,
			"created", toMillis(rec.CreatedAt),
			"expires", toMillis(rec.ExpiresAt),
			"payload", string(rec.Payload),
		)
		p.ZAdd(ctx, s.dueKey(), redis.Z{Score: float64(toMillis(rec.ExpiresAt)), Member: sid})
		if rec.Owner != "" {
			p.SAdd(ctx, s.k("timers:owner:", rec.Owner), sid)
		}
		p.SAdd(ctx, s.k("timers:event:", rec.Event), sid)
		return nil
	})
	if err != nil {
		return 0, unavailable(err, "redis insert timer")
	}
	return id, nil
}

// load reads one timer hash; a missing hash reports ok=false.
func (s *redisStore) load(ctx context.Context, sid string) (TimerRecord, bool, error) {
	m, err := s.rdb.HGetAll(ctx, s.timerKey(sid)).Result()
	if err != nil {
		return TimerRecord{}, false, err
	}
	if len(m) == 0 {
		return TimerRecord{}, false, nil
	}
	id, _ := strconv.ParseInt(sid, 10, 64)
	created, _ := strconv.ParseInt(m["created"], 10, 64)
	expires, _ := strconv.ParseInt(m["expires"], 10, 64)
	return TimerRecord{
		ID:        id,
		Event:     m["event"],
		Owner:     m["owner"],
		CreatedAt: fromMillis(created),
		ExpiresAt: fromMillis(expires),
		Payload:   []byte(m["payload"]),
	}, true, nil
}

func (s *redisStore) EarliestTimer(ctx context.Context, before time.Time) (TimerRecord, bool, error) {
	// a due entry without its hash is an interrupted delete; drop it and look again
	for range 8 {
		ids, err := s.rdb.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   "(" + strconv.FormatInt(toMillis(before), 10),
			Count: 1,
		}).Result()
		if err != nil {
			return TimerRecord{}, false, unavailable(err, "redis earliest timer")
		}
		if len(ids) == 0 {
			return TimerRecord{}, false, nil
		}
		rec, ok, err := s.load(ctx, ids[0])
		if err != nil {
			return TimerRecord{}, false, unavailable(err, "redis earliest timer")
		}
		if ok {
			return rec, true, nil
		}
		if err := s.rdb.ZRem(ctx, s.dueKey(), ids[0]).Err(); err != nil {
			return TimerRecord{}, false, unavailable(err, "redis earliest timer")
		}
	}
	return TimerRecord{}, false, unavailable(errors.New("too many dangling entries"), "redis earliest timer")
}

func (s *redisStore) DeleteTimer(ctx context.Context, id int64) (bool, error) {
	n, err := redisDeleteTimer.Run(ctx, s.rdb, []string{s.dueKey()}, strconv.FormatInt(id, 10), s.prefix).Int()
	if err != nil {
		return false, unavailable(err, "redis delete timer")
	}
	return n == 1, nil
}

// candidates narrows a filter to the smallest id set available from the indexes.
func (s *redisStore) candidates(ctx context.Context, f TimerFilter) ([]string, error) {
	switch {
	case f.ID != 0:
		return []string{strconv.FormatInt(f.ID, 10)}, nil
	case f.Owner != "":
		return s.rdb.SMembers(ctx, s.k("timers:owner:", f.Owner)).Result()
	case f.Event != "":
		return s.rdb.SMembers(ctx, s.k("timers:event:", f.Event)).Result()
	default:
		return s.rdb.ZRange(ctx, s.dueKey(), 0, -1).Result()
	}
}

func (s *redisStore) matching(ctx context.Context, f TimerFilter) ([]TimerRecord, error) {
	ids, err := s.candidates(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]TimerRecord, 0, len(ids))
	for _, sid := range ids {
		rec, ok, err := s.load(ctx, sid)
		if err != nil {
			return nil, err
		}
		if ok && f.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return earlier(out[i], out[j]) })
	return out, nil
}

func (s *redisStore) DeleteTimers(ctx context.Context, f TimerFilter) (int64, error) {
	if f.IsZero() {
		return 0, ErrEmptyFilter
	}
	recs, err := s.matching(ctx, f)
	if err != nil {
		return 0, unavailable(err, "redis delete timers")
	}
	var n int64
	for _, r := range recs {
		ok, err := s.DeleteTimer(ctx, r.ID)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *redisStore) ListTimers(ctx context.Context, f TimerFilter, limit int) ([]TimerRecord, error) {
	recs, err := s.matching(ctx, f)
	if err != nil {
		return nil, unavailable(err, "redis list timers")
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *redisStore) CountTimers(ctx context.Context, f TimerFilter) (int64, error) {
	if f.IsZero() {
		n, err := s.rdb.ZCard(ctx, s.dueKey()).Result()
		return n, unavailable(err, "redis count timers")
	}
	recs, err := s.matching(ctx, f)
	if err != nil {
		return 0, unavailable(err, "redis count timers")
	}
	return int64(len(recs)), nil
}

func (s *redisStore) GetVerification(ctx context.Context, userID int64) (Verification, bool, error) {
	m, err := s.rdb.HGetAll(ctx, s.k("verify:user:", strconv.FormatInt(userID, 10))).Result()
	if err != nil {
		return Verification{}, false, unavailable(err, "redis get verification")
	}
	if len(m) == 0 {
		return Verification{}, false, nil
	}
	at, _ := strconv.ParseInt(m["at"], 10, 64)
	return Verification{UserID: userID, Email: m["email"], VerifiedAt: fromMillis(at)}, true, nil
}

func (s *redisStore) EmailInUse(ctx context.Context, email string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.k("verify:email:", email)).Result()
	return n > 0, unavailable(err, "redis email in use")
}

func (s *redisStore) PutVerification(ctx context.Context, v Verification) error {
	uid := strconv.FormatInt(v.UserID, 10)
	emailKey := s.k("verify:email:", v.Email)

	claimed, err := s.rdb.SetNX(ctx, emailKey, uid, 0).Result()
	if err != nil {
		return unavailable(err, "redis put verification")
	}
	if !claimed {
		owner, err := s.rdb.Get(ctx, emailKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return unavailable(err, "redis put verification")
		}
		if owner != uid {
			return ErrEmailTaken
		}
	}
	err = s.rdb.HSet(ctx, s.k("verify:user:", uid), "email", v.Email, "at", toMillis(v.VerifiedAt)).Err()
	return unavailable(err, "redis put verification")
}
