package storage

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	logx "unibot/pkg/logx"
)

const (
	mongoDefaultDatabase = "unibot"
	mongoTimers          = "timers"
	mongoCounters        = "counters"
	mongoVerifications   = "verifications"
)

type mongoStore struct {
	client   *mongo.Client
	timers   *mongo.Collection
	counters *mongo.Collection
	users    *mongo.Collection
	log      logx.Logger
}

type mongoTimer struct {
	ID      int64     `bson:"_id"`
	Event   string    `bson:"event"`
	Owner   string    `bson:"owner"`
	Created time.Time `bson:"created"`
	Expires time.Time `bson:"expires"`
	Payload string    `bson:"payload"`
}

type mongoVerification struct {
	UserID     int64     `bson:"_id"`
	Email      string    `bson:"email"`
	VerifiedAt time.Time `bson:"verified_at"`
}

func openMongo(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("storage.uri is required for mongo")
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetReadPreference(readpref.Primary()).
		SetMaxConnIdleTime(30 * time.Second)
	if cfg.PoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.PoolSize))
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(cctx, opts)
	if err != nil {
		return nil, unavailable(err, "mongo connect")
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable(err, "mongo ping")
	}

	dbName := cfg.Database
	if dbName == "" {
		dbName = mongoDefaultDatabase
	}
	db := client.Database(dbName)
	s := &mongoStore{
		client:   client,
		timers:   db.Collection(mongoTimers),
		counters: db.Collection(mongoCounters),
		users:    db.Collection(mongoVerifications),
		log:      log,
	}
	if err := s.ensureIndexes(cctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.timers.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "expires", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "expires", Value: 1}}},
	})
	if err != nil {
		return unavailable(err, "mongo timer indexes")
	}
	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return unavailable(err, "mongo verification indexes")
}

func (s *mongoStore) Ping(ctx context.Context) error {
	return unavailable(s.client.Ping(ctx, readpref.Primary()), "mongo ping")
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// nextID allocates a monotonically increasing timer id from the counters collection.
func (s *mongoStore) nextID(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": mongoTimers},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	return doc.Seq, err
}

func (s *mongoStore) InsertTimer(ctx context.Context, rec TimerRecord) (int64, error) {
	id, err := s.nextID(ctx)
	if err != nil {
		return 0, unavailable(err, "mongo timer id")
	}
	_, err = s.timers.InsertOne(ctx, mongoTimer{
		ID:      id,
		Event:   rec.Event,
		Owner:   rec.Owner,
		Created: rec.CreatedAt.UTC(),
		Expires: rec.ExpiresAt.UTC(),
		Payload: string(rec.Payload),
	})
	if err != nil {
		return 0, unavailable(err, "mongo insert timer")
	}
	return id, nil
}

func (d mongoTimer) record() TimerRecord {
	return TimerRecord{
		ID:        d.ID,
		Event:     d.Event,
		Owner:     d.Owner,
		CreatedAt: d.Created.UTC(),
		ExpiresAt: d.Expires.UTC(),
		Payload:   []byte(d.Payload),
	}
}

func mongoFilter(f TimerFilter) bson.M {
	m := bson.M{}
	if f.ID != 0 {
		m["_id"] = f.ID
	}
	if f.Event != "" {
		m["event"] = f.Event
	}
	if f.Owner != "" {
		m["owner"] = f.Owner
	}
	return m
}

var mongoByExpiry = bson.D{{Key: "expires", Value: 1}, {Key: "_id", Value: 1}}

func (s *mongoStore) EarliestTimer(ctx context.Context, before time.Time) (TimerRecord, bool, error) {
	var doc mongoTimer
	err := s.timers.FindOne(ctx,
		bson.M{"expires": bson.M{"$lt": before.UTC()}},
		options.FindOne().SetSort(mongoByExpiry),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return TimerRecord{}, false, nil
	}
	if err != nil {
		return TimerRecord{}, false, unavailable(err, "mongo earliest timer")
	}
	return doc.record(), true, nil
}

func (s *mongoStore) DeleteTimer(ctx context.Context, id int64) (bool, error) {
	res, err := s.timers.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, unavailable(err, "mongo delete timer")
	}
	return res.DeletedCount > 0, nil
}

func (s *mongoStore) DeleteTimers(ctx context.Context, f TimerFilter) (int64, error) {
	if f.IsZero() {
		return 0, ErrEmptyFilter
	}
	res, err := s.timers.DeleteMany(ctx, mongoFilter(f))
	if err != nil {
		return 0, unavailable(err, "mongo delete timers")
	}
	return res.DeletedCount, nil
}

func (s *mongoStore) ListTimers(ctx context.Context, f TimerFilter, limit int) ([]TimerRecord, error) {
	opts := options.Find().SetSort(mongoByExpiry)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.timers.Find(ctx, mongoFilter(f), opts)
	if err != nil {
		return nil, unavailable(err, "mongo list timers")
	}
	var docs []mongoTimer
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable(err, "mongo list timers")
	}
	out := make([]TimerRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	return out, nil
}

func (s *mongoStore) CountTimers(ctx context.Context, f TimerFilter) (int64, error) {
	n, err := s.timers.CountDocuments(ctx, mongoFilter(f))
	return n, unavailable(err, "mongo count timers")
}

func (s *mongoStore) GetVerification(ctx context.Context, userID int64) (Verification, bool, error) {
	var doc mongoVerification
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Verification{}, false, nil
	}
	if err != nil {
		return Verification{}, false, unavailable(err, "mongo get verification")
	}
	return Verification{UserID: doc.UserID, Email: doc.Email, VerifiedAt: doc.VerifiedAt.UTC()}, true, nil
}

func (s *mongoStore) EmailInUse(ctx context.Context, email string) (bool, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{"email": email}, options.Count().SetLimit(1))
	return n > 0, unavailable(err, "mongo email in use")
}

func (s *mongoStore) PutVerification(ctx context.Context, v Verification) error {
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": v.UserID},
		bson.M{"$set": bson.M{"email": v.Email, "verified_at": v.VerifiedAt.UTC()}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return ErrEmailTaken
	}
	return unavailable(err, "mongo put verification")
}
