package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var suiteBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func timerAt(event, owner string, in time.Duration) TimerRecord {
	return TimerRecord{
		Event:     event,
		Owner:     owner,
		CreatedAt: suiteBase,
		ExpiresAt: suiteBase.Add(in),
		Payload:   []byte(`{"author":` + owner + `,"message":"hi"}`),
	}
}

// runStoreSuite exercises the Store contract against a fresh store from open.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("earliest respects window and order", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		late, err := st.InsertTimer(ctx, timerAt("reminder", "1", 3*time.Hour))
		require.NoError(t, err)
		early, err := st.InsertTimer(ctx, timerAt("reminder", "2", time.Hour))
		require.NoError(t, err)
		require.NotEqual(t, late, early)

		rec, ok, err := st.EarliestTimer(ctx, suiteBase.Add(30*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "nothing expires inside the window")

		rec, ok, err = st.EarliestTimer(ctx, suiteBase.Add(40*24*time.Hour))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, early, rec.ID)
		assert.Equal(t, "reminder", rec.Event)
		assert.Equal(t, "2", rec.Owner)
		assert.True(t, rec.ExpiresAt.Equal(suiteBase.Add(time.Hour)))
		assert.True(t, rec.CreatedAt.Equal(suiteBase))
		assert.JSONEq(t, `{"author":2,"message":"hi"}`, string(rec.Payload))
	})

	t.Run("window bound is exclusive", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		_, err := st.InsertTimer(ctx, timerAt("reminder", "1", time.Hour))
		require.NoError(t, err)

		_, ok, err := st.EarliestTimer(ctx, suiteBase.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		id, err := st.InsertTimer(ctx, timerAt("reminder", "1", time.Hour))
		require.NoError(t, err)

		ok, err := st.DeleteTimer(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = st.DeleteTimer(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = st.DeleteTimer(ctx, 987654)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("filters", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		for i, owner := range []string{"7", "7", "8"} {
			_, err := st.InsertTimer(ctx, timerAt("reminder", owner, time.Duration(i+1)*time.Hour))
			require.NoError(t, err)
		}
		_, err := st.InsertTimer(ctx, timerAt("poll", "7", 10*time.Hour))
		require.NoError(t, err)

		n, err := st.CountTimers(ctx, TimerFilter{Event: "reminder", Owner: "7"})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		recs, err := st.ListTimers(ctx, TimerFilter{Owner: "7"}, 2)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.True(t, recs[0].ExpiresAt.Before(recs[1].ExpiresAt))

		all, err := st.ListTimers(ctx, TimerFilter{}, 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		_, err = st.DeleteTimers(ctx, TimerFilter{})
		assert.ErrorIs(t, err, ErrEmptyFilter)

		n, err = st.DeleteTimers(ctx, TimerFilter{Event: "reminder", Owner: "7"})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		n, err = st.CountTimers(ctx, TimerFilter{})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("verifications", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		_, ok, err := st.GetVerification(ctx, 42)
		require.NoError(t, err)
		assert.False(t, ok)

		v := Verification{UserID: 42, Email: "2301234@student.example.ac.uk", VerifiedAt: suiteBase}
		require.NoError(t, st.PutVerification(ctx, v))

		got, ok, err := st.GetVerification(ctx, 42)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, v.Email, got.Email)
		assert.True(t, got.VerifiedAt.Equal(suiteBase))

		used, err := st.EmailInUse(ctx, v.Email)
		require.NoError(t, err)
		assert.True(t, used)

		err = st.PutVerification(ctx, Verification{UserID: 43, Email: v.Email, VerifiedAt: suiteBase})
		assert.ErrorIs(t, err, ErrEmailTaken)

		// re-verifying the same user with the same address is fine
		require.NoError(t, st.PutVerification(ctx, v))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemory() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		st, err := Open(context.Background(), Config{
			Driver: "sqlite",
			Path:   t.TempDir() + "/unibot.db",
		}, nopLog())
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "cassandra"}, nopLog())
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestUnavailableMarksDriverErrors(t *testing.T) {
	err := unavailable(assert.AnError, "ping")
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, assert.AnError)

	err = unavailable(context.Canceled, "ping")
	assert.False(t, IsUnavailable(err))
	assert.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, unavailable(nil, "ping"))
}

func TestFilterWhere(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		f     TimerFilter
		ph    placeholder
		want  string
		nargs int
	}{
		{"empty", TimerFilter{}, questionMark, "", 0},
		{"id", TimerFilter{ID: 3}, questionMark, " WHERE id = ?", 1},
		{"owner event", TimerFilter{Event: "reminder", Owner: "9"}, dollar, " WHERE event = $1 AND owner = $2", 2},
		{"all", TimerFilter{ID: 1, Event: "e", Owner: "o"}, dollar, " WHERE id = $1 AND event = $2 AND owner = $3", 3},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, args := tc.f.where(tc.ph)
			assert.Equal(t, tc.want, got)
			assert.Len(t, args, tc.nargs)
		})
	}
}
