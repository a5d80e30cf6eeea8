package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/dreamauth/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newSQLiteDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func forEachDB(t *testing.T, fn func(t *testing.T, db DB)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryDB()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteDB(t)) })
}

func TestDB_Users(t *testing.T) {
	forEachDB(t, func(t *testing.T, db DB) {
		ctx := context.Background()

		u, err := db.CreateUser(ctx, "alice", "hash-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Identifier)
		assert.False(t, u.CreatedAt.IsZero())

		_, err = db.CreateUser(ctx, "alice", "hash-2")
		assert.ErrorIs(t, err, ErrUserExists)

		got, err := db.Lookup(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "hash-1", got.SecretHash)

		missing, err := db.Lookup(ctx, "bob")
		require.NoError(t, err)
		assert.Nil(t, missing)

		assert.NoError(t, db.Ping(ctx))
	})
}

func TestDB_Sessions(t *testing.T) {
	forEachDB(t, func(t *testing.T, db DB) {
		ctx := context.Background()
		issued := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		s := &session.Session{Token: "tok-1", Identifier: "alice", IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}

		require.NoError(t, db.Create(ctx, s))
		assert.ErrorIs(t, db.Create(ctx, &session.Session{Token: "tok-1", Identifier: "bob", IssuedAt: issued, ExpiresAt: issued}), session.ErrTokenExists)

		got, err := db.Get(ctx, "tok-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "alice", got.Identifier)
		assert.True(t, got.IssuedAt.Equal(issued))
		assert.True(t, got.ExpiresAt.Equal(issued.Add(time.Hour)))

		ext := *got
		ext.ExpiresAt = issued.Add(2 * time.Hour)
		require.NoError(t, db.Extend(ctx, &ext))
		got, err = db.Get(ctx, "tok-1")
		require.NoError(t, err)
		assert.True(t, got.ExpiresAt.Equal(issued.Add(2*time.Hour)))

		require.NoError(t, db.Delete(ctx, "tok-1"))
		require.NoError(t, db.Delete(ctx, "tok-1"))
		got, err = db.Get(ctx, "tok-1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestDB_DeleteByIdentifierAndPurge(t *testing.T) {
	forEachDB(t, func(t *testing.T, db DB) {
		ctx := context.Background()
		now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
		add := func(token, ident string, ttl time.Duration) {
			require.NoError(t, db.Create(ctx, &session.Session{Token: token, Identifier: ident, IssuedAt: now, ExpiresAt: now.Add(ttl)}))
		}
		add("a1", "alice", time.Hour)
		add("a2", "alice", time.Hour)
		add("b1", "bob", time.Hour)
		add("b2", "bob", -time.Minute)

		require.NoError(t, db.DeleteByIdentifier(ctx, "alice"))
		for _, tok := range []string{"a1", "a2"} {
			got, err := db.Get(ctx, tok)
			require.NoError(t, err)
			assert.Nil(t, got, tok)
		}

		n, err := db.PurgeExpired(ctx, now)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		got, err := db.Get(ctx, "b1")
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}

func TestSQLiteDB_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.db")
	ctx := context.Background()

	db, err := NewSQLiteDB(path)
	require.NoError(t, err)
	_, err = db.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewSQLiteDB(path)
	require.NoError(t, err)
	defer db.Close()
	u, err := db.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "hash", u.SecretHash)
}

func TestAuthenticator_OverSQLite(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()

	cfg := session.DefaultConfig()
	cfg.HashCost = bcrypt.MinCost
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	auth, err := session.New(db, db, cfg, session.WithClock(clock))
	require.NoError(t, err)

	hash, err := auth.HashSecret("correct-pw")
	require.NoError(t, err)
	_, err = db.CreateUser(ctx, "alice", hash)
	require.NoError(t, err)

	s, err := auth.Authenticate(ctx, "alice", "correct-pw")
	require.NoError(t, err)

	id, err := auth.Validate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	now = now.Add(cfg.TTL)
	_, err = auth.Validate(ctx, s.Token)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	_, err = auth.Validate(ctx, s.Token)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	_, err = auth.Authenticate(ctx, "alice", "wrong-pw")
	assert.ErrorIs(t, err, session.ErrInvalidCredentials)
}
