package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type userMap map[string]*UserRecord

func (m userMap) Lookup(_ context.Context, identifier string) (*UserRecord, error) {
	return m[identifier], nil
}

type failingUsers struct{}

func (failingUsers) Lookup(context.Context, string) (*UserRecord, error) {
	return nil, errors.New("connection refused")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HashCost = bcrypt.MinCost
	return cfg
}

func newTestAuth(t *testing.T, cfg Config) (*Authenticator, *MemoryStore, *fakeClock) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-pw"), bcrypt.MinCost)
	require.NoError(t, err)
	users := userMap{"alice": {Identifier: "alice", SecretHash: string(hash), CreatedAt: time.Now()}}
	store := NewMemoryStore()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	a, err := New(users, store, cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return a, store, clock
}

func TestAuthenticate_ValidCredentials(t *testing.T) {
	a, _, clock := newTestAuth(t, testConfig())
	ctx := context.Background()

	s, err := a.Authenticate(ctx, "alice", "correct-pw")
	require.NoError(t, err)
	assert.Len(t, s.Token, 64)
	assert.Equal(t, "alice", s.Identifier)
	assert.Equal(t, clock.Now(), s.IssuedAt)
	assert.Equal(t, clock.Now().Add(24*time.Hour), s.ExpiresAt)

	id, err := a.Validate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	a, store, _ := newTestAuth(t, testConfig())
	ctx := context.Background()

	cases := []struct {
		name, identifier, secret string
	}{
		{"wrong secret", "alice", "wrong-pw"},
		{"unknown identifier", "bob", "correct-pw"},
		{"empty identifier", "", "correct-pw"},
		{"empty secret", "alice", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := store.Len()
			s, err := a.Authenticate(ctx, tc.identifier, tc.secret)
			require.ErrorIs(t, err, ErrInvalidCredentials)
			assert.Nil(t, s)
			assert.Equal(t, before, store.Len())
		})
	}
}

func TestAuthenticate_UserStoreDown(t *testing.T) {
	a, err := New(failingUsers{}, NewMemoryStore(), testConfig())
	require.NoError(t, err)

	_, err = a.Authenticate(context.Background(), "alice", "correct-pw")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, "StoreUnavailable", Kind(err))
}

func TestValidate_Expiry(t *testing.T) {
	a, store, clock := newTestAuth(t, testConfig())
	ctx := context.Background()

	s, err := a.Authenticate(ctx, "alice", "correct-pw")
	require.NoError(t, err)

	clock.Advance(24*time.Hour - time.Second)
	_, err = a.Validate(ctx, s.Token)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = a.Validate(ctx, s.Token)
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, store.Len())
}

func TestValidate_UnknownToken(t *testing.T) {
	a, _, _ := newTestAuth(t, testConfig())

	_, err := a.Validate(context.Background(), "deadbeef")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = a.Validate(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestValidate_DoesNotSlideByDefault(t *testing.T) {
	a, _, clock := newTestAuth(t, testConfig())
	ctx := context.Background()

	s, err := a.Authenticate(ctx, "alice", "correct-pw")
	require.NoError(t, err)

	clock.Advance(23 * time.Hour)
	_, err = a.Validate(ctx, s.Token)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = a.Validate(ctx, s.Token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestValidate_Sliding(t *testing.T) {
	cfg := testConfig()
	cfg.Sliding = true
	a, store, clock := newTestAuth(t, cfg)
	ctx := context.Background()

	s, err := a.Authenticate(ctx, "alice", "correct-pw")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clock.Advance(23 * time.Hour)
		_, err = a.Validate(ctx, s.Token)
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(24*time.Hour), got.ExpiresAt)

	clock.Advance(24 * time.Hour)
	_, err = a.Validate(ctx, s.Token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestRevoke(t *testing.T) {
	a, _, _ := newTestAuth(t, testConfig())
	ctx := context.Background()

	s, err := a.Authenticate(ctx, "alice", "correct-pw")
	require.NoError(t, err)

	require.NoError(t, a.Revoke(ctx, s.Token))
	_, err = a.Validate(ctx, s.Token)
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, a.Revoke(ctx, s.Token))
	require.NoError(t, a.Revoke(ctx, "never-issued"))
	require.NoError(t, a.Revoke(ctx, ""))
}

func TestRevokeAll(t *testing.T) {
	a, store, _ := newTestAuth(t, testConfig())
	ctx := context.Background()

	s1, err := a.Authenticate(ctx, "alice", "correct-pw")
	require.NoError(t, err)
	s2, err := a.Authenticate(ctx, "alice", "correct-pw")
	require.NoError(t, err)

	require.NoError(t, a.RevokeAll(ctx, "alice"))
	for _, tok := range []string{s1.Token, s2.Token} {
		_, err := a.Validate(ctx, tok)
		require.ErrorIs(t, err, ErrSessionNotFound)
	}
	assert.Equal(t, 0, store.Len())
}

func TestAuthenticate_SingleSession(t *testing.T) {
	cfg := testConfig()
	cfg.SingleSession = true
	a, store, _ := newTestAuth(t, cfg)
	ctx := context.Background()

	first, err := a.Authenticate(ctx, "alice", "correct-pw")
	require.NoError(t, err)
	second, err := a.Authenticate(ctx, "alice", "correct-pw")
	require.NoError(t, err)

	_, err = a.Validate(ctx, first.Token)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = a.Validate(ctx, second.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

// slowStore widens the gap between revoking old sessions and storing the new one.
type slowStore struct{ *MemoryStore }

func (s slowStore) Create(ctx context.Context, sess *Session) error {
	time.Sleep(5 * time.Millisecond)
	return s.MemoryStore.Create(ctx, sess)
}

func TestAuthenticate_SingleSessionConcurrentLogins(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-pw"), bcrypt.MinCost)
	require.NoError(t, err)
	users := userMap{"alice": {Identifier: "alice", SecretHash: string(hash)}}
	store := slowStore{NewMemoryStore()}
	cfg := testConfig()
	cfg.SingleSession = true
	a, err := New(users, store, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Authenticate(ctx, "alice", "correct-pw")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 0, a.logins.len())
}

func TestKeyLock_SerialisesPerKey(t *testing.T) {
	var k keyLock
	var mu sync.Mutex
	active, peak := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("alice")
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak)
	assert.Equal(t, 0, k.len())

	// other keys are independent
	unlockA := k.Lock("alice")
	unlockB := k.Lock("bob")
	assert.Equal(t, 2, k.len())
	unlockB()
	unlockA()
}

func TestAuthenticate_ConcurrentLoginsGetDistinctTokens(t *testing.T) {
	a, _, _ := newTestAuth(t, testConfig())
	ctx := context.Background()

	const n = 64
	tokens := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := a.Authenticate(ctx, "alice", "correct-pw")
			if err == nil {
				tokens[i] = s.Token
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, tok := range tokens {
		require.NotEmpty(t, tok)
		_, dup := seen[tok]
		require.False(t, dup, "duplicate token %s", tok)
		seen[tok] = struct{}{}

		id, err := a.Validate(ctx, tok)
		require.NoError(t, err)
		assert.Equal(t, "alice", id)
	}
}

func TestGenToken_NoCollisions(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		tok, err := genToken(MinTokenBytes)
		require.NoError(t, err)
		_, dup := seen[tok]
		require.False(t, dup)
		seen[tok] = struct{}{}
	}
}

// collidingStore rejects the first n creates as duplicates.
type collidingStore struct {
	*MemoryStore
	n int
}

func (c *collidingStore) Create(ctx context.Context, s *Session) error {
	if c.n > 0 {
		c.n--
		return ErrTokenExists
	}
	return c.MemoryStore.Create(ctx, s)
}

func TestAuthenticate_RetriesOnTokenCollision(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	users := userMap{"alice": {Identifier: "alice", SecretHash: string(hash)}}

	store := &collidingStore{MemoryStore: NewMemoryStore(), n: 2}
	a, err := New(users, store, testConfig())
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background(), "alice", "pw")
	require.NoError(t, err)

	store = &collidingStore{MemoryStore: NewMemoryStore(), n: maxTokenAttempts}
	a, err = New(users, store, testConfig())
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background(), "alice", "pw")
	require.ErrorIs(t, err, ErrTokenExists)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.TTL = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.TokenBytes = 8
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.HashCost = bcrypt.MaxCost + 1
	assert.Error(t, bad.Validate())

	_, err := New(userMap{}, nil, DefaultConfig())
	assert.Error(t, err)
}

func TestHashSecret_RoundTrip(t *testing.T) {
	a, _, _ := newTestAuth(t, testConfig())

	h, err := a.HashSecret("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", h)
	assert.True(t, a.hasher.Compare(h, "s3cret-pass"))
	assert.False(t, a.hasher.Compare(h, "other"))

	h2, err := a.HashSecret("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, h, h2, "hashes must be salted")
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "InvalidCredentials", Kind(ErrInvalidCredentials))
	assert.Equal(t, "SessionNotFound", Kind(ErrSessionNotFound))
	assert.Equal(t, "SessionExpired", Kind(ErrSessionExpired))
	assert.Equal(t, "Internal", Kind(errors.New("boom")))
}
