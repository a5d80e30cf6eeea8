package main

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/example/dreamauth/internal/session"
	_ "modernc.org/sqlite"
)

// ErrUserExists is returned by CreateUser for a taken identifier.
var ErrUserExists = errors.New("user already exists")

// DB is a user store that can also hold sessions.
type DB interface {
	session.UserStore
	session.Store
	session.Purger
	CreateUser(ctx context.Context, identifier, secretHash string) (*session.UserRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// Memory DB
type MemDB struct {
	*session.MemoryStore

	mu    sync.RWMutex
	users map[string]*session.UserRecord
	now   func() time.Time
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		MemoryStore: session.NewMemoryStore(),
		users:       map[string]*session.UserRecord{},
		now:         time.Now,
	}
}

func (m *MemDB) CreateUser(_ context.Context, identifier, secretHash string) (*session.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[identifier]; ok {
		return nil, ErrUserExists
	}
	u := &session.UserRecord{Identifier: identifier, SecretHash: secretHash, CreatedAt: m.now().UTC()}
	m.users[identifier] = u
	cp := *u
	return &cp, nil
}

func (m *MemDB) Lookup(_ context.Context, identifier string) (*session.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[identifier]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *MemDB) Ping(context.Context) error { return nil }
func (m *MemDB) Close() error               { return nil }

// SQLite DB
type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY under load.
	d.SetMaxOpenConns(1)
	s := &SQLiteDB{db: d}
	if err := s.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, identifier TEXT NOT NULL UNIQUE, secret_hash TEXT NOT NULL, created_at INTEGER NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS sessions (token TEXT PRIMARY KEY, identifier TEXT NOT NULL, issued_at INTEGER NOT NULL, expires_at INTEGER NOT NULL);`,
		`CREATE INDEX IF NOT EXISTS sessions_identifier_idx ON sessions (identifier);`,
		`CREATE INDEX IF NOT EXISTS sessions_expires_at_idx ON sessions (expires_at);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) CreateUser(ctx context.Context, identifier, secretHash string) (*session.UserRecord, error) {
	created := time.Now().UTC().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx, `INSERT INTO users(identifier,secret_hash,created_at) VALUES(?,?,?) ON CONFLICT(identifier) DO NOTHING`, identifier, secretHash, created.UnixMilli())
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrUserExists
	}
	return &session.UserRecord{Identifier: identifier, SecretHash: secretHash, CreatedAt: created}, nil
}

func (s *SQLiteDB) Lookup(ctx context.Context, identifier string) (*session.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT identifier,secret_hash,created_at FROM users WHERE identifier = ?`, identifier)
	var u session.UserRecord
	var created int64
	if err := row.Scan(&u.Identifier, &u.SecretHash, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	return &u, nil
}

func (s *SQLiteDB) Create(ctx context.Context, sess *session.Session) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO sessions(token,identifier,issued_at,expires_at) VALUES(?,?,?,?) ON CONFLICT(token) DO NOTHING`,
		sess.Token, sess.Identifier, sess.IssuedAt.UnixMilli(), sess.ExpiresAt.UnixMilli())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrTokenExists
	}
	return nil
}

func (s *SQLiteDB) Get(ctx context.Context, token string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token,identifier,issued_at,expires_at FROM sessions WHERE token = ?`, token)
	var sess session.Session
	var issued, expires int64
	if err := row.Scan(&sess.Token, &sess.Identifier, &issued, &expires); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	sess.IssuedAt = time.UnixMilli(issued).UTC()
	sess.ExpiresAt = time.UnixMilli(expires).UTC()
	return &sess, nil
}

func (s *SQLiteDB) Delete(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

func (s *SQLiteDB) DeleteByIdentifier(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE identifier = ?`, identifier)
	return err
}

func (s *SQLiteDB) Extend(ctx context.Context, sess *session.Session) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET expires_at = ? WHERE token = ?`, sess.ExpiresAt.UnixMilli(), sess.Token)
	return err
}

func (s *SQLiteDB) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// lifecycle helpers
func (s *SQLiteDB) Close() error                   { return s.db.Close() }
func (s *SQLiteDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
