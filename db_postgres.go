package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/dreamauth/internal/session"
	_ "github.com/lib/pq"
)

type PostgresDB struct {
	db *sql.DB
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.Ping()
}

func (p *PostgresDB) CreateUser(ctx context.Context, identifier, secretHash string) (*session.UserRecord, error) {
	u := &session.UserRecord{Identifier: identifier, SecretHash: secretHash}
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO users(identifier,secret_hash,created_at) VALUES($1,$2,now()) ON CONFLICT (identifier) DO NOTHING RETURNING created_at`,
		identifier, secretHash).Scan(&u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (p *PostgresDB) Lookup(ctx context.Context, identifier string) (*session.UserRecord, error) {
	row := p.db.QueryRowContext(ctx, `SELECT identifier,secret_hash,created_at FROM users WHERE identifier = $1`, identifier)
	var u session.UserRecord
	if err := row.Scan(&u.Identifier, &u.SecretHash, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (p *PostgresDB) Create(ctx context.Context, s *session.Session) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO sessions(token,identifier,issued_at,expires_at) VALUES($1,$2,$3,$4) ON CONFLICT (token) DO NOTHING`,
		s.Token, s.Identifier, s.IssuedAt.Truncate(time.Microsecond), s.ExpiresAt.Truncate(time.Microsecond))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrTokenExists
	}
	return nil
}

func (p *PostgresDB) Get(ctx context.Context, token string) (*session.Session, error) {
	row := p.db.QueryRowContext(ctx, `SELECT token,identifier,issued_at,expires_at FROM sessions WHERE token = $1`, token)
	var s session.Session
	if err := row.Scan(&s.Token, &s.Identifier, &s.IssuedAt, &s.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (p *PostgresDB) Delete(ctx context.Context, token string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

func (p *PostgresDB) DeleteByIdentifier(ctx context.Context, identifier string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE identifier = $1`, identifier)
	return err
}

func (p *PostgresDB) Extend(ctx context.Context, s *session.Session) error {
	_, err := p.db.ExecContext(ctx, `UPDATE sessions SET expires_at = $1 WHERE token = $2`, s.ExpiresAt.Truncate(time.Microsecond), s.Token)
	return err
}

func (p *PostgresDB) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresDB) Close() error                   { return p.db.Close() }
func (p *PostgresDB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
