package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix = "session:"
	redisIdentPrefix   = "session:ident:"
)

// RedisStore keeps sessions as JSON values whose key TTL tracks ExpiresAt.
// A set per identifier indexes its tokens.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects using a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStoreFromClient(redis.NewClient(opts)), nil
}

func NewRedisStoreFromClient(c *redis.Client) *RedisStore {
	return &RedisStore{client: c}
}

func sessionKey(token string) string    { return redisSessionPrefix + token }
func identKey(identifier string) string { return redisIdentPrefix + identifier }

func keyTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl
}

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, sessionKey(s.Token), data, keyTTL(s.ExpiresAt)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenExists
	}
	if err := r.index(ctx, s); err != nil {
		// an unindexed key would escape DeleteByIdentifier
		if derr := r.client.Del(context.WithoutCancel(ctx), sessionKey(s.Token)).Err(); derr != nil {
			return errors.Join(err, derr)
		}
		return err
	}
	return nil
}

func (r *RedisStore) index(ctx context.Context, s *Session) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, identKey(s.Identifier), s.Token)
		p.PExpireAt(ctx, identKey(s.Identifier), s.ExpiresAt)
		return nil
	})
	return err
}

func (r *RedisStore) Get(ctx context.Context, token string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Delete(ctx context.Context, token string) error {
	s, err := r.Get(ctx, token)
	if err != nil || s == nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionKey(token))
		p.SRem(ctx, identKey(s.Identifier), token)
		return nil
	})
	return err
}

func (r *RedisStore) DeleteByIdentifier(ctx context.Context, identifier string) error {
	tokens, err := r.client.SMembers(ctx, identKey(identifier)).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, sessionKey(t))
	}
	keys = append(keys, identKey(identifier))
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) Extend(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ok, err := r.client.SetXX(ctx, sessionKey(s.Token), data, keyTTL(s.ExpiresAt)).Result()
	if err != nil || !ok {
		return err
	}
	return r.index(ctx, s)
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
