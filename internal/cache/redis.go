package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/scholarly/internal/model"
	rdb "github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "scholarly:session:"

// Redis はRedisを使用したセッションキャッシュ。
// 複数インスタンスでAPIサーバーを動かす場合に使う。
type Redis struct {
	c      *rdb.Client
	prefix string
}

// NewRedis はredis://形式のURLからRedisを生成する。
func NewRedis(redisURL, prefix string) (*Redis, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required for redis session cache")
	}
	opts, err := rdb.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{c: rdb.NewClient(opts), prefix: prefix}, nil
}

// Ping は接続を確認する。
func (r *Redis) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

// Close はクライアントを閉じる。
func (r *Redis) Close() error {
	return r.c.Close()
}

// Get はトークンに対応するセッションを返す。
func (r *Redis) Get(ctx context.Context, token string) (*model.Session, error) {
	b, err := r.c.Get(ctx, r.key(token)).Bytes()
	if errors.Is(err, rdb.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached session: %w", err)
	}
	return decodeSession(token, b)
}

// Set はセッションをttlの間保持する。
func (r *Redis) Set(ctx context.Context, session *model.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b, err := encodeSession(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.c.Set(ctx, r.key(session.Token), b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache session: %w", err)
	}
	return nil
}

// Delete はトークンのエントリを削除する。
func (r *Redis) Delete(ctx context.Context, token string) error {
	if err := r.c.Del(ctx, r.key(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached session: %w", err)
	}
	return nil
}

func (r *Redis) key(token string) string {
	return r.prefix + token
}

var _ SessionCache = (*Redis)(nil)
