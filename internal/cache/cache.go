// Package cache はセッション検証結果のキャッシュを提供する。
// 正本は常にPostgreSQLのsessionsテーブルであり、キャッシュはその読み取りを省略するためだけに使う。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/scholarly/internal/model"
)

// SessionCache はセッションのキャッシュインターフェース。
type SessionCache interface {
	// Get はトークンに対応するセッションを返す。存在しない場合はnilを返す。
	Get(ctx context.Context, token string) (*model.Session, error)
	// Set はセッションをttlの間保持する。ttlが0以下の場合は何もしない。
	Set(ctx context.Context, session *model.Session, ttl time.Duration) error
	// Delete はトークンのエントリを削除する。存在しなくてもエラーにしない。
	Delete(ctx context.Context, token string) error
}

// Driver はキャッシュの実装種別。
type Driver string

const (
	DriverNone   Driver = "none"
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

// Config はキャッシュ生成の設定。
type Config struct {
	Driver   Driver
	RedisURL string
	Prefix   string
}

// New は設定に応じたSessionCacheを生成する。
// DriverNoneの場合はnilを返し、呼び出し側はキャッシュなしで動作する。
func New(cfg Config) (SessionCache, error) {
	switch cfg.Driver {
	case DriverNone:
		return nil, nil
	case DriverRedis:
		return NewRedis(cfg.RedisURL, cfg.Prefix)
	case DriverMemory, "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown session cache driver: %q", cfg.Driver)
	}
}

// entry はキャッシュに格納するセッション表現。
// 時刻はDBの行と同じ精度で判定できるようepochナノ秒で持つ。
type entry struct {
	UserID      string `json:"user_id"`
	ExpiresAtNs int64  `json:"expires_at_ns"`
	CreatedAtNs int64  `json:"created_at_ns"`
}

func encodeSession(s *model.Session) ([]byte, error) {
	return json.Marshal(entry{
		UserID:      s.UserID,
		ExpiresAtNs: s.ExpiresAt.UnixNano(),
		CreatedAtNs: s.CreatedAt.UnixNano(),
	})
}

// decodeSession はエントリを復元する。
// 有効期限を持たないエントリ（旧形式など）はnilを返し、キャッシュミスとして扱う。
func decodeSession(token string, b []byte) (*model.Session, error) {
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("failed to decode cached session: %w", err)
	}
	if e.ExpiresAtNs == 0 {
		return nil, nil
	}
	return &model.Session{
		Token:     token,
		UserID:    e.UserID,
		ExpiresAt: time.Unix(0, e.ExpiresAtNs),
		CreatedAt: time.Unix(0, e.CreatedAtNs),
	}, nil
}
