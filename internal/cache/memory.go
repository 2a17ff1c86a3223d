package cache

import (
	"context"
	"time"

	"github.com/hitoshi/scholarly/internal/model"
	gocache "github.com/patrickmn/go-cache"
)

// Memory はプロセス内のセッションキャッシュ。
// 単一インスタンス構成向け。
type Memory struct {
	c *gocache.Cache
}

// NewMemory はMemoryを生成する。
// 期限切れエントリは1分ごとにgo-cacheが回収する。
func NewMemory() *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, time.Minute)}
}

// Get はトークンに対応するセッションを返す。
func (m *Memory) Get(_ context.Context, token string) (*model.Session, error) {
	v, ok := m.c.Get(token)
	if !ok {
		return nil, nil
	}
	s, ok := v.(model.Session)
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Set はセッションのコピーをttlの間保持する。
func (m *Memory) Set(_ context.Context, session *model.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.c.Set(session.Token, *session, ttl)
	return nil
}

// Delete はトークンのエントリを削除する。
func (m *Memory) Delete(_ context.Context, token string) error {
	m.c.Delete(token)
	return nil
}

var _ SessionCache = (*Memory)(nil)
