// Package session はサーバーサイドセッションの発行・検証・破棄を提供する。
//
// セッションの状態遷移は Active → Expired → Absent の一方向で、期限切れのセッションが
// 再び有効になることはない。有効期限は読み取りのたびに注入された時計で判定するため、
// キャッシュから取り出したセッションでも期限切れは必ず無効として扱われる。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/scholarly/internal/cache"
	"github.com/hitoshi/scholarly/internal/metrics"
	"github.com/hitoshi/scholarly/internal/model"
	"github.com/hitoshi/scholarly/internal/repository"
)

// DefaultTTL はセッションの既定の有効期間（7日）。
const DefaultTTL = 7 * 24 * time.Hour

// tokenBytes はセッショントークンの乱数バイト数。hex化すると64文字になる。
const tokenBytes = 32

// UserLookup はセッション所有ユーザーの解決に必要なインターフェース。
// 存在しない場合はmodel.ErrUserNotFoundを返す。
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// Store はセッションの永続化と検証を行う。
// cacheがnilの場合は常にデータベースを参照する。
type Store struct {
	repo     repository.SessionRepository
	users    UserLookup
	cache    cache.SessionCache
	metrics  metrics.MetricsCollector
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
}

// NewStore はStoreを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewStore(
	repo repository.SessionRepository,
	users UserLookup,
	sessionCache cache.SessionCache,
	collector metrics.MetricsCollector,
	ttl time.Duration,
) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Store{
		repo:     repo,
		users:    users,
		cache:    sessionCache,
		metrics:  collector,
		ttl:      ttl,
		now:      time.Now,
		newToken: generateToken,
	}
}

// TTL はセッションの有効期間を返す。Cookie の Max-Age に使う。
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create はユーザーの新しいセッションを発行する。
// セッション行はusersへの外部キーを持つため、存在しないユーザーのセッションは作成できない。
func (s *Store) Create(ctx context.Context, userID string) (*model.Session, error) {
	token, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	session := &model.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.cacheSet(ctx, session, now)
	s.metrics.RecordSessionCreated()

	return session, nil
}

// Validate はトークンを検証し、セッション所有ユーザーを返す。
//   - トークンが空: model.ErrNoSession
//   - 未登録・期限切れ・所有ユーザーなし: model.ErrSessionInvalid
//
// 期限切れのセッションはその場で削除する。
func (s *Store) Validate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		s.metrics.RecordSessionValidation(metrics.SessionMissing)
		return nil, model.ErrNoSession
	}

	now := s.now()

	// 1. キャッシュ → DBの順にセッションを取得
	session, err := s.lookup(ctx, token)
	if err != nil {
		s.metrics.RecordSessionValidation(metrics.SessionLookupError)
		return nil, err
	}
	if session == nil {
		s.metrics.RecordSessionValidation(metrics.SessionInvalid)
		return nil, model.ErrSessionInvalid
	}

	// 2. 有効期限を判定（取得元によらず毎回）
	if session.IsExpired(now) {
		s.purge(ctx, token)
		s.metrics.RecordSessionValidation(metrics.SessionExpired)
		return nil, model.ErrSessionInvalid
	}

	// 3. 所有ユーザーを解決
	user, err := s.users.GetUser(ctx, session.UserID)
	if errors.Is(err, model.ErrUserNotFound) {
		s.metrics.RecordSessionValidation(metrics.SessionInvalid)
		return nil, model.ErrSessionInvalid
	}
	if err != nil {
		s.metrics.RecordSessionValidation(metrics.SessionLookupError)
		return nil, fmt.Errorf("failed to resolve session user: %w", err)
	}

	s.metrics.RecordSessionValidation(metrics.SessionValid)
	return user, nil
}

// Delete はセッションを破棄する。存在しないトークンでもエラーにしない。
func (s *Store) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, token); err != nil {
			slog.Warn("failed to evict cached session",
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.repo.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Sweep は期限切れセッションを一括削除し、削除件数を返す。
// キャッシュのエントリは有効期限と同時に失効するため個別には削除しない。
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	s.metrics.RecordSessionsSwept(deleted)
	return deleted, nil
}

// lookup はキャッシュ、次にDBからセッションを取得する。
// キャッシュの障害は検証を失敗させず、DB参照にフォールバックする。
// DBから読んだ行はキャッシュに書き戻さない。キャッシュへの書き込みはCreateのみで、
// 並行するDeleteで破棄されたトークンがキャッシュに残ることはない。
func (s *Store) lookup(ctx context.Context, token string) (*model.Session, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, token)
		if err != nil {
			slog.Warn("session cache lookup failed, falling back to database",
				slog.String("error", err.Error()),
			)
		}
		if cached != nil {
			s.metrics.RecordSessionCacheLookup(true)
			return cached, nil
		}
		s.metrics.RecordSessionCacheLookup(false)
	}

	session, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// cacheSet は残り有効期間をTTLとしてセッションをキャッシュする。
func (s *Store) cacheSet(ctx context.Context, session *model.Session, now time.Time) {
	if s.cache == nil {
		return
	}
	remaining := session.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return
	}
	if err := s.cache.Set(ctx, session, remaining); err != nil {
		slog.Warn("failed to cache session",
			slog.String("error", err.Error()),
		)
	}
}

// purge は期限切れセッションをキャッシュとDBから削除する。
// 失敗してもSweepで回収されるため、ログのみ残す。
func (s *Store) purge(ctx context.Context, token string) {
	if err := s.Delete(ctx, token); err != nil {
		slog.Warn("failed to purge expired session",
			slog.String("error", err.Error()),
		)
	}
}

// generateToken は暗号的に安全なセッショントークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
