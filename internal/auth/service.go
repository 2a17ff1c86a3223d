// Package auth はGoogle OAuthによるログインフローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/scholarly/internal/metrics"
	"github.com/hitoshi/scholarly/internal/model"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Picture        string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// UserDirectory はログイン時のユーザー登録に必要なインターフェース。
type UserDirectory interface {
	UpsertUser(ctx context.Context, subjectID, name, email, picture string) (*model.User, error)
}

// SessionManager はセッションの発行・検証・破棄のインターフェース。
// session.Storeが実装する。
type SessionManager interface {
	Create(ctx context.Context, userID string) (*model.Session, error)
	Validate(ctx context.Context, token string) (*model.User, error)
	Delete(ctx context.Context, token string) error
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth    OAuthProvider
	users    UserDirectory
	sessions SessionManager
	metrics  metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	users UserDirectory,
	sessions SessionManager,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		oauth:    oauth,
		users:    users,
		sessions: sessions,
		metrics:  collector,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーは初回ログイン時に作成され、登録済みユーザーのプロフィールは更新しない。
//
// 返すエラー:
//   - *model.ProtocolError: IdPとのやり取りの失敗
//   - *model.ConflictError: メールアドレスが別アカウントで登録済み
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	started := time.Now()
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	s.metrics.RecordOAuthLatency(time.Since(started))
	if err != nil {
		s.recordLoginFailure(err)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. ユーザーを登録（存在しない場合のみ）
	user, err := s.users.UpsertUser(ctx, userInfo.ProviderUserID, userInfo.Name, userInfo.Email, userInfo.Picture)
	if err != nil {
		s.recordLoginFailure(err)
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 3. セッションを発行
	session, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		s.recordLoginFailure(err)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordLogin(metrics.LoginSuccess)
	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", userInfo.Provider),
	)

	return session, nil
}

// Logout はセッションを破棄する。
// トークンが空または既に無効な場合も成功として扱う。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("user logged out")
	return nil
}

// CurrentUser はセッショントークンから現在のユーザーを取得する。
// 認証失敗はmodel.ErrNoSessionまたはmodel.ErrSessionInvalidを返す。
func (s *Service) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	return s.sessions.Validate(ctx, token)
}

func (s *Service) recordLoginFailure(err error) {
	var pe *model.ProtocolError
	var ce *model.ConflictError
	switch {
	case errors.As(err, &pe):
		s.metrics.RecordLogin(metrics.LoginProtocolError)
		slog.Warn("oauth login failed",
			slog.String("kind", string(pe.Kind)),
			slog.String("error", err.Error()),
		)
	case errors.As(err, &ce):
		s.metrics.RecordLogin(metrics.LoginConflict)
		slog.Warn("oauth login rejected: email already registered",
			slog.String("subject_id", ce.SubjectID),
		)
	default:
		s.metrics.RecordLogin(metrics.LoginError)
		slog.Error("oauth login failed",
			slog.String("error", err.Error()),
		)
	}
}
