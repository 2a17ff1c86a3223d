// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/scholarly/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookie名。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// SessionValidator はセッショントークンの検証に必要なインターフェース。
// 認証失敗はmodel.ErrNoSessionまたはmodel.ErrSessionInvalidで返す。
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*model.User, error)
}

// Guard はセッションで保護されたリクエストの前提条件を検証する。
type Guard struct {
	validator SessionValidator
}

// NewGuard はGuardを生成する。
func NewGuard(validator SessionValidator) *Guard {
	return &Guard{validator: validator}
}

// Authenticate はCookieの生の値からユーザーを解決する。
// 戻り値のエラーは model.ErrNoSession / model.ErrSessionInvalid / それ以外（内部エラー）のいずれか。
func (g *Guard) Authenticate(ctx context.Context, rawCookie string) (*model.User, error) {
	if rawCookie == "" {
		return nil, model.ErrNoSession
	}
	return g.validator.Validate(ctx, rawCookie)
}

// Require は認証を必須とするミドルウェアを返す。
// 認証失敗の理由によらず同一の401レスポンスを返す。
func (g *Guard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Cookieからトークンを取得して検証
		user, err := g.Authenticate(r.Context(), TokenFromRequest(r))
		if err != nil {
			if model.IsAuthenticationError(err) {
				slog.Debug("request rejected: not authenticated",
					slog.String("reason", authFailureReason(err)),
					slog.String("path", r.URL.Path),
				)
				WriteUnauthenticated(w)
				return
			}
			slog.Error("failed to validate session",
				slog.String("error", err.Error()),
			)
			WriteInternalServerError(w)
			return
		}

		// 2. 認証済みユーザーをコンテキストに注入
		next.ServeHTTP(w, r.WithContext(withAuthenticatedUser(r.Context(), user)))
	})
}

// Optional は認証を任意とするミドルウェアを返す。
// 有効なセッションがあればユーザーをコンテキストに注入し、なければそのまま通す。
func (g *Guard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := g.Authenticate(r.Context(), TokenFromRequest(r))
		if err != nil {
			if !model.IsAuthenticationError(err) {
				slog.Warn("failed to validate optional session",
					slog.String("error", err.Error()),
				)
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAuthenticatedUser(r.Context(), user)))
	})
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みユーザーをリクエストコンテキストに注入する。
func NewSessionMiddleware(validator SessionValidator) func(next http.Handler) http.Handler {
	return NewGuard(validator).Require
}

// TokenFromRequest はリクエストのセッションCookieの値を返す。Cookieがない場合は空文字を返す。
func TokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// withAuthenticatedUser はユーザーをコンテキストに注入し、リクエストログにも記録する。
func withAuthenticatedUser(ctx context.Context, user *model.User) context.Context {
	if info := requestInfoFromContext(ctx); info != nil {
		info.userID = user.ID
	}
	return ContextWithUser(ctx, user)
}

func authFailureReason(err error) string {
	if errors.Is(err, model.ErrNoSession) {
		return "no_session"
	}
	return "session_invalid"
}
