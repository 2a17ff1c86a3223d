// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, oauth, system
	Action   string // ユーザー向け対処方法
	Details  map[string]any
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeOAuthFailed      = "OAUTH_FAILED"
	ErrCodeEmailConflict    = "EMAIL_CONFLICT"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// 認証エラー。
// 外部には同一のレスポンスを返すが、内部ではCookie未設定と無効セッションを区別する。
var (
	// ErrNoSession はセッションCookieが存在しないことを示す。
	ErrNoSession = errors.New("session cookie not present")
	// ErrSessionInvalid はセッションが存在しない、期限切れ、または所有ユーザーが存在しないことを示す。
	ErrSessionInvalid = errors.New("session invalid or expired")
	// ErrUserNotFound はユーザーが見つからないことを示す。
	ErrUserNotFound = errors.New("user not found")
)

// IsAuthenticationError はerrが認証エラーかどうかを返す。
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrNoSession) || errors.Is(err, ErrSessionInvalid)
}

// ProtocolErrorKind はIdPとのやり取りの失敗種別。
type ProtocolErrorKind string

const (
	ProtocolMissingCode          ProtocolErrorKind = "missing_code"
	ProtocolTokenRejected        ProtocolErrorKind = "token_rejected"
	ProtocolTokenInvalid         ProtocolErrorKind = "token_invalid"
	ProtocolMissingAccessToken   ProtocolErrorKind = "missing_access_token"
	ProtocolUserInfoFailed       ProtocolErrorKind = "userinfo_failed"
	ProtocolUserInfoInvalid      ProtocolErrorKind = "userinfo_invalid"
	ProtocolMissingProfileFields ProtocolErrorKind = "missing_profile_fields"
	ProtocolStateMismatch        ProtocolErrorKind = "state_mismatch"
)

// ProtocolError はIdPから不正またはエラーのレスポンスを受け取ったことを表す。
// 認可コードは使い捨てのため、再試行せずログインフローのやり直しを求める。
type ProtocolError struct {
	Kind   ProtocolErrorKind
	Detail string
	Err    error
}

// NewProtocolError はProtocolErrorを生成する。
func NewProtocolError(kind ProtocolErrorKind, detail string, err error) *ProtocolError {
	return &ProtocolError{Kind: kind, Detail: detail, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("oauth protocol error (%s): %s", e.Kind, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は原因エラーを返す。
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ConflictError は同じメールアドレスを別のプロバイダーIDが要求したことを表す。
// 自動解決はしない。
type ConflictError struct {
	Email     string
	SubjectID string
}

// Error はerrorインターフェースを実装する。
func (e *ConflictError) Error() string {
	return fmt.Sprintf("email %s is already registered to another account (subject %s rejected)", e.Email, e.SubjectID)
}

// ValidationError はリクエストの必須フィールド不足を表す。
type ValidationError struct {
	Fields []string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// NewUnauthenticatedError は未認証エラーを生成する。
// 期限切れ・未発行・不正形式のいずれでも同じ内容を返す。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "Not authenticated",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewOAuthFailedError はOAuthログイン失敗エラーを生成する。
func NewOAuthFailedError(pe *ProtocolError) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthFailed,
		Message:  fmt.Sprintf("Googleログインに失敗しました: %s", pe.Detail),
		Category: "oauth",
		Action:   "ログインをやり直してください。",
		Details:  map[string]any{"kind": string(pe.Kind)},
	}
}

// NewEmailConflictError はメールアドレス競合エラーを生成する。
func NewEmailConflictError(ce *ConflictError) *APIError {
	return &APIError{
		Code:     ErrCodeEmailConflict,
		Message:  fmt.Sprintf("メールアドレスは別のアカウントで登録済みです: %s", ce.Email),
		Category: "auth",
		Action:   "登録済みのGoogleアカウントでログインしてください。",
	}
}

// NewValidationFailedError は必須フィールド不足エラーを生成する。
func NewValidationFailedError(ve *ValidationError) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("Missing required fields: %s", strings.Join(ve.Fields, ", ")),
		Category: "validation",
		Action:   "必須フィールドを指定してください。",
		Details:  map[string]any{"fields": ve.Fields},
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
