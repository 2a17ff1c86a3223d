// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/scholarly/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// InsertIfAbsent はユーザーが存在しない場合のみ作成する。
	// 既存行は上書きせず、作成した場合はtrueを返す。
	// 別IDで同じメールアドレスが登録済みの場合は*model.ConflictErrorを返す。
	InsertIfAbsent(ctx context.Context, user *model.User) (bool, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	// 所有ユーザーが存在しない場合は外部キー制約によりエラーとなる。
	Create(ctx context.Context, session *model.Session) error
	// FindByToken は指定トークンのセッションを取得する。見つからない場合はnilを返す。
	// 期限切れの判定は呼び出し側で行う。
	FindByToken(ctx context.Context, token string) (*model.Session, error)
	// DeleteByToken は指定トークンのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByToken(ctx context.Context, token string) error
	// DeleteExpired はbefore以前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ChatRepository はチャット履歴の永続化インターフェース。
type ChatRepository interface {
	// Append はメッセージを追加し、採番されたIDとタイムスタンプを設定する。
	Append(ctx context.Context, msg *model.ChatMessage) error
	// ListByUserID はユーザーの履歴をtimestamp昇順、同時刻はid昇順で最大limit件返す。
	ListByUserID(ctx context.Context, userID string, limit int) ([]model.ChatMessage, error)
	// DeleteByUserID はユーザーの全履歴を削除し、削除件数を返す。
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}
