// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// IDはGoogleのsubject idをそのまま主キーとして使う。
type User struct {
	ID        string
	Name      string
	Email     string
	Picture   string
	CreatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// 発行後は変更しない（スライディング有効期限なし）。
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired はnow時点でセッションが期限切れかどうかを返す。
// now < ExpiresAt の場合のみ有効とみなす。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ChatMessage はチャット履歴の1メッセージを表す。
type ChatMessage struct {
	ID        int64
	UserID    string
	Message   string
	Sender    string // "user", "assistant" 等の自由形式タグ
	Timestamp time.Time
}
