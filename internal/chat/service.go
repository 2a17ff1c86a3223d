// Package chat はユーザーごとのチャット履歴を提供する。
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/scholarly/internal/metrics"
	"github.com/hitoshi/scholarly/internal/model"
	"github.com/hitoshi/scholarly/internal/repository"
)

const (
	// DefaultListLimit は件数指定がない場合の取得件数。
	DefaultListLimit = 100
	// MaxListLimit は1回の取得件数の上限。
	MaxListLimit = 1000
)

// Service はチャット履歴のサービス層。
// 履歴は追記のみで、削除はユーザー単位の一括削除に限る。
type Service struct {
	repo         repository.ChatRepository
	metrics      metrics.MetricsCollector
	defaultLimit int
	now          func() time.Time
}

// NewService はServiceを生成する。defaultLimitが0以下の場合はDefaultListLimitを使用する。
func NewService(repo repository.ChatRepository, collector metrics.MetricsCollector, defaultLimit int) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if defaultLimit <= 0 || defaultLimit > MaxListLimit {
		defaultLimit = DefaultListLimit
	}
	return &Service{
		repo:         repo,
		metrics:      collector,
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

// Append はメッセージを履歴に追加する。
// 空文字列のmessage・senderもそのまま保存する。キーの有無はハンドラーで検証済み。
func (s *Service) Append(ctx context.Context, userID, message, sender string) (*model.ChatMessage, error) {
	msg := &model.ChatMessage{
		UserID:    userID,
		Message:   message,
		Sender:    sender,
		Timestamp: s.now().UTC(),
	}
	if err := s.repo.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to append chat message: %w", err)
	}

	s.metrics.RecordChatAppended()
	return msg, nil
}

// List はユーザーの履歴を古い順に最大limit件返す。
// limitが0以下の場合は既定値、上限を超える場合はMaxListLimitに丸める。
func (s *Service) List(ctx context.Context, userID string, limit int) ([]model.ChatMessage, error) {
	messages, err := s.repo.ListByUserID(ctx, userID, s.normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list chat history: %w", err)
	}
	return messages, nil
}

// Clear はユーザーの全履歴を削除し、削除件数を返す。
// 履歴が空でもエラーにしない。
func (s *Service) Clear(ctx context.Context, userID string) (int64, error) {
	deleted, err := s.repo.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear chat history: %w", err)
	}
	s.metrics.RecordChatCleared(deleted)
	return deleted, nil
}

func (s *Service) normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return s.defaultLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
