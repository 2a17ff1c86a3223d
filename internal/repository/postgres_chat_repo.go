package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/scholarly/internal/model"
)

// PostgresChatRepo はPostgreSQLを使用したチャット履歴リポジトリ。
type PostgresChatRepo struct {
	db *sql.DB
}

// NewPostgresChatRepo はPostgresChatRepoを生成する。
func NewPostgresChatRepo(db *sql.DB) *PostgresChatRepo {
	return &PostgresChatRepo{db: db}
}

// Append はメッセージを追加する。
// idはbigserialで採番され、msg.IDに書き戻される。
func (r *PostgresChatRepo) Append(ctx context.Context, msg *model.ChatMessage) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO chat_history (user_id, message, sender, timestamp)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		msg.UserID, msg.Message, msg.Sender, msg.Timestamp,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// ListByUserID はユーザーの履歴を古い順に最大limit件返す。
// 同一タイムスタンプの場合はid昇順で並べる。
func (r *PostgresChatRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]model.ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, message, sender, timestamp
		 FROM chat_history
		 WHERE user_id = $1
		 ORDER BY timestamp ASC, id ASC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat history: %w", err)
	}
	defer rows.Close()

	messages := make([]model.ChatMessage, 0, limit)
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.UserID, &m.Message, &m.Sender, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat history: %w", err)
	}

	return messages, nil
}

// DeleteByUserID はユーザーの全履歴を削除する。
// 履歴が空でもエラーにしない。
func (r *PostgresChatRepo) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM chat_history WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chat history: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ ChatRepository = (*PostgresChatRepo)(nil)
