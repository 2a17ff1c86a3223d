package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/scholarly/internal/model"
	"github.com/lib/pq"
)

const (
	// pqUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
	pqUniqueViolation = "23505"
	// usersEmailConstraint はusers.emailの一意制約名。
	usersEmailConstraint = "users_email_key"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, picture, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Name, &user.Email, &user.Picture, &user.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// InsertIfAbsent はユーザーが存在しない場合のみ作成する。
// 同一IDの行が既にある場合は何もしない（初回ログイン時の値を保持する）。
// 別IDで同じメールアドレスが登録済みの場合は*model.ConflictErrorを返す。
func (r *PostgresUserRepo) InsertIfAbsent(ctx context.Context, user *model.User) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, picture, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		user.ID, user.Name, user.Email, user.Picture, user.CreatedAt,
	)
	if err != nil {
		if isEmailConflict(err) {
			return false, &model.ConflictError{Email: user.Email, SubjectID: user.ID}
		}
		return false, fmt.Errorf("failed to insert user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// isEmailConflict はerrがusers.emailの一意制約違反かどうかを判定する。
func isEmailConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqUniqueViolation && pqErr.Constraint == usersEmailConstraint
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
