// Package user はユーザーディレクトリのドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/scholarly/internal/model"
	"github.com/hitoshi/scholarly/internal/repository"
)

// Service はユーザーディレクトリのサービス層。
// ユーザーはIdPのサブジェクトIDで識別され、初回ログイン時に作成される。
type Service struct {
	userRepo repository.UserRepository
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo, now: time.Now}
}

// UpsertUser はユーザーが存在しなければ作成し、現在の行を返す。
// 既存ユーザーのプロフィールは更新しない（初回ログイン時の値を保持する）。
// 別のサブジェクトIDが同じメールアドレスを使用している場合は*model.ConflictErrorを返す。
func (s *Service) UpsertUser(ctx context.Context, subjectID, name, email, picture string) (*model.User, error) {
	if subjectID == "" || email == "" {
		return nil, &model.ValidationError{Fields: missingFields(subjectID, email)}
	}

	// 1. 存在しない場合のみ挿入
	created, err := s.userRepo.InsertIfAbsent(ctx, &model.User{
		ID:        subjectID,
		Name:      name,
		Email:     email,
		Picture:   picture,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("ユーザーの登録に失敗しました: %w", err)
	}

	// 2. 保存済みの行を読み戻す
	user, err := s.userRepo.FindByID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("登録直後のユーザーが見つかりません: %s", subjectID)
	}

	if created {
		slog.Info("new user created",
			slog.String("user_id", subjectID),
		)
	}
	return user, nil
}

// GetUser は指定IDのユーザーを取得する。
// 存在しない場合はmodel.ErrUserNotFoundを返す。
func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.ErrUserNotFound
	}
	return user, nil
}

func missingFields(subjectID, email string) []string {
	var fields []string
	if subjectID == "" {
		fields = append(fields, "id")
	}
	if email == "" {
		fields = append(fields, "email")
	}
	return fields
}
