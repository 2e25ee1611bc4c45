// Package user はアカウント情報の参照と退会を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/repository"
)

// LinkLister はユーザーに紐付いた外部プロバイダーの一覧を返す。
type LinkLister interface {
	ListByUserID(ctx context.Context, userID int64) ([]*model.OAuthAccount, error)
}

// SecretFinder はユーザーのTOTPシークレットを検索する。
type SecretFinder interface {
	FindByUserID(ctx context.Context, userID int64) (*model.TOTPSecret, error)
}

// Profile はアカウント画面に表示する情報。
type Profile struct {
	User        *model.User
	TOTPEnabled bool
	Links       []*model.OAuthAccount
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	links       LinkLister
	secrets     SecretFinder
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	links LinkLister,
	secrets SecretFinder,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		links:       links,
		secrets:     secrets,
	}
}

// Get は指定IDのユーザーを返す。存在しない場合はUserNotFoundエラー。
func (s *Service) Get(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewInfrastructureError(fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Profile はユーザー、2要素認証の登録状況、外部プロバイダーの紐付け一覧を返す。
func (s *Service) Profile(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	secret, err := s.secrets.FindByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewInfrastructureError(fmt.Errorf("failed to find TOTP secret: %w", err))
	}

	links, err := s.links.ListByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewInfrastructureError(fmt.Errorf("failed to list linked accounts: %w", err))
	}

	return &Profile{
		User:        user,
		TOTPEnabled: secret != nil,
		Links:       links,
	}, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: oauth_accounts, totp_secrets, listings）
func (s *Service) Withdraw(ctx context.Context, userID int64) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return model.NewInfrastructureError(fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.Int64("user_id", userID),
	)

	// 1. セッションを削除
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return model.NewInfrastructureError(fmt.Errorf("セッションの削除に失敗しました: %w", err))
	}

	// 2. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return model.NewInfrastructureError(fmt.Errorf("ユーザーの削除に失敗しました: %w", err))
	}

	slog.Info("退会処理が完了しました",
		slog.Int64("user_id", userID),
	)
	return nil
}
