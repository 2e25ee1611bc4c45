package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/repository"
)

const (
	maxEmailLength    = 200
	minPasswordLength = 8
)

// AccountService はパスワードアカウントの登録を行う。
type AccountService struct {
	users  repository.UserRepository
	hasher PasswordHasher
}

// NewAccountService はAccountServiceを生成する。
func NewAccountService(users repository.UserRepository, hasher PasswordHasher) *AccountService {
	return &AccountService{users: users, hasher: hasher}
}

// Register はメールアドレスとパスワードでユーザーを作成する。
// メールアドレスが登録済みの場合はカテゴリconflictのエラーを返し、既存アカウントは変更しない。
func (s *AccountService) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}

	user := &model.User{
		Email:        email,
		PasswordHash: &hash,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, model.NewEmailAlreadyRegisteredError()
		}
		return nil, model.NewInfrastructureError(err)
	}

	slog.Info("user registered", slog.Int64("user_id", user.ID))
	return user, nil
}

// validateCredentials はメールアドレスとパスワードの形式を検証する。
func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return model.NewValidationError("Email and password are required.")
	}
	if len(email) > maxEmailLength {
		return model.NewValidationError("Email is too long.")
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return model.NewValidationError("Enter a valid email address.")
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return model.NewValidationError("Password must be at least 8 characters long.")
	}
	return nil
}
