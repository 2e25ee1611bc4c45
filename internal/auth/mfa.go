package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/repository"
	"github.com/hitoshi/bookmarket/internal/totp"
)

// secretCreateAttempts はシークレット値の衝突時に再生成する上限回数。
const secretCreateAttempts = 3

// TOTPGenerator はTOTPシークレットの生成、提示、検証を行う。
// totp.Generatorが実装する。
type TOTPGenerator interface {
	TOTPVerifier
	NewSecret() (string, error)
	ProvisioningURI(secret, accountName string) (string, error)
	QRCodePNG(secret, accountName string) ([]byte, error)
}

// Enrollment は2要素認証の登録情報。
type Enrollment struct {
	Secret          string
	ProvisioningURI string
	CreatedAt       time.Time
}

// MFAService は2要素認証の有効化、確認、無効化を行う。
// 有効化と確認は別操作であり、確認を経ずとも有効化した時点でログインにTOTPが必要になる。
type MFAService struct {
	users     repository.UserRepository
	secrets   repository.TOTPSecretRepository
	generator TOTPGenerator
	now       func() time.Time
}

// NewMFAService はMFAServiceを生成する。
func NewMFAService(users repository.UserRepository, secrets repository.TOTPSecretRepository, generator TOTPGenerator) *MFAService {
	return &MFAService{
		users:     users,
		secrets:   secrets,
		generator: generator,
		now:       time.Now,
	}
}

// Enable はシークレットを取得し、なければ作成する。
// 既に有効な場合は既存のシークレットを返し、再生成はしない。
func (s *MFAService) Enable(ctx context.Context, userID int64) (*Enrollment, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.secrets.FindByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	if existing != nil {
		return s.enrollment(user, existing)
	}

	for attempt := 0; attempt < secretCreateAttempts; attempt++ {
		value, err := s.generator.NewSecret()
		if err != nil {
			return nil, model.NewInfrastructureError(err)
		}

		secret := &model.TOTPSecret{UserID: userID, Secret: value, CreatedAt: s.now()}
		err = s.secrets.Create(ctx, secret)
		if err == nil {
			slog.Info("totp enabled", slog.Int64("user_id", userID))
			return s.enrollment(user, secret)
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, model.NewInfrastructureError(err)
		}

		// 同時リクエストが先に作成した場合はそれを返す。シークレット値の衝突なら再生成する。
		winner, err := s.secrets.FindByUserID(ctx, userID)
		if err != nil {
			return nil, model.NewInfrastructureError(err)
		}
		if winner != nil {
			return s.enrollment(user, winner)
		}
	}

	return nil, model.NewInfrastructureError(fmt.Errorf("failed to allocate a unique totp secret for user %d", userID))
}

// Status は登録済みのシークレット情報を返す。未登録の場合はnilを返す。
func (s *MFAService) Status(ctx context.Context, userID int64) (*Enrollment, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	secret, err := s.secrets.FindByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	if secret == nil {
		return nil, nil
	}
	return s.enrollment(user, secret)
}

// QRCode は登録済みシークレットのプロビジョニングURIをQRコードPNGで返す。
func (s *MFAService) QRCode(ctx context.Context, userID int64) ([]byte, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	secret, err := s.secrets.FindByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	if secret == nil {
		return nil, model.NewTOTPNotEnabledError()
	}

	png, err := s.generator.QRCodePNG(secret.Secret, user.Email)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	return png, nil
}

// Confirm はコードを1回検証し、認証アプリの設定が正しいことを確認する。
func (s *MFAService) Confirm(ctx context.Context, userID int64, code string) error {
	if !totp.IsCodeShape(code) {
		return model.NewValidationError("Enter the 6-digit code from your authenticator app.")
	}
	secret, err := s.secrets.FindByUserID(ctx, userID)
	if err != nil {
		return model.NewInfrastructureError(err)
	}
	if secret == nil {
		return model.NewTOTPNotEnabledError()
	}
	if !s.generator.Validate(secret.Secret, code, s.now()) {
		slog.Warn("invalid totp code on confirmation", slog.Int64("user_id", userID))
		return model.NewInvalidTOTPCodeError()
	}
	return nil
}

// Disable はシークレットを削除する。再認証は求めない。
func (s *MFAService) Disable(ctx context.Context, userID int64) error {
	if err := s.secrets.DeleteByUserID(ctx, userID); err != nil {
		return model.NewInfrastructureError(err)
	}
	slog.Info("totp disabled", slog.Int64("user_id", userID))
	return nil
}

// HasSecret はユーザーがシークレットを登録済みかを返す。
func (s *MFAService) HasSecret(ctx context.Context, userID int64) (bool, error) {
	secret, err := s.secrets.FindByUserID(ctx, userID)
	if err != nil {
		return false, model.NewInfrastructureError(err)
	}
	return secret != nil, nil
}

func (s *MFAService) findUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *MFAService) enrollment(user *model.User, secret *model.TOTPSecret) (*Enrollment, error) {
	uri, err := s.generator.ProvisioningURI(secret.Secret, user.Email)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	return &Enrollment{
		Secret:          secret.Secret,
		ProvisioningURI: uri,
		CreatedAt:       secret.CreatedAt,
	}, nil
}
