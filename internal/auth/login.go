package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/bookmarket/internal/metrics"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/repository"
	"github.com/hitoshi/bookmarket/internal/totp"
)

// LoginStep はログイン操作後の遷移先。
type LoginStep int

const (
	// StepAuthenticated は認証済みセッションが発行された状態。
	StepAuthenticated LoginStep = iota
	// StepTOTPPending はパスワード検証済みでTOTPコードの入力待ちの状態。
	// この状態ではセッションは発行されない。
	StepTOTPPending
)

// MFAPolicy は2要素認証の必須化設定。
type MFAPolicy struct {
	// Required が真の場合、未登録ユーザーにはログイン後に登録を求める。
	Required bool
	// Strict が真の場合、登録が完了するまで登録画面以外へのアクセスを制限する。
	Strict bool
}

// LoginResult はログイン操作の結果。
type LoginResult struct {
	Step    LoginStep
	User    *model.User
	Session *model.Session // StepAuthenticatedの場合のみ設定される
	// EnrollmentRequired は2FA必須ポリシー下で未登録のまま認証されたことを示す。
	EnrollmentRequired bool
}

// TOTPVerifier はTOTPコードの検証を行う。
type TOTPVerifier interface {
	Validate(secret, code string, t time.Time) bool
}

// LoginService はパスワード入力からTOTP検証を経てセッション発行に至るログインフローを扱う。
type LoginService struct {
	authn    *Authenticator
	users    repository.UserRepository
	secrets  repository.TOTPSecretRepository
	sessions *SessionService
	verifier TOTPVerifier
	policy   MFAPolicy
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewLoginService はLoginServiceを生成する。
func NewLoginService(
	authn *Authenticator,
	users repository.UserRepository,
	secrets repository.TOTPSecretRepository,
	sessions *SessionService,
	verifier TOTPVerifier,
	policy MFAPolicy,
	collector metrics.MetricsCollector,
) *LoginService {
	return &LoginService{
		authn:    authn,
		users:    users,
		secrets:  secrets,
		sessions: sessions,
		verifier: verifier,
		policy:   policy,
		metrics:  collector,
		now:      time.Now,
	}
}

// Policy は2要素認証の必須化設定を返す。
func (s *LoginService) Policy() MFAPolicy {
	return s.policy
}

// Login はメールアドレスとパスワードを検証する。
// TOTPシークレットが登録済みの場合はセッションを発行せずStepTOTPPendingを返す。
func (s *LoginService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.authn.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	secret, err := s.secrets.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	if secret != nil {
		s.metrics.RecordLogin(metrics.LoginTOTPRequired)
		return &LoginResult{Step: StepTOTPPending, User: user}, nil
	}

	result, err := s.establish(ctx, user, false)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLogin(metrics.LoginSuccess)
	return result, nil
}

// VerifyTOTP はTOTP入力待ちのユーザーが送信したコードを検証し、一致すればセッションを発行する。
// 不一致の場合は状態を変えずにエラーを返す。失敗回数はここでは数えない。
func (s *LoginService) VerifyTOTP(ctx context.Context, pendingUserID int64, code string) (*LoginResult, error) {
	if !totp.IsCodeShape(code) {
		s.metrics.RecordTOTPVerification(metrics.TOTPInvalid)
		return nil, model.NewValidationError("Enter the 6-digit code from your authenticator app.")
	}

	user, err := s.users.FindByID(ctx, pendingUserID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	if user == nil || !user.IsActive {
		return nil, model.NewUserNotFoundError()
	}

	secret, err := s.secrets.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	if secret == nil {
		return nil, model.NewTOTPNotEnabledError()
	}

	if !s.verifier.Validate(secret.Secret, code, s.now()) {
		slog.Warn("invalid totp code", slog.Int64("user_id", user.ID))
		s.metrics.RecordTOTPVerification(metrics.TOTPInvalid)
		return nil, model.NewInvalidTOTPCodeError()
	}
	s.metrics.RecordTOTPVerification(metrics.TOTPSuccess)

	// 2要素とも検証済み
	return s.establish(ctx, user, true)
}

// EstablishSession は外部で本人確認を済ませたユーザー（新規登録直後、OAuth）のセッションを発行する。
func (s *LoginService) EstablishSession(ctx context.Context, user *model.User) (*LoginResult, error) {
	secret, err := s.secrets.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	return s.establish(ctx, user, secret != nil)
}

// Logout はセッションを破棄する。
func (s *LoginService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Revoke(ctx, sessionID)
}

func (s *LoginService) establish(ctx context.Context, user *model.User, enrolled bool) (*LoginResult, error) {
	session, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Step:               StepAuthenticated,
		User:               user,
		Session:            session,
		EnrollmentRequired: s.policy.Required && !enrolled,
	}, nil
}
