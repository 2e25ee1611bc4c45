// Package auth はパスワード認証、ロックアウト、2要素認証、OAuthによるアカウント紐付け、
// セッション発行を提供する。
package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/bookmarket/internal/metrics"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/repository"
)

// PasswordHasher はパスワードハッシュの生成と検証のインターフェース。
// password.Hasherが実装する。Verifyはエラーを返さず、不正なハッシュにはfalseを返す。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(encodedHash, password string) bool
}

// LockoutPolicy は連続ログイン失敗によるロックの閾値と期間。
type LockoutPolicy struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
}

// DefaultLockoutPolicy は5回連続失敗で3分間ロックする。
var DefaultLockoutPolicy = LockoutPolicy{
	MaxFailedAttempts: 5,
	LockDuration:      3 * time.Minute,
}

// Authenticator はメールアドレスとパスワードによる認証とロックアウトを行う。
type Authenticator struct {
	users   repository.UserRepository
	hasher  PasswordHasher
	policy  LockoutPolicy
	metrics metrics.MetricsCollector
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(
	users repository.UserRepository,
	hasher PasswordHasher,
	policy LockoutPolicy,
	collector metrics.MetricsCollector,
) *Authenticator {
	return &Authenticator{
		users:   users,
		hasher:  hasher,
		policy:  policy,
		metrics: collector,
		now:     time.Now,
	}
}

// NormalizeEmail は前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate は認証に成功したユーザーを返す。
//
// 存在しないユーザー、パスワード不一致、ロック中はいずれも*model.APIError（カテゴリauth）を返し、
// 呼び出し元には区別できないメッセージとする。ロック中は失敗回数を更新しない。
// データストアの障害はカテゴリsystemのエラーとして返す。
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	email = NormalizeEmail(email)

	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		a.metrics.RecordLogin(metrics.LoginError)
		return nil, model.NewInfrastructureError(err)
	}
	if user == nil || !user.IsActive {
		// 応答時間からアカウントの存在を推測されないよう、ダミーのハッシュ検証を行う
		a.hasher.Verify(a.dummy(), password)
		a.metrics.RecordLogin(metrics.LoginInvalid)
		return nil, model.NewInvalidCredentialsError()
	}

	now := a.now()
	if user.IsLocked(now) {
		slog.Warn("login attempt on locked account",
			slog.Int64("user_id", user.ID),
			slog.Time("locked_until", *user.LockedUntil),
		)
		a.metrics.RecordLogin(metrics.LoginLocked)
		return nil, model.NewAccountLockedError()
	}

	if !user.HasPassword() || !a.hasher.Verify(*user.PasswordHash, password) {
		return nil, a.recordFailure(ctx, user, now)
	}

	reset, err := a.users.ResetLoginFailures(ctx, user.ID, now)
	if err != nil {
		a.metrics.RecordLogin(metrics.LoginError)
		return nil, model.NewInfrastructureError(err)
	}
	if !reset {
		// 読み取り後に別リクエストがロックを確定させた
		a.metrics.RecordLogin(metrics.LoginLocked)
		return nil, model.NewAccountLockedError()
	}

	user.FailedAttempts = 0
	user.LockedUntil = nil
	user.UpdatedAt = now
	return user, nil
}

// recordFailure は失敗回数を1文の条件付き更新で加算し、閾値到達時はロックする。
func (a *Authenticator) recordFailure(ctx context.Context, user *model.User, now time.Time) error {
	state, err := a.users.RecordLoginFailure(ctx, user.ID, now, a.policy.MaxFailedAttempts, now.Add(a.policy.LockDuration))
	if err != nil {
		a.metrics.RecordLogin(metrics.LoginError)
		return model.NewInfrastructureError(err)
	}
	if state == nil {
		a.metrics.RecordLogin(metrics.LoginLocked)
		return model.NewAccountLockedError()
	}

	if state.LockedUntil != nil {
		slog.Warn("account locked after consecutive failures",
			slog.Int64("user_id", user.ID),
			slog.Int("failed_attempts", state.FailedAttempts),
			slog.Time("locked_until", *state.LockedUntil),
		)
		a.metrics.RecordLockout()
	}
	a.metrics.RecordLogin(metrics.LoginInvalid)
	return model.NewInvalidCredentialsError()
}

// dummy は存在しないユーザー向けの比較用ハッシュを返す。
func (a *Authenticator) dummy() string {
	a.dummyOnce.Do(func() {
		h, err := a.hasher.Hash("dummy-password-for-timing")
		if err != nil {
			return
		}
		a.dummyHash = h
	})
	return a.dummyHash
}
