package model

import (
	"errors"
	"fmt"
)

// エラーカテゴリ。ハンドラーはカテゴリごとにレスポンスを決定する。
const (
	CategoryValidation    = "validation"
	CategoryAuth          = "auth"
	CategoryConflict      = "conflict"
	CategoryUpstream      = "upstream"
	CategorySystem        = "system"
	CategoryNotFound      = "not_found"
	CategoryMisconfigured = "misconfigured"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Errには原因となった内部エラーを保持し、ログ出力にのみ使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, auth, conflict, upstream, system, not_found, misconfigured
	Action   string // ユーザー向け対処方法
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeInvalidInput           = "INVALID_INPUT"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeAccountLocked          = "ACCOUNT_LOCKED"
	ErrCodeInvalidTOTPCode        = "INVALID_TOTP_CODE"
	ErrCodeTOTPNotEnabled         = "TOTP_NOT_ENABLED"
	ErrCodeInvalidOAuthState      = "INVALID_OAUTH_STATE"
	ErrCodeOAuthIdentityMissing   = "OAUTH_IDENTITY_MISSING"
	ErrCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	ErrCodeUpstreamFailed         = "UPSTREAM_FAILED"
	ErrCodeInternal               = "INTERNAL_ERROR"
	ErrCodeProviderNotFound       = "PROVIDER_NOT_FOUND"
	ErrCodeProviderMisconfigured  = "PROVIDER_MISCONFIGURED"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeListingNotFound        = "LISTING_NOT_FOUND"
)

// invalidCredentialsMessage は認証失敗時の共通メッセージ。
// ユーザーの存在有無やロック状態を区別しない。
const invalidCredentialsMessage = "Invalid email or password."

// NewValidationError は入力値の形式エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  message,
		Category: CategoryValidation,
		Action:   "Correct the highlighted input and try again.",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードの不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  invalidCredentialsMessage,
		Category: CategoryAuth,
		Action:   "Check your email and password.",
	}
}

// NewAccountLockedError はロック中アカウントへのログイン試行エラーを生成する。
// メッセージは認証失敗と同一にする。
func NewAccountLockedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountLocked,
		Message:  invalidCredentialsMessage,
		Category: CategoryAuth,
		Action:   "Check your email and password.",
	}
}

// NewInvalidTOTPCodeError はTOTPコード不一致エラーを生成する。
func NewInvalidTOTPCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTOTPCode,
		Message:  "Invalid or expired code.",
		Category: CategoryAuth,
		Action:   "Enter the current 6-digit code from your authenticator app.",
	}
}

// NewTOTPNotEnabledError は2要素認証が未設定のアカウントに対する操作エラーを生成する。
func NewTOTPNotEnabledError() *APIError {
	return &APIError{
		Code:     ErrCodeTOTPNotEnabled,
		Message:  "2FA is not enabled for this account.",
		Category: CategoryValidation,
		Action:   "Enable 2FA first.",
	}
}

// NewInvalidOAuthStateError はOAuthのstate検証失敗エラーを生成する。
func NewInvalidOAuthStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOAuthState,
		Message:  "Authentication failed.",
		Category: CategoryAuth,
		Action:   "Start the sign-in again.",
	}
}

// NewOAuthIdentityMissingError はプロバイダーからユーザー識別子を取得できなかったエラーを生成する。
func NewOAuthIdentityMissingError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthIdentityMissing,
		Message:  fmt.Sprintf("Could not obtain user ID from %s.", provider),
		Category: CategoryAuth,
		Action:   "Start the sign-in again.",
	}
}

// NewEmailAlreadyRegisteredError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "Email already registered.",
		Category: CategoryConflict,
		Action:   "Log in with this email or use a different one.",
	}
}

// NewUpstreamError は外部プロバイダー呼び出しの失敗エラーを生成する。
func NewUpstreamError(provider string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  "Authentication failed.",
		Category: CategoryUpstream,
		Action:   fmt.Sprintf("Sign-in with %s failed. Please try again later.", provider),
		Err:      err,
	}
}

// NewInfrastructureError はデータストア障害などの内部エラーを生成する。
// 詳細はErrに保持し、ユーザーには一般的なメッセージのみを返す。
func NewInfrastructureError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Something went wrong.",
		Category: CategorySystem,
		Action:   "Please try again later.",
		Err:      err,
	}
}

// NewProviderNotFoundError は未知のOAuthプロバイダー指定エラーを生成する。
func NewProviderNotFoundError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotFound,
		Message:  fmt.Sprintf("Unknown provider: %s", provider),
		Category: CategoryNotFound,
		Action:   "Choose one of the listed sign-in providers.",
	}
}

// NewProviderMisconfiguredError はクライアント認証情報が未設定のプロバイダーエラーを生成する。
func NewProviderMisconfiguredError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderMisconfigured,
		Message:  fmt.Sprintf("Provider '%s' missing client_id/client_secret in environment.", provider),
		Category: CategoryMisconfigured,
		Action:   "Contact the site administrator.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: CategoryAuth,
		Action:   "Log in again.",
	}
}

// NewListingNotFoundError は削除対象の出品が存在しない、または所有者でない場合のエラーを生成する。
func NewListingNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeListingNotFound,
		Message:  "Listing not found.",
		Category: CategoryNotFound,
		Action:   "Reload your listings.",
	}
}

// CategoryOf はエラーのカテゴリを返す。
// APIError以外のエラーはsystemとして扱う。
func CategoryOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategorySystem
}

// CodeOf はエラーのエラーコードを返す。APIError以外は空文字列。
func CodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
