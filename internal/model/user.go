// Package model はドメインモデルを定義する。
package model

import "time"

// User はアカウントを表す。
// PasswordHashがnilのユーザーはOAuth専用アカウントであり、パスワードログインはできない。
type User struct {
	ID             int64
	Email          string
	PasswordHash   *string
	IsActive       bool
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsLocked は指定時刻にアカウントがロック中かどうかを返す。
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// HasPassword はパスワードログインが可能なアカウントかどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// LockoutState はログイン失敗記録後のカウンタとロック期限を表す。
type LockoutState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// TOTPSecret はユーザーごとのTOTP共有シークレット（base32）を表す。
// 1ユーザーにつき最大1件。無効化時はレコードごと削除される。
type TOTPSecret struct {
	UserID    int64
	Secret    string
	CreatedAt time.Time
}

// OAuthAccount は外部プロバイダーのIDとローカルユーザーの紐付けを表す。
// (Provider, ProviderUserID) はグローバルに一意。
type OAuthAccount struct {
	ID             int64
	UserID         int64
	Provider       string
	ProviderUserID string
	AccessToken    string
	RefreshToken   *string
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session はサーバー側で管理する認証済みセッションを表す。
// 2要素認証待ちのユーザーにはSessionは発行されない。
type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}
