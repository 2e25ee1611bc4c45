// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/bookmarket/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// ロックアウトカウンタの更新は1文の条件付きUPDATEで行い、同時試行でも更新が失われない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDとタイムスタンプをuserに設定する。
	// メールアドレスが重複する場合はErrConflictを返す。
	Create(ctx context.Context, user *model.User) error

	// RecordLoginFailure はロックされていないユーザーの失敗回数を1増やす。
	// 更新後の回数がthreshold以上になった場合はlocked_untilにlockUntilを設定する。
	// 前回のロックが失効済みの場合、回数は1から数え直す。
	// 指定時刻にロック中で更新されなかった場合はnilを返す。
	RecordLoginFailure(ctx context.Context, id int64, now time.Time, threshold int, lockUntil time.Time) (*model.LockoutState, error)

	// ResetLoginFailures はロックされていないユーザーの失敗回数とロック期限をクリアする。
	// 指定時刻にロック中で更新されなかった場合はfalseを返す。
	ResetLoginFailures(ctx context.Context, id int64, now time.Time) (bool, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するoauth_accounts、totp_secrets、sessions、listingsはCASCADE削除される。
	DeleteByID(ctx context.Context, id int64) error
}

// TOTPSecretRepository はTOTPシークレットの永続化インターフェース。
type TOTPSecretRepository interface {
	// FindByUserID は指定ユーザーのシークレットを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID int64) (*model.TOTPSecret, error)

	// Create はシークレットを作成する。
	// 同一ユーザーのシークレット、または同一シークレット値が既に存在する場合はErrConflictを返す。
	Create(ctx context.Context, secret *model.TOTPSecret) error

	// DeleteByUserID は指定ユーザーのシークレットを削除する。存在しなくてもエラーにしない。
	DeleteByUserID(ctx context.Context, userID int64) error
}

// OAuthAccountRepository は外部プロバイダー紐付け情報の永続化インターフェース。
type OAuthAccountRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idで紐付けを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.OAuthAccount, error)

	// ListByUserID はユーザーの紐付け一覧を返す。
	ListByUserID(ctx context.Context, userID int64) ([]*model.OAuthAccount, error)

	// Create は紐付けを作成する。(provider, provider_user_id) が重複する場合はErrConflictを返す。
	Create(ctx context.Context, account *model.OAuthAccount) error

	// UpdateTokens は紐付けのトークン情報のみを更新する。
	UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiresAt *time.Time, now time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。IDが衝突した場合はErrConflictを返す。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は有効なセッションを取得する。期限切れ、または無効化されたユーザーのものはnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID はユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID int64) error
}

// ListingRepository は出品データの永続化インターフェース。
type ListingRepository interface {
	// Create は出品を作成し、採番されたIDと作成日時をlistingに設定する。
	Create(ctx context.Context, listing *model.Listing) error
	// ListPublic は全ユーザーの出品を新しい順に最大limit件返す。
	ListPublic(ctx context.Context, limit int) ([]*model.Listing, error)
	// ListByUserID はユーザーの出品を新しい順に返す。
	ListByUserID(ctx context.Context, userID int64) ([]*model.Listing, error)
	// DeleteOwned は所有者が一致する出品を削除する。削除した場合はtrueを返す。
	DeleteOwned(ctx context.Context, userID, listingID int64) (bool, error)
}
