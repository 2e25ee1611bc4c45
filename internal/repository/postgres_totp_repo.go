package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/bookmarket/internal/model"
)

// PostgresTOTPSecretRepo はPostgreSQLを使用したTOTPシークレットリポジトリ。
type PostgresTOTPSecretRepo struct {
	db *sql.DB
}

// NewPostgresTOTPSecretRepo はPostgresTOTPSecretRepoを生成する。
func NewPostgresTOTPSecretRepo(db *sql.DB) *PostgresTOTPSecretRepo {
	return &PostgresTOTPSecretRepo{db: db}
}

// FindByUserID は指定ユーザーのシークレットを取得する。見つからない場合はnilを返す。
func (r *PostgresTOTPSecretRepo) FindByUserID(ctx context.Context, userID int64) (*model.TOTPSecret, error) {
	secret := &model.TOTPSecret{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, secret, created_at FROM totp_secrets WHERE user_id = $1`,
		userID,
	).Scan(&secret.UserID, &secret.Secret, &secret.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find totp secret: %w", err)
	}
	return secret, nil
}

// Create はシークレットを作成する。
// user_id（主キー）またはsecret（一意制約）が重複する場合はErrConflictを返す。
func (r *PostgresTOTPSecretRepo) Create(ctx context.Context, secret *model.TOTPSecret) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO totp_secrets (user_id, secret) VALUES ($1, $2) RETURNING created_at`,
		secret.UserID, secret.Secret,
	).Scan(&secret.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert totp secret: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーのシークレットを削除する。
func (r *PostgresTOTPSecretRepo) DeleteByUserID(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM totp_secrets WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete totp secret: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TOTPSecretRepository = (*PostgresTOTPSecretRepo)(nil)
