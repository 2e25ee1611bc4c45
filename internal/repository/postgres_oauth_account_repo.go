package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/bookmarket/internal/model"
)

const oauthAccountColumns = `id, user_id, provider, provider_user_id, access_token, refresh_token, expires_at, created_at, updated_at`

// PostgresOAuthAccountRepo はPostgreSQLを使用したOAuth紐付けリポジトリ。
type PostgresOAuthAccountRepo struct {
	db *sql.DB
}

// NewPostgresOAuthAccountRepo はPostgresOAuthAccountRepoを生成する。
func NewPostgresOAuthAccountRepo(db *sql.DB) *PostgresOAuthAccountRepo {
	return &PostgresOAuthAccountRepo{db: db}
}

func scanOAuthAccount(row rowScanner) (*model.OAuthAccount, error) {
	account := &model.OAuthAccount{}
	var refreshToken sql.NullString
	var expiresAt sql.NullTime
	err := row.Scan(
		&account.ID, &account.UserID, &account.Provider, &account.ProviderUserID,
		&account.AccessToken, &refreshToken, &expiresAt, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if refreshToken.Valid {
		account.RefreshToken = &refreshToken.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		account.ExpiresAt = &t
	}
	return account, nil
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idで紐付けを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresOAuthAccountRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.OAuthAccount, error) {
	account, err := scanOAuthAccount(r.db.QueryRowContext(ctx,
		`SELECT `+oauthAccountColumns+`
		 FROM oauth_accounts
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find oauth account: %w", err)
	}
	return account, nil
}

// ListByUserID はユーザーの紐付け一覧をプロバイダー名順に返す。
func (r *PostgresOAuthAccountRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.OAuthAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+oauthAccountColumns+`
		 FROM oauth_accounts
		 WHERE user_id = $1
		 ORDER BY provider, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list oauth accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.OAuthAccount
	for rows.Next() {
		account, err := scanOAuthAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan oauth account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate oauth accounts: %w", err)
	}
	return accounts, nil
}

// Create は紐付けを作成する。(provider, provider_user_id) が重複する場合はErrConflictを返す。
func (r *PostgresOAuthAccountRepo) Create(ctx context.Context, account *model.OAuthAccount) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO oauth_accounts (user_id, provider, provider_user_id, access_token, refresh_token, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		account.UserID, account.Provider, account.ProviderUserID,
		account.AccessToken, account.RefreshToken, account.ExpiresAt,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert oauth account: %w", err)
	}
	return nil
}

// UpdateTokens は紐付けのトークン情報のみを更新する。usersテーブルには触れない。
func (r *PostgresOAuthAccountRepo) UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiresAt *time.Time, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE oauth_accounts
		 SET access_token = $2, refresh_token = $3, expires_at = $4, updated_at = $5
		 WHERE id = $1`,
		id, accessToken, refreshToken, expiresAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update oauth tokens: %w", err)
	}
	return nil
}

// compile-time interface check
var _ OAuthAccountRepository = (*PostgresOAuthAccountRepo)(nil)
