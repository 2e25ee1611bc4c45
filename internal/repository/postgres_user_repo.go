package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/bookmarket/internal/model"
)

const userColumns = `id, email, password_hash, is_active, failed_attempts, locked_until, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var passwordHash sql.NullString
	var lockedUntil sql.NullTime
	err := row.Scan(
		&user.ID, &user.Email, &passwordHash, &user.IsActive,
		&user.FailedAttempts, &lockedUntil, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		user.LockedUntil = &t
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成し、採番されたIDとタイムスタンプをuserに設定する。
// メールアドレスが重複する場合はErrConflictを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, is_active)
		 VALUES ($1, $2, $3)
		 RETURNING id, failed_attempts, created_at, updated_at`,
		user.Email, user.PasswordHash, user.IsActive,
	).Scan(&user.ID, &user.FailedAttempts, &user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// RecordLoginFailure はロックされていないユーザーの失敗回数を1増やす。
// 失敗回数は認証成功時にのみ0に戻るため、ロック期限切れ後の失敗は直ちに再ロックされる。
// SET句の右辺はすべて更新前の値を参照するため、1文でカウンタとロック期限を整合的に更新できる。
func (r *PostgresUserRepo) RecordLoginFailure(ctx context.Context, id int64, now time.Time, threshold int, lockUntil time.Time) (*model.LockoutState, error) {
	state := &model.LockoutState{}
	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET
		   failed_attempts = failed_attempts + 1,
		   locked_until = CASE
		     WHEN failed_attempts + 1 >= $3::int THEN $4::timestamptz
		     ELSE NULL
		   END,
		   updated_at = $2::timestamptz
		 WHERE id = $1 AND (locked_until IS NULL OR locked_until <= $2::timestamptz)
		 RETURNING failed_attempts, locked_until`,
		id, now, threshold, lockUntil,
	).Scan(&state.FailedAttempts, &lockedUntil)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		state.LockedUntil = &t
	}
	return state, nil
}

// ResetLoginFailures はロックされていないユーザーの失敗回数とロック期限をクリアする。
func (r *PostgresUserRepo) ResetLoginFailures(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		 WHERE id = $1 AND (locked_until IS NULL OR locked_until <= $2)`,
		id, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reset login failures: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するoauth_accounts、totp_secrets、sessions、listingsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %d", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
