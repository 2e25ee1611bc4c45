package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/bookmarket/internal/model"
)

// PostgresListingRepo はPostgreSQLを使用した出品リポジトリ。
type PostgresListingRepo struct {
	db *sql.DB
}

// NewPostgresListingRepo はPostgresListingRepoを生成する。
func NewPostgresListingRepo(db *sql.DB) *PostgresListingRepo {
	return &PostgresListingRepo{db: db}
}

// Create は出品を作成し、採番されたIDと作成日時をlistingに設定する。
func (r *PostgresListingRepo) Create(ctx context.Context, listing *model.Listing) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO listings (user_id, title, description, price)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		listing.UserID, listing.Title, listing.Description, listing.Price,
	).Scan(&listing.ID, &listing.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert listing: %w", err)
	}
	return nil
}

// ListPublic は全ユーザーの出品を新しい順に最大limit件返す。
func (r *PostgresListingRepo) ListPublic(ctx context.Context, limit int) ([]*model.Listing, error) {
	return r.query(ctx,
		`SELECT id, user_id, title, description, price, created_at
		 FROM listings
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
}

// ListByUserID はユーザーの出品を新しい順に返す。
func (r *PostgresListingRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.Listing, error) {
	return r.query(ctx,
		`SELECT id, user_id, title, description, price, created_at
		 FROM listings
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
}

// DeleteOwned は所有者が一致する出品を削除する。削除した場合はtrueを返す。
func (r *PostgresListingRepo) DeleteOwned(ctx context.Context, userID, listingID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM listings WHERE id = $1 AND user_id = $2`,
		listingID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete listing: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func (r *PostgresListingRepo) query(ctx context.Context, query string, args ...any) ([]*model.Listing, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []*model.Listing
	for rows.Next() {
		l := &model.Listing{}
		var description sql.NullString
		if err := rows.Scan(&l.ID, &l.UserID, &l.Title, &description, &l.Price, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		if description.Valid {
			l.Description = &description.String
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}
	return listings, nil
}

// compile-time interface check
var _ ListingRepository = (*PostgresListingRepo)(nil)
