// Package listing は出品の作成、一覧、削除を行う。
package listing

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/repository"
)

const (
	// MaxTitleLength はタイトルの最大文字数（rune数）。
	MaxTitleLength = 120
	// MaxDescriptionLength は説明文の最大文字数（rune数）。
	MaxDescriptionLength = 2000
	// MaxPrice は価格の上限。
	MaxPrice = 100000
	// PublicListLimit はトップページに表示する出品の最大件数。
	PublicListLimit = 100
)

// Sanitizer は出品テキストのHTMLサニタイザー。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// CreateInput は出品フォームの入力値。Priceは未解析の文字列のまま受け取る。
type CreateInput struct {
	Title       string
	Description string
	Price       string
}

// Service は出品に関するビジネスロジックを提供する。
type Service struct {
	listings  repository.ListingRepository
	sanitizer Sanitizer
}

// NewService はServiceを生成する。
func NewService(listings repository.ListingRepository, sanitizer Sanitizer) *Service {
	return &Service{
		listings:  listings,
		sanitizer: sanitizer,
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Clean はユーザー入力をNFC正規化、サニタイズ、空白の畳み込みの順に処理し、maxLen文字に切り詰める。
// 切り詰めでタグが途中で切れた場合に備え、切り詰め後に再度サニタイズする。
func (s *Service) Clean(value string, maxLen int) string {
	v := strings.TrimSpace(norm.NFC.String(value))
	v = s.sanitizer.Sanitize(v)
	v = strings.TrimSpace(whitespaceRun.ReplaceAllString(v, " "))
	if utf8.RuneCountInString(v) <= maxLen {
		return v
	}
	v = string([]rune(v)[:maxLen])
	return strings.TrimSpace(s.sanitizer.Sanitize(v))
}

// ParsePrice は価格文字列を0以上MaxPrice以下の整数として解析する。
func ParsePrice(raw string) (int, error) {
	price, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || price < 0 || price > MaxPrice {
		return 0, model.NewValidationError("Invalid price.")
	}
	return price, nil
}

// Create は入力を検証、サニタイズして出品を作成する。
// 価格の検証をタイトルより先に行う。
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (*model.Listing, error) {
	title := s.Clean(in.Title, MaxTitleLength)
	description := s.Clean(in.Description, MaxDescriptionLength)

	price, err := ParsePrice(in.Price)
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, model.NewValidationError("Title is required.")
	}

	listing := &model.Listing{
		UserID: userID,
		Title:  title,
		Price:  price,
	}
	if description != "" {
		listing.Description = &description
	}

	if err := s.listings.Create(ctx, listing); err != nil {
		return nil, model.NewInfrastructureError(fmt.Errorf("failed to create listing: %w", err))
	}

	slog.Info("listing created",
		slog.Int64("user_id", userID),
		slog.Int64("listing_id", listing.ID),
	)
	return listing, nil
}

// ListPublic は全ユーザーの出品を新しい順に返す。
func (s *Service) ListPublic(ctx context.Context) ([]*model.Listing, error) {
	listings, err := s.listings.ListPublic(ctx, PublicListLimit)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	return listings, nil
}

// ListMine はユーザー自身の出品を新しい順に返す。
func (s *Service) ListMine(ctx context.Context, userID int64) ([]*model.Listing, error) {
	listings, err := s.listings.ListByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	return listings, nil
}

// Delete はユーザーが所有する出品を削除する。
// 存在しない場合と他人の出品の場合はどちらもNotFoundとする。
func (s *Service) Delete(ctx context.Context, userID, listingID int64) error {
	deleted, err := s.listings.DeleteOwned(ctx, userID, listingID)
	if err != nil {
		return model.NewInfrastructureError(err)
	}
	if !deleted {
		return model.NewListingNotFoundError()
	}
	slog.Info("listing deleted",
		slog.Int64("user_id", userID),
		slog.Int64("listing_id", listingID),
	)
	return nil
}
