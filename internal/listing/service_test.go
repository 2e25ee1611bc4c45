package listing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/security"
)

// mockListingRepo はListingRepositoryのモック。
type mockListingRepo struct {
	createFn       func(ctx context.Context, listing *model.Listing) error
	listPublicFn   func(ctx context.Context, limit int) ([]*model.Listing, error)
	listByUserIDFn func(ctx context.Context, userID int64) ([]*model.Listing, error)
	deleteOwnedFn  func(ctx context.Context, userID, listingID int64) (bool, error)
}

func (m *mockListingRepo) Create(ctx context.Context, listing *model.Listing) error {
	if m.createFn != nil {
		return m.createFn(ctx, listing)
	}
	listing.ID = 1
	return nil
}

func (m *mockListingRepo) ListPublic(ctx context.Context, limit int) ([]*model.Listing, error) {
	if m.listPublicFn != nil {
		return m.listPublicFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockListingRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.Listing, error) {
	if m.listByUserIDFn != nil {
		return m.listByUserIDFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockListingRepo) DeleteOwned(ctx context.Context, userID, listingID int64) (bool, error) {
	if m.deleteOwnedFn != nil {
		return m.deleteOwnedFn(ctx, userID, listingID)
	}
	return false, nil
}

func newTestService(repo *mockListingRepo) *Service {
	return NewService(repo, security.NewContentSanitizer())
}

func TestClean(t *testing.T) {
	svc := newTestService(&mockListingRepo{})

	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"前後の空白を除去", "  本  ", 120, "本"},
		{"連続する空白を1つにまとめる", "a \n\t  b", 120, "a b"},
		{"scriptを除去", `<script>alert(1)</script>本`, 120, "本"},
		{"許可タグは残す", "<b>美品</b>", 120, "<b>美品</b>"},
		{"NFCに正規化", "e\u0301", 120, "\u00e9"},
		{"最大長で切り詰め", strings.Repeat("あ", 130), 120, strings.Repeat("あ", 120)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.Clean(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestClean_TruncatedMarkupStaysSafe(t *testing.T) {
	svc := newTestService(&mockListingRepo{})

	input := strings.Repeat("x", 110) + `<a href="https://example.com/very/long/path">link</a>`
	got := svc.Clean(input, 120)

	if utf8.RuneCountInString(got) > 120 {
		t.Errorf("Clean result exceeds max length: %d", utf8.RuneCountInString(got))
	}
	if strings.Contains(got, "<a") {
		t.Errorf("Clean left a broken tag: %q", got)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"1500", 1500, false},
		{" 42 ", 42, false},
		{"100000", 100000, false},
		{"100001", 0, true},
		{"-1", 0, true},
		{"12.5", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePrice(tt.raw)
			if tt.wantErr {
				if model.CategoryOf(err) != model.CategoryValidation {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParsePrice(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCreate_Success(t *testing.T) {
	var saved *model.Listing
	repo := &mockListingRepo{
		createFn: func(_ context.Context, listing *model.Listing) error {
			listing.ID = 7
			saved = listing
			return nil
		},
	}
	svc := newTestService(repo)

	got, err := svc.Create(context.Background(), 3, CreateInput{
		Title:       "  <b>Go言語</b>  入門 ",
		Description: `<p onclick="x()">状態良好</p>`,
		Price:       "1200",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != 7 || saved == nil {
		t.Fatalf("expected listing to be saved, got %+v", got)
	}
	if saved.UserID != 3 {
		t.Errorf("UserID = %d, want 3", saved.UserID)
	}
	if saved.Title != "<b>Go言語</b> 入門" {
		t.Errorf("Title = %q", saved.Title)
	}
	if saved.Description == nil || *saved.Description != "<p>状態良好</p>" {
		t.Errorf("Description = %v", saved.Description)
	}
	if saved.Price != 1200 {
		t.Errorf("Price = %d, want 1200", saved.Price)
	}
}

func TestCreate_EmptyDescriptionIsNil(t *testing.T) {
	var saved *model.Listing
	repo := &mockListingRepo{
		createFn: func(_ context.Context, listing *model.Listing) error {
			saved = listing
			return nil
		},
	}
	svc := newTestService(repo)

	if _, err := svc.Create(context.Background(), 1, CreateInput{Title: "本", Description: "<script>x</script>", Price: "0"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Description != nil {
		t.Errorf("expected nil description, got %q", *saved.Description)
	}
}

func TestCreate_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   CreateInput
		wantMsg string
	}{
		{"価格が不正", CreateInput{Title: "本", Price: "abc"}, "Invalid price."},
		{"価格が範囲外", CreateInput{Title: "本", Price: "100001"}, "Invalid price."},
		{"タイトルが空", CreateInput{Title: "   ", Price: "100"}, "Title is required."},
		{"サニタイズ後にタイトルが空", CreateInput{Title: "<script>x</script>", Price: "100"}, "Title is required."},
		{"価格とタイトルの両方が不正なら価格を先に報告", CreateInput{Title: "", Price: "-5"}, "Invalid price."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			repo := &mockListingRepo{
				createFn: func(context.Context, *model.Listing) error {
					called = true
					return nil
				},
			}
			svc := newTestService(repo)

			_, err := svc.Create(context.Background(), 1, tt.input)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Category != model.CategoryValidation || apiErr.Message != tt.wantMsg {
				t.Errorf("got %s %q, want validation %q", apiErr.Category, apiErr.Message, tt.wantMsg)
			}
			if called {
				t.Error("repository must not be called on validation error")
			}
		})
	}
}

func TestCreate_RepositoryError(t *testing.T) {
	repo := &mockListingRepo{
		createFn: func(context.Context, *model.Listing) error {
			return errors.New("connection refused")
		},
	}
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), 1, CreateInput{Title: "本", Price: "1"})
	if model.CategoryOf(err) != model.CategorySystem {
		t.Errorf("expected system error, got %v", err)
	}
}

func TestListPublic_UsesLimit(t *testing.T) {
	var gotLimit int
	repo := &mockListingRepo{
		listPublicFn: func(_ context.Context, limit int) ([]*model.Listing, error) {
			gotLimit = limit
			return []*model.Listing{{ID: 2}, {ID: 1}}, nil
		},
	}
	svc := newTestService(repo)

	got, err := svc.ListPublic(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotLimit != PublicListLimit {
		t.Errorf("limit = %d, want %d", gotLimit, PublicListLimit)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestListMine(t *testing.T) {
	repo := &mockListingRepo{
		listByUserIDFn: func(_ context.Context, userID int64) ([]*model.Listing, error) {
			if userID != 9 {
				t.Errorf("userID = %d, want 9", userID)
			}
			return []*model.Listing{{ID: 1, UserID: 9}}, nil
		},
	}
	svc := newTestService(repo)

	got, err := svc.ListMine(context.Background(), 9)
	if err != nil || len(got) != 1 {
		t.Fatalf("ListMine = %v, %v", got, err)
	}
}

func TestDelete(t *testing.T) {
	t.Run("所有者は削除できる", func(t *testing.T) {
		repo := &mockListingRepo{
			deleteOwnedFn: func(_ context.Context, userID, listingID int64) (bool, error) {
				return userID == 1 && listingID == 5, nil
			},
		}
		if err := newTestService(repo).Delete(context.Background(), 1, 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("他人の出品はNotFound", func(t *testing.T) {
		repo := &mockListingRepo{
			deleteOwnedFn: func(context.Context, int64, int64) (bool, error) {
				return false, nil
			},
		}
		err := newTestService(repo).Delete(context.Background(), 2, 5)
		if model.CodeOf(err) != model.ErrCodeListingNotFound {
			t.Errorf("expected listing not found, got %v", err)
		}
	})

	t.Run("DBエラーはsystem", func(t *testing.T) {
		repo := &mockListingRepo{
			deleteOwnedFn: func(context.Context, int64, int64) (bool, error) {
				return false, errors.New("db down")
			},
		}
		err := newTestService(repo).Delete(context.Background(), 1, 5)
		if model.CategoryOf(err) != model.CategorySystem {
			t.Errorf("expected system error, got %v", err)
		}
	})
}
