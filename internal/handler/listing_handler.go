package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bookmarket/internal/listing"
	"github.com/hitoshi/bookmarket/internal/middleware"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/session"
)

const pathMyListings = "/listings/mine"

// ListingServiceInterface は出品ハンドラーが必要とするサービスインターフェース。
type ListingServiceInterface interface {
	Create(ctx context.Context, userID int64, in listing.CreateInput) (*model.Listing, error)
	ListPublic(ctx context.Context) ([]*model.Listing, error)
	ListMine(ctx context.Context, userID int64) ([]*model.Listing, error)
	Delete(ctx context.Context, userID, listingID int64) error
}

// ListingHandler は出品の一覧・作成・削除のHTTPハンドラー。
type ListingHandler struct {
	pages   *Pages
	service ListingServiceInterface
}

// NewListingHandler はListingHandlerを生成する。
func NewListingHandler(pages *Pages, service ListingServiceInterface) *ListingHandler {
	return &ListingHandler{pages: pages, service: service}
}

type listingsPage struct {
	Listings []*model.Listing
}

// Index は公開中の出品一覧と出品フォームを表示する。
// GET /
func (h *ListingHandler) Index(w http.ResponseWriter, r *http.Request) {
	listings, err := h.service.ListPublic(r.Context())
	if err != nil {
		h.pages.fail(w, r, err, pathHome)
		return
	}
	h.pages.render(w, r, pageIndex, "Books", listingsPage{Listings: listings})
}

// Create は出品を作成する。
// POST /listings
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pages.currentUserID(w, r)
	if !ok {
		return
	}

	in := listing.CreateInput{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		Price:       r.PostFormValue("price"),
	}
	if _, err := h.service.Create(r.Context(), userID, in); err != nil {
		h.pages.fail(w, r, err, pathHome)
		return
	}
	http.Redirect(w, r, pathHome, http.StatusSeeOther)
}

// Mine はログイン中ユーザーの出品一覧を表示する。
// GET /listings/mine
func (h *ListingHandler) Mine(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pages.currentUserID(w, r)
	if !ok {
		return
	}

	listings, err := h.service.ListMine(r.Context(), userID)
	if err != nil {
		h.pages.fail(w, r, err, pathHome)
		return
	}
	h.pages.render(w, r, pageMyListings, "My listings", listingsPage{Listings: listings})
}

// Delete は自分の出品を削除する。
// POST /listings/{id}/delete
func (h *ListingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pages.currentUserID(w, r)
	if !ok {
		return
	}

	listingID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || listingID <= 0 {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewListingNotFoundError())
		return
	}

	if err := h.service.Delete(r.Context(), userID, listingID); err != nil {
		h.pages.fail(w, r, err, pathMyListings)
		return
	}
	h.pages.redirect(w, r, session.FlashSuccess, "Listing deleted.", pathMyListings)
}
