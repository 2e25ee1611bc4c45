package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/session"
	"github.com/hitoshi/bookmarket/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Get(ctx context.Context, userID int64) (*model.User, error)
	Profile(ctx context.Context, userID int64) (*user.Profile, error)
	// Withdraw はユーザーの退会処理を実行する。
	// セッション、出品、TOTPシークレット、OAuth連携を一括削除する。
	Withdraw(ctx context.Context, userID int64) error
}

// UserHandler はアカウント管理のHTTPハンドラー。
type UserHandler struct {
	pages    *Pages
	sessions SessionWriter
	service  UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(pages *Pages, sessions SessionWriter, service UserServiceInterface) *UserHandler {
	return &UserHandler{
		pages:    pages,
		sessions: sessions,
		service:  service,
	}
}

type accountPage struct {
	Profile *user.Profile
}

// Account はアカウント情報と連携済みプロバイダーを表示する。
// GET /account
func (h *UserHandler) Account(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pages.currentUserID(w, r)
	if !ok {
		return
	}

	profile, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		h.pages.fail(w, r, err, pathHome)
		return
	}
	h.pages.render(w, r, pageAccount, "Account", accountPage{Profile: profile})
}

// Withdraw はユーザーの退会処理を実行し、Cookieを削除する。
// POST /account/delete
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pages.currentUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		h.pages.fail(w, r, err, pathHome)
		return
	}

	h.sessions.Clear(w)
	h.pages.redirect(w, r, session.FlashInfo, "Your account has been deleted.", pathHome)
}
