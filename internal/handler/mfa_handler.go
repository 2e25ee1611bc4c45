package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/bookmarket/internal/auth"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/session"
)

// MFAServiceInterface は2要素認証の登録管理のインターフェース。
type MFAServiceInterface interface {
	Enable(ctx context.Context, userID int64) (*auth.Enrollment, error)
	Status(ctx context.Context, userID int64) (*auth.Enrollment, error)
	QRCode(ctx context.Context, userID int64) ([]byte, error)
	Confirm(ctx context.Context, userID int64, code string) error
	Disable(ctx context.Context, userID int64) error
	HasSecret(ctx context.Context, userID int64) (bool, error)
}

// MFAHandler は2要素認証の登録・確認・解除のHTTPハンドラー。
// すべてのルートは認証済みであることを前提とする。
type MFAHandler struct {
	pages   *Pages
	service MFAServiceInterface
}

// NewMFAHandler はMFAHandlerを生成する。
func NewMFAHandler(pages *Pages, service MFAServiceInterface) *MFAHandler {
	return &MFAHandler{pages: pages, service: service}
}

type mfaPage struct {
	Enrollment *auth.Enrollment
}

// EnableForm は登録状態とQRコードを表示する。
// GET /auth/mfa/enable
func (h *MFAHandler) EnableForm(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pages.currentUserID(w, r)
	if !ok {
		return
	}

	enrollment, err := h.service.Status(r.Context(), userID)
	if err != nil {
		h.pages.fail(w, r, err, pathHome)
		return
	}
	h.pages.render(w, r, pageMFAEnable, "Two-Factor Authentication", mfaPage{Enrollment: enrollment})
}

// Enable はシークレットを作成する。登録済みの場合は既存のシークレットをそのまま使う。
// POST /auth/mfa/enable
func (h *MFAHandler) Enable(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pages.currentUserID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.Enable(r.Context(), userID); err != nil {
		h.pages.fail(w, r, err, pathMFAEnable)
		return
	}
	h.pages.redirect(w, r, session.FlashSuccess, "2FA enabled. Scan the QR with your Authenticator app.", pathMFAEnable)
}

// QRCode はプロビジョニングURIのQRコードをPNGで返す。
// GET /auth/mfa/qr
func (h *MFAHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pages.currentUserID(w, r)
	if !ok {
		return
	}

	png, err := h.service.QRCode(r.Context(), userID)
	if err != nil {
		h.failEnrollment(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// Confirm は1回分のコードを検証して認証アプリの設定を確認する。
// POST /auth/mfa/confirm
func (h *MFAHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pages.currentUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Confirm(r.Context(), userID, strings.TrimSpace(r.PostFormValue("code"))); err != nil {
		h.failEnrollment(w, r, err)
		return
	}
	h.pages.redirect(w, r, session.FlashSuccess, "2FA setup confirmed.", pathMFAEnable)
}

// Disable はシークレットを削除する。
// POST /auth/mfa/disable
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pages.currentUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Disable(r.Context(), userID); err != nil {
		h.pages.fail(w, r, err, pathMFAEnable)
		return
	}
	h.pages.redirect(w, r, session.FlashSuccess, "2FA disabled for your account.", pathMFAEnable)
}

func (h *MFAHandler) failEnrollment(w http.ResponseWriter, r *http.Request, err error) {
	if model.CodeOf(err) == model.ErrCodeTOTPNotEnabled {
		h.pages.redirect(w, r, session.FlashError, "Enable 2FA first.", pathMFAEnable)
		return
	}
	h.pages.fail(w, r, err, pathMFAEnable)
}
