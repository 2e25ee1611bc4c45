package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/bookmarket/internal/auth"
	"github.com/hitoshi/bookmarket/internal/middleware"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/session"
)

// 遷移先パス。
const (
	pathHome      = "/"
	pathLogin     = "/auth/login"
	pathRegister  = "/auth/register"
	pathVerify    = "/auth/verify"
	pathMFAEnable = "/auth/mfa/enable"
)

// LoginServiceInterface は認証ハンドラーが必要とするログインフローのインターフェース。
type LoginServiceInterface interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	VerifyTOTP(ctx context.Context, pendingUserID int64, code string) (*auth.LoginResult, error)
	EstablishSession(ctx context.Context, user *model.User) (*auth.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
}

// AccountServiceInterface はアカウント登録のインターフェース。
type AccountServiceInterface interface {
	Register(ctx context.Context, email, password string) (*model.User, error)
}

// ProviderLister はログイン画面に表示するOAuthプロバイダーを返す。
type ProviderLister interface {
	Providers() []*auth.Provider
}

// AuthHandler は登録・ログイン・TOTP検証・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	pages     *Pages
	sessions  SessionWriter
	login     LoginServiceInterface
	accounts  AccountServiceInterface
	providers ProviderLister
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	pages *Pages,
	sessions SessionWriter,
	login LoginServiceInterface,
	accounts AccountServiceInterface,
	providers ProviderLister,
) *AuthHandler {
	return &AuthHandler{
		pages:     pages,
		sessions:  sessions,
		login:     login,
		accounts:  accounts,
		providers: providers,
	}
}

type loginPage struct {
	Providers []*auth.Provider
}

// RegisterForm は登録画面を表示する。
// GET /auth/register
func (h *AuthHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	if isAuthenticated(r) {
		http.Redirect(w, r, pathHome, http.StatusSeeOther)
		return
	}
	h.pages.render(w, r, pageRegister, "Register", nil)
}

// Register はアカウントを作成し、そのままログインさせる。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.Register(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		h.pages.fail(w, r, err, pathRegister)
		return
	}

	result, err := h.login.EstablishSession(r.Context(), user)
	if err != nil {
		h.pages.fail(w, r, err, pathLogin)
		return
	}
	h.complete(w, r, result, "Registration successful.")
}

// LoginForm はログイン画面を表示する。
// GET /auth/login
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	if isAuthenticated(r) {
		http.Redirect(w, r, pathHome, http.StatusSeeOther)
		return
	}
	h.pages.render(w, r, pageLogin, "Log in", loginPage{Providers: h.providers.Providers()})
}

// Login はメールアドレスとパスワードを検証する。
// TOTP登録済みの場合は入力待ち状態にしてコード入力画面へ進める。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	result, err := h.login.Login(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		h.pages.fail(w, r, err, pathLogin)
		return
	}

	if result.Step == auth.StepTOTPPending {
		if err := h.sessions.SetPending(w, result.User.ID); err != nil {
			h.pages.fail(w, r, model.NewInfrastructureError(err), pathLogin)
			return
		}
		h.pages.redirect(w, r, session.FlashInfo, "Password OK. Enter your 6-digit code.", pathVerify)
		return
	}
	h.complete(w, r, result, "Login successful.")
}

// VerifyForm はTOTPコード入力画面を表示する。
// GET /auth/verify
func (h *AuthHandler) VerifyForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.pendingUserID(w, r); !ok {
		return
	}
	h.pages.render(w, r, pageVerify, "Verify", nil)
}

// Verify は入力待ちユーザーのTOTPコードを検証する。
// 不一致の場合は入力待ち状態のままコード入力画面へ戻す。
// POST /auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	pendingUserID, ok := h.pendingUserID(w, r)
	if !ok {
		return
	}

	result, err := h.login.VerifyTOTP(r.Context(), pendingUserID, strings.TrimSpace(r.PostFormValue("code")))
	if err != nil {
		switch model.CodeOf(err) {
		case model.ErrCodeUserNotFound, model.ErrCodeTOTPNotEnabled:
			// 入力待ちの前提が崩れたためやり直させる
			h.sessions.Clear(w)
			h.pages.fail(w, r, err, pathLogin)
		default:
			h.pages.fail(w, r, err, pathVerify)
		}
		return
	}
	h.complete(w, r, result, "2FA verified. You are now logged in.")
}

// complete は既存の認証済みセッションを破棄してから新しいセッションでログインを完了する。
func (h *AuthHandler) complete(w http.ResponseWriter, r *http.Request, result *auth.LoginResult, message string) {
	h.revokeCurrent(r)
	completeLogin(w, r, h.pages, h.sessions, result, message)
}

// revokeCurrent はリクエストの認証済みセッションをサーバー側から削除する。
// 失敗してもCookieは後続の処理で置き換えるため、ログのみ記録する。
func (h *AuthHandler) revokeCurrent(r *http.Request) {
	state := middleware.StateFromContext(r.Context())
	if state.Kind != session.KindAuthenticated {
		return
	}
	if err := h.login.Logout(r.Context(), state.SessionID); err != nil {
		slog.Error("failed to revoke session", slog.String("error", err.Error()))
	}
}

// Logout はセッションを破棄し、Cookieを削除する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.revokeCurrent(r)
	h.sessions.Clear(w)
	h.pages.redirect(w, r, session.FlashInfo, "Logged out.", pathHome)
}

// pendingUserID はTOTP入力待ち状態のユーザーIDを返す。
// 入力待ちでない場合はログイン画面へリダイレクトし、falseを返す。
func (h *AuthHandler) pendingUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	state := middleware.StateFromContext(r.Context())
	if state.Kind != session.KindPending {
		h.pages.redirect(w, r, session.FlashError, "Start with email & password.", pathLogin)
		return 0, false
	}
	return state.PendingUserID, true
}

// completeLogin は発行済みセッションをCookieに格納し、遷移先へリダイレクトする。
// 2FA必須ポリシー下で未登録の場合は登録画面へ誘導する。
func completeLogin(w http.ResponseWriter, r *http.Request, pages *Pages, sessions SessionWriter, result *auth.LoginResult, message string) {
	if err := sessions.SetAuthenticated(w, result.Session.ID, result.Session.ExpiresAt); err != nil {
		pages.fail(w, r, model.NewInfrastructureError(err), pathLogin)
		return
	}

	if result.EnrollmentRequired {
		pages.redirect(w, r, session.FlashWarning, "2FA required. Please enable first.", pathMFAEnable)
		return
	}
	pages.redirect(w, r, session.FlashSuccess, message, pathHome)
}
