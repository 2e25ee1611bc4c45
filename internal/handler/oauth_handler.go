package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bookmarket/internal/auth"
	"github.com/hitoshi/bookmarket/internal/middleware"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/session"
)

// OAuthServiceInterface はOAuthログインのインターフェース。
type OAuthServiceInterface interface {
	Providers() []*auth.Provider
	Begin(providerName string) (*auth.Authorization, error)
	Callback(ctx context.Context, providerName string, params auth.CallbackParams) (*auth.LoginResult, error)
}

// OAuthHandler は外部プロバイダーによるログインのHTTPハンドラー。
type OAuthHandler struct {
	pages    *Pages
	sessions SessionWriter
	service  OAuthServiceInterface
}

// NewOAuthHandler はOAuthHandlerを生成する。
func NewOAuthHandler(pages *Pages, sessions SessionWriter, service OAuthServiceInterface) *OAuthHandler {
	return &OAuthHandler{pages: pages, sessions: sessions, service: service}
}

// Authorize はstateをセッションに保存し、プロバイダーの認可画面へリダイレクトする。
// GET /oauth/authorize/{provider}
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	if isAuthenticated(r) {
		http.Redirect(w, r, pathHome, http.StatusSeeOther)
		return
	}

	authz, err := h.service.Begin(chi.URLParam(r, "provider"))
	if err != nil {
		h.abort(w, err)
		return
	}

	if err := h.sessions.SetOAuth(w, authz.State, authz.Provider); err != nil {
		h.abort(w, model.NewInfrastructureError(err))
		return
	}
	http.Redirect(w, r, authz.URL, http.StatusFound)
}

// Callback はプロバイダーからのリダイレクトを受け、stateを照合してログインを完了する。
// 保存済みのstateは成否にかかわらず1回で破棄する。
// GET /oauth/callback/{provider}
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if isAuthenticated(r) {
		http.Redirect(w, r, pathHome, http.StatusSeeOther)
		return
	}

	query := r.URL.Query()
	if msg := providerErrorMessage(query); msg != "" {
		// プロバイダー側で拒否された場合はセッションを変更しない
		h.pages.redirect(w, r, session.FlashError, msg, pathHome)
		return
	}

	params := auth.CallbackParams{
		Code:  query.Get("code"),
		State: query.Get("state"),
	}
	state := middleware.StateFromContext(r.Context())
	if state.Kind == session.KindOAuth {
		params.StoredState = state.OAuthState
		params.StoredProvider = state.OAuthProvider
	}

	providerName := chi.URLParam(r, "provider")
	result, err := h.service.Callback(r.Context(), providerName, params)
	if err != nil {
		if state.Kind == session.KindOAuth {
			h.sessions.Clear(w)
		}
		switch model.CategoryOf(err) {
		case model.CategoryValidation, model.CategoryConflict:
			h.pages.fail(w, r, err, pathLogin)
		default:
			h.abort(w, err)
		}
		return
	}

	// 認証済みCookieでOAuthのstateを上書きする
	completeLogin(w, r, h.pages, h.sessions, result,
		fmt.Sprintf("Logged in with %s.", auth.DisplayName(providerName)))
}

// abort はエラーを直接のステータスコードで応答する。
// プロバイダーとの通信失敗は認証失敗と同じく401とする。
func (h *OAuthHandler) abort(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInfrastructureError(err)
	}
	status := middleware.StatusForCategory(apiErr.Category)
	if apiErr.Category == model.CategoryUpstream {
		status = http.StatusUnauthorized
	}
	if status >= http.StatusInternalServerError {
		slog.Error("oauth request failed",
			slog.String("code", apiErr.Code),
			slog.String("error", apiErr.Error()),
		)
	}
	middleware.WriteErrorResponse(w, status, apiErr)
}

// providerErrorMessage はerrorで始まるクエリパラメータを「key: value」の形で連結する。
func providerErrorMessage(query map[string][]string) string {
	var keys []string
	for k := range query {
		if strings.HasPrefix(k, "error") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(query[k], ", ")))
	}
	return strings.Join(parts, " / ")
}
