package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/bookmarket/internal/middleware"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/session"
)

// SessionWriter はハンドラーが使用するセッションCookieの操作。
type SessionWriter interface {
	middleware.SessionStore
	SetAuthenticated(w http.ResponseWriter, sessionID string, expiresAt time.Time) error
	SetPending(w http.ResponseWriter, userID int64) error
	SetOAuth(w http.ResponseWriter, state, provider string) error
	PopFlash(w http.ResponseWriter, r *http.Request) *session.Flash
}

// CurrentUserFinder はログイン中ユーザーの取得を行う。
type CurrentUserFinder interface {
	Get(ctx context.Context, userID int64) (*model.User, error)
}

// Pages は各ハンドラーが共有するページ描画とエラー応答の処理。
type Pages struct {
	renderer *Renderer
	sessions SessionWriter
	users    CurrentUserFinder
}

// NewPages はPagesを生成する。
func NewPages(renderer *Renderer, sessions SessionWriter, users CurrentUserFinder) *Pages {
	return &Pages{
		renderer: renderer,
		sessions: sessions,
		users:    users,
	}
}

// render は共通データを埋めてページを描画する。
func (p *Pages) render(w http.ResponseWriter, r *http.Request, page, title string, data any) {
	pd := &PageData{
		Title:     title,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Flash:     p.sessions.PopFlash(w, r),
		Data:      data,
	}

	if userID, err := middleware.UserIDFromContext(r.Context()); err == nil {
		user, err := p.users.Get(r.Context(), userID)
		if err != nil {
			// ナビゲーション表示のみに影響するため描画は続ける
			slog.Warn("failed to load current user",
				slog.Int64("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		pd.User = user
	}

	p.renderer.Render(w, http.StatusOK, page, pd)
}

// redirect はフラッシュメッセージを設定して303でリダイレクトする。
func (p *Pages) redirect(w http.ResponseWriter, r *http.Request, category, message, to string) {
	if message != "" {
		p.sessions.SetFlash(w, category, message)
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// fail はサービス層のエラーを応答に変換する。
// 入力・認証・競合・外部連携のエラーはメッセージをフラッシュしてredirectToへ戻す。
// システムエラーは詳細をログに記録し、一般的なエラーページを返す。
func (p *Pages) fail(w http.ResponseWriter, r *http.Request, err error, redirectTo string) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInfrastructureError(err)
	}

	switch apiErr.Category {
	case model.CategoryValidation, model.CategoryAuth, model.CategoryConflict:
		p.redirect(w, r, session.FlashError, apiErr.Message, redirectTo)
	case model.CategoryUpstream:
		slog.Warn("upstream failure",
			slog.String("path", r.URL.Path),
			slog.String("error", apiErr.Error()),
		)
		p.redirect(w, r, session.FlashError, apiErr.Action, redirectTo)
	case model.CategoryNotFound:
		middleware.WriteErrorResponse(w, http.StatusNotFound, apiErr)
	default:
		slog.Error("internal server error",
			slog.String("path", r.URL.Path),
			slog.String("code", apiErr.Code),
			slog.String("error", apiErr.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, apiErr)
	}
}

// currentUserID はRequireAuthの内側で呼ばれる前提でユーザーIDを返す。
// 取得できない場合はログイン画面へリダイレクトし、falseを返す。
func (p *Pages) currentUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		p.redirect(w, r, session.FlashError, "Log in first.", "/auth/login")
		return 0, false
	}
	return userID, true
}

// isAuthenticated はリクエストが認証済みセッションを持つかを返す。
func isAuthenticated(r *http.Request) bool {
	_, err := middleware.UserIDFromContext(r.Context())
	return err == nil
}
