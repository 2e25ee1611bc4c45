package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/bookmarket/internal/session"
)

// NewRequireAuthMiddleware は未認証リクエストをフラッシュメッセージ付きでredirectToへリダイレクトするミドルウェアを返す。
func NewRequireAuthMiddleware(store SessionStore, redirectTo, message string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := UserIDFromContext(r.Context()); err != nil {
				store.SetFlash(w, session.FlashError, message)
				http.Redirect(w, r, redirectTo, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// EnrollmentChecker はユーザーが2要素認証を登録済みかを判定する。
type EnrollmentChecker interface {
	HasSecret(ctx context.Context, userID int64) (bool, error)
}

// NewRequireEnrollmentMiddleware は2要素認証が未登録の認証済みユーザーを登録画面へリダイレクトするミドルウェアを返す。
// 厳格モードでのみ、登録画面とログアウト以外のルートに適用する。
// 未認証のリクエストはそのまま通過させる。
func NewRequireEnrollmentMiddleware(store SessionStore, checker EnrollmentChecker, enrollPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			enrolled, err := checker.HasSecret(r.Context(), userID)
			if err != nil {
				slog.Error("failed to check 2FA enrollment",
					slog.Int64("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if !enrolled {
				store.SetFlash(w, session.FlashWarning, "2FA required. Please enable first.")
				http.Redirect(w, r, enrollPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
