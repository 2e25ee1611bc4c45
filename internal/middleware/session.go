// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey は認証済みユーザーIDを格納するキー。
	userIDContextKey = contextKey("user_id")
	// stateContextKey はCookieから復元したセッション状態を格納するキー。
	stateContextKey = contextKey("session_state")
)

// SessionStore はセッションCookieの読み書きに必要なインターフェース。
// session.Managerの部分集合として定義する。
type SessionStore interface {
	Load(r *http.Request) session.State
	Clear(w http.ResponseWriter)
	SetFlash(w http.ResponseWriter, category, message string)
}

// SessionResolver はセッションIDから有効なサーバー側セッションを取得する。
// 存在しない、または期限切れの場合はnilを返す。
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (*model.Session, error)
}

// NewSessionMiddleware はセッションCookieを読み取り、状態をリクエストコンテキストに注入するミドルウェアを返す。
// 認証済みCookieのセッションIDはsessionsテーブルで検証し、ユーザーIDはサーバー側の行から取得する。
// 失効したセッションのCookieは削除し、匿名として扱う。
// 未認証でもリクエストは拒否しない。アクセス制御はRequireAuthで行う。
func NewSessionMiddleware(store SessionStore, resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := store.Load(r)
			ctx := r.Context()

			if state.Kind == session.KindAuthenticated {
				sess, err := resolver.Resolve(ctx, state.SessionID)
				switch {
				case err != nil:
					slog.Error("failed to resolve session",
						slog.String("error", err.Error()),
					)
					state = session.State{Kind: session.KindAnonymous}
				case sess == nil:
					store.Clear(w)
					state = session.State{Kind: session.KindAnonymous}
				default:
					ctx = ContextWithUserID(ctx, sess.UserID)
				}
			}

			ctx = ContextWithState(ctx, state)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
// セッションミドルウェアを通過した認証済みリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	if !ok || userID <= 0 {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// StateFromContext はリクエストコンテキストからセッション状態を取得する。
// 格納されていない場合は匿名を返す。
func StateFromContext(ctx context.Context) session.State {
	if state, ok := ctx.Value(stateContextKey).(session.State); ok {
		return state
	}
	return session.State{Kind: session.KindAnonymous}
}

// ContextWithState はコンテキストにセッション状態を注入する。
func ContextWithState(ctx context.Context, state session.State) context.Context {
	return context.WithValue(ctx, stateContextKey, state)
}
