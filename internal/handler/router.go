package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bookmarket/internal/middleware"
)

// RateBuckets は認証系ルートに割り当てるレート制限枠。
type RateBuckets struct {
	Login middleware.Bucket // ログイン・登録
	TOTP  middleware.Bucket // TOTPコード検証
	MFA   middleware.Bucket // 2要素認証の登録操作
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Renderer        *Renderer
	Sessions        SessionWriter
	SessionResolver middleware.SessionResolver
	RateLimiter     *middleware.RateLimiter
	Buckets         RateBuckets
	CSRF            middleware.CSRFConfig
	HSTS            bool
	// StrictMFA が真の場合、2要素認証が未登録のユーザーは登録画面とログアウト以外にアクセスできない。
	StrictMFA      bool
	Logger         *slog.Logger
	StatusRecorder middleware.StatusRecorder

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// サービス
	LoginService   LoginServiceInterface
	AccountService AccountServiceInterface
	MFAService     MFAServiceInterface
	OAuthService   OAuthServiceInterface
	ListingService ListingServiceInterface
	UserService    UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Session → Logging → Metrics → CSRF → (RateLimit / RequireAuth / RequireEnrollment)
//
// /health と /metrics はセッションとCSRFの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	pages := NewPages(deps.Renderer, deps.Sessions, deps.UserService)
	authHandler := NewAuthHandler(pages, deps.Sessions, deps.LoginService, deps.AccountService, deps.OAuthService)
	mfaHandler := NewMFAHandler(pages, deps.MFAService)
	oauthHandler := NewOAuthHandler(pages, deps.Sessions, deps.OAuthService)
	listingHandler := NewListingHandler(pages, deps.ListingService)
	userHandler := NewUserHandler(pages, deps.Sessions, deps.UserService)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := deps.RateLimiter.Middleware
	requireLogin := middleware.NewRequireAuthMiddleware(deps.Sessions, pathLogin, "Log in first.")

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.SessionResolver))
		r.Use(middleware.NewLoggingMiddleware(logger))
		if deps.StatusRecorder != nil {
			r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
		}
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// --- 2要素認証の登録とログアウト（厳格モードでも到達可能） ---
		r.Post("/auth/logout", authHandler.Logout)
		r.Group(func(r chi.Router) {
			r.Use(requireLogin)
			r.Get("/auth/mfa/enable", mfaHandler.EnableForm)
			r.Get("/auth/mfa/qr", mfaHandler.QRCode)
			r.With(limit(deps.Buckets.MFA)).Post("/auth/mfa/enable", mfaHandler.Enable)
			r.With(limit(deps.Buckets.MFA)).Post("/auth/mfa/confirm", mfaHandler.Confirm)
			r.With(limit(deps.Buckets.MFA)).Post("/auth/mfa/disable", mfaHandler.Disable)
		})

		// --- それ以外のページ ---
		r.Group(func(r chi.Router) {
			if deps.StrictMFA {
				r.Use(middleware.NewRequireEnrollmentMiddleware(deps.Sessions, deps.MFAService, pathMFAEnable))
			}

			r.Get("/", listingHandler.Index)

			// 認証フロー
			r.Get("/auth/register", authHandler.RegisterForm)
			r.With(limit(deps.Buckets.Login)).Post("/auth/register", authHandler.Register)
			r.Get("/auth/login", authHandler.LoginForm)
			r.With(limit(deps.Buckets.Login)).Post("/auth/login", authHandler.Login)
			r.Get("/auth/verify", authHandler.VerifyForm)
			r.With(limit(deps.Buckets.TOTP)).Post("/auth/verify", authHandler.Verify)

			// OAuthフロー
			r.Get("/oauth/authorize/{provider}", oauthHandler.Authorize)
			r.With(limit(deps.Buckets.Login)).Get("/oauth/callback/{provider}", oauthHandler.Callback)

			// 出品管理
			r.With(middleware.NewRequireAuthMiddleware(deps.Sessions, pathLogin, "Please log in to create a listing.")).
				Post("/listings", listingHandler.Create)
			r.With(requireLogin).Get("/listings/mine", listingHandler.Mine)
			r.With(requireLogin).Post("/listings/{id}/delete", listingHandler.Delete)

			// アカウント管理
			r.With(requireLogin).Get("/account", userHandler.Account)
			r.With(requireLogin).Post("/account/delete", userHandler.Withdraw)
		})
	})

	return r
}
