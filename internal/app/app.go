package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/bookmarket/internal/auth"
	"github.com/hitoshi/bookmarket/internal/config"
	"github.com/hitoshi/bookmarket/internal/database"
	"github.com/hitoshi/bookmarket/internal/handler"
	"github.com/hitoshi/bookmarket/internal/listing"
	"github.com/hitoshi/bookmarket/internal/logger"
	"github.com/hitoshi/bookmarket/internal/metrics"
	"github.com/hitoshi/bookmarket/internal/middleware"
	"github.com/hitoshi/bookmarket/internal/password"
	"github.com/hitoshi/bookmarket/internal/repository"
	"github.com/hitoshi/bookmarket/internal/security"
	"github.com/hitoshi/bookmarket/internal/session"
	"github.com/hitoshi/bookmarket/internal/totp"
	"github.com/hitoshi/bookmarket/internal/user"
	"github.com/hitoshi/bookmarket/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if !cmd.NeedsConfig() {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// server はHTTPサーバーの構成要素と停止処理をまとめる。
type server struct {
	handler http.Handler
	stop    func()
}

// buildServer はリポジトリ→サービス→ハンドラー→ルーターを組み立てる。
// DBへの接続は行わないため、テストからも呼び出せる。
func buildServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*server, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	secretRepo := repository.NewPostgresTOTPSecretRepo(db)
	linkRepo := repository.NewPostgresOAuthAccountRepo(db)
	listingRepo := repository.NewPostgresListingRepo(db)

	// 2. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	providers := auth.NewProviderRegistry(
		auth.GitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret),
		auth.GoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret),
	)
	if err := validateProviderEndpoints(ssrfGuard, providers.Enabled()); err != nil {
		return nil, err
	}

	// 3. 認証サービスの初期化
	collector := metrics.NewCollector(reg)
	hasher := password.NewHasher(password.DefaultParams)
	generator := totp.NewGenerator(cfg.TOTPIssuer)

	authn := auth.NewAuthenticator(userRepo, hasher, auth.LockoutPolicy{
		MaxFailedAttempts: cfg.LoginMaxFailedAttempts,
		LockDuration:      cfg.LoginLockDuration,
	}, collector)
	sessionService := auth.NewSessionService(sessionRepo, userRepo, cfg.SessionTTL())
	loginService := auth.NewLoginService(authn, userRepo, secretRepo, sessionService, generator,
		auth.MFAPolicy{Required: cfg.Require2FA, Strict: cfg.Require2FA && cfg.MFAStrict},
		collector,
	)
	accountService := auth.NewAccountService(userRepo, hasher)
	mfaService := auth.NewMFAService(userRepo, secretRepo, generator)
	upstream := auth.NewHTTPUpstreamClient(ssrfGuard.NewSafeClient(cfg.OAuthHTTPTimeout), cfg.OAuthHTTPTimeout)
	oauthService := auth.NewOAuthService(providers, upstream, userRepo, linkRepo, loginService, cfg.BaseURL, collector)

	// 4. ドメインサービスの初期化
	listingService := listing.NewService(listingRepo, sanitizer)
	userService := user.NewService(userRepo, sessionRepo, linkRepo, secretRepo)

	// 5. ルーターの構築
	renderer, err := handler.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())

	deps := &handler.RouterDeps{
		Renderer: renderer,
		Sessions: session.NewManager(session.Config{
			Secret: []byte(cfg.SessionSecret),
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
		}),
		SessionResolver: sessionService,
		RateLimiter:     limiter,
		Buckets: handler.RateBuckets{
			Login: middleware.PerMinute(middleware.BucketLogin, cfg.RateLimitLogin),
			TOTP:  middleware.PerMinute(middleware.BucketTOTP, cfg.RateLimitTOTP),
			MFA:   middleware.PerMinute(middleware.BucketMFA, cfg.RateLimitMFA),
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS:           cfg.CookieSecure,
		StrictMFA:      loginService.Policy().Strict,
		Logger:         slog.Default(),
		StatusRecorder: collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),

		LoginService:   loginService,
		AccountService: accountService,
		MFAService:     mfaService,
		OAuthService:   oauthService,
		ListingService: listingService,
		UserService:    userService,
	}

	return &server{
		handler: handler.NewRouter(deps),
		stop:    limiter.Stop,
	}, nil
}

// validateProviderEndpoints は有効なプロバイダーのサーバー間通信先を起動時に検証する。
func validateProviderEndpoints(guard security.SSRFGuardService, providers []*auth.Provider) error {
	for _, p := range providers {
		for _, endpoint := range []string{p.TokenURL, p.UserInfoURL, p.EmailsURL} {
			if endpoint == "" {
				continue
			}
			if err := guard.ValidateURL(endpoint); err != nil {
				return fmt.Errorf("provider %s endpoint %s rejected: %w", p.Name, endpoint, err)
			}
		}
		slog.Info("oauth provider enabled", slog.String("provider", p.Name))
	}
	return nil
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	srv, err := buildServer(cfg, db, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer srv.stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("web server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down web server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションの削除を定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Loop(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, err := database.Version(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
