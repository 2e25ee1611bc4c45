package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/bookmarket/internal/session"
)

// Bucket は名前付きのレート制限枠。同じ名前のBucketを共有するルートは同じ枠を消費する。
type Bucket struct {
	Name  string
	Rate  rate.Limit // 補充レート（req/sec）
	Burst int
}

// PerMinute は1分あたりn回を上限とするBucketを返す。
func PerMinute(name string, n int) Bucket {
	return Bucket{
		Name:  name,
		Rate:  rate.Limit(float64(n) / 60.0),
		Burst: n,
	}
}

// 認証系エンドポイントの枠名。
const (
	BucketLogin = "login"
	BucketTOTP  = "totp"
	BucketMFA   = "mfa"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter は利用者ごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は枠名と利用者の組ごとのレート制限を管理する。
// 利用者は認証済みならユーザーID、TOTP入力待ちなら入力待ちユーザーID、それ以外はクライアントIPで識別する。
type RateLimiter struct {
	config RateLimiterConfig

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Middleware は指定した枠でレート制限するミドルウェアを返す。
// セッションミドルウェアの後に配置する。
func (rl *RateLimiter) Middleware(b Bucket) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := clientIdentity(r)
			limiter := rl.getOrCreate(b, identity)

			if !limiter.Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("bucket", b.Name),
					slog.String("client", identity),
					slog.String("path", r.URL.Path),
				)
				writeRateLimitResponse(w, b.Rate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// getOrCreate は枠と利用者の組に対応するリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreate(b Bucket, identity string) *rate.Limiter {
	key := b.Name + "|" + identity
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, exists := rl.limiters[key]; exists {
		cl.lastAccess = now
		return cl.limiter
	}

	limiter := rate.NewLimiter(b.Rate, b.Burst)
	rl.limiters[key] = &clientLimiter{
		limiter:    limiter,
		lastAccess: now,
	}
	return limiter
}

// clientIdentity はリクエストの利用者識別子を返す。
func clientIdentity(r *http.Request) string {
	if userID, err := UserIDFromContext(r.Context()); err == nil {
		return "user:" + strconv.FormatInt(userID, 10)
	}
	if state := StateFromContext(r.Context()); state.Kind == session.KindPending {
		return "pending:" + strconv.FormatInt(state.PendingUserID, 10)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
}
