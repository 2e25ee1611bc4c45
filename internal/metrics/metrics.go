// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	LoginSuccess      = "success"
	LoginTOTPRequired = "totp_required"
	LoginInvalid      = "invalid"
	LoginLocked       = "locked"
	LoginError        = "error"
)

// TOTP検証結果のラベル値。
const (
	TOTPSuccess = "success"
	TOTPInvalid = "invalid"
)

// OAuthコールバック結果のラベル値。
const (
	OAuthLinked        = "linked"
	OAuthReturning     = "returning"
	OAuthStateMismatch = "state_mismatch"
	OAuthUpstreamError = "upstream_error"
	OAuthError         = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordLockout()
	RecordTOTPVerification(outcome string)
	RecordOAuthCallback(provider, outcome string)
	RecordOAuthLatency(provider string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins       *prometheus.CounterVec
	lockouts     prometheus.Counter
	totp         *prometheus.CounterVec
	oauth        *prometheus.CounterVec
	oauthLatency *prometheus.HistogramVec
	httpStatus   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarket_login_attempts_total",
			Help: "パスワードログイン試行の結果別合計数",
		}, []string{"outcome"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookmarket_account_lockouts_total",
			Help: "連続失敗によりロックされたアカウントの合計数",
		}),
		totp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarket_totp_verifications_total",
			Help: "TOTPコード検証の結果別合計数",
		}, []string{"outcome"}),
		oauth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarket_oauth_callbacks_total",
			Help: "OAuthコールバックのプロバイダー・結果別合計数",
		}, []string{"provider", "outcome"}),
		oauthLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookmarket_oauth_upstream_latency_seconds",
			Help:    "OAuthプロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookmarket_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.lockouts,
		c.totp,
		c.oauth,
		c.oauthLatency,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordLockout はアカウントロックの発生を記録する。
func (c *Collector) RecordLockout() {
	c.lockouts.Inc()
}

// RecordTOTPVerification はTOTP検証の結果を記録する。
func (c *Collector) RecordTOTPVerification(outcome string) {
	c.totp.WithLabelValues(outcome).Inc()
}

// RecordOAuthCallback はOAuthコールバックの結果を記録する。
func (c *Collector) RecordOAuthCallback(provider, outcome string) {
	c.oauth.WithLabelValues(provider, outcome).Inc()
}

// RecordOAuthLatency はプロバイダー呼び出しのレイテンシを記録する。
func (c *Collector) RecordOAuthLatency(provider string, duration time.Duration) {
	c.oauthLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
