// Package logger はJSON構造化ログの初期化を提供する。
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// RedactedValue は秘匿属性の出力値。
const RedactedValue = "[REDACTED]"

// sensitiveKeys はログに値を出力しない属性キー。
// パスワードやTOTPシークレット、OAuthトークンを誤ってログに渡しても平文で残らない。
var sensitiveKeys = map[string]struct{}{
	"password":       {},
	"password_hash":  {},
	"secret":         {},
	"totp_secret":    {},
	"access_token":   {},
	"refresh_token":  {},
	"client_secret":  {},
	"session_secret": {},
	"session_id":     {},
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// 秘匿キーの属性値はRedactedValueに置き換える。
func Setup(w io.Writer, level slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer, level slog.Leveler) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, level))
}

// ParseLevel はLOG_LEVELの値（debug, info, warn, error）をslog.Levelに変換する。
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, RedactedValue)
	}
	return a
}
