// Package session はブラウザに保持する署名付きセッションCookieを扱う。
//
// Cookieには次のいずれか一つだけを格納する。
//   - 認証済みセッションID（sessionsテーブルの行を指す）
//   - 2要素認証待ちのユーザーID（まだログイン権限を持たない）
//   - OAuth認可リクエストのstateとプロバイダー名
//
// 状態遷移のたびにCookie全体を書き換え、古いキーが残らないようにする。
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName はセッションCookieの名前。
	CookieName = "session"

	// PendingTTL は2要素認証待ち状態の有効期間。
	PendingTTL = 5 * time.Minute
	// OAuthStateTTL はOAuth認可リクエストの有効期間。
	OAuthStateTTL = 10 * time.Minute

	issuer = "bookmarket"
)

// Kind はセッションCookieが表す状態の種別。
type Kind int

const (
	KindAnonymous Kind = iota
	KindAuthenticated
	KindPending
	KindOAuth
)

// String はログ出力用の名前を返す。
func (k Kind) String() string {
	switch k {
	case KindAuthenticated:
		return "authenticated"
	case KindPending:
		return "totp_pending"
	case KindOAuth:
		return "oauth_pending"
	default:
		return "anonymous"
	}
}

// State はCookieから復元したセッション状態。
type State struct {
	Kind          Kind
	SessionID     string
	PendingUserID int64
	OAuthState    string
	OAuthProvider string
}

// claims はCookieに格納するJWTのクレーム。
type claims struct {
	SessionID     string `json:"sid,omitempty"`
	PendingUserID int64  `json:"puid,omitempty"`
	OAuthState    string `json:"ost,omitempty"`
	OAuthProvider string `json:"opr,omitempty"`
	jwt.RegisteredClaims
}

// Config はセッションCookieの設定。
type Config struct {
	Secret []byte
	Secure bool
	Domain string
}

// Manager はセッションCookieの発行と検証を行う。
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(config Config) *Manager {
	return &Manager{config: config, now: time.Now}
}

// Load はリクエストのCookieからセッション状態を復元する。
// Cookieがない、署名が不正、期限切れ、または状態が一意に決まらない場合は匿名とみなす。
func (m *Manager) Load(r *http.Request) State {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return State{Kind: KindAnonymous}
	}

	c, err := m.decode(cookie.Value)
	if err != nil {
		return State{Kind: KindAnonymous}
	}
	return stateFromClaims(c)
}

// SetAuthenticated は認証済みセッションIDを格納したCookieを発行する。
func (m *Manager) SetAuthenticated(w http.ResponseWriter, sessionID string, expiresAt time.Time) error {
	return m.write(w, &claims{SessionID: sessionID}, expiresAt)
}

// SetPending は2要素認証待ちのユーザーIDを格納したCookieを発行する。
func (m *Manager) SetPending(w http.ResponseWriter, userID int64) error {
	return m.write(w, &claims{PendingUserID: userID}, m.now().Add(PendingTTL))
}

// SetOAuth はOAuth認可リクエストのstateを格納したCookieを発行する。
func (m *Manager) SetOAuth(w http.ResponseWriter, state, provider string) error {
	return m.write(w, &claims{OAuthState: state, OAuthProvider: provider}, m.now().Add(OAuthStateTTL))
}

// Clear はセッションCookieを削除する。
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) write(w http.ResponseWriter, c *claims, expiresAt time.Time) error {
	now := m.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.config.Secret)
	if err != nil {
		return fmt.Errorf("failed to sign session cookie: %w", err)
	}

	maxAge := int(expiresAt.Sub(now).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   m.config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) decode(value string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(value, c,
		func(*jwt.Token) (any, error) { return m.config.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session cookie: %w", err)
	}
	return c, nil
}

var errAmbiguousState = errors.New("session cookie carries more than one state")

// stateFromClaims はクレームから状態を決定する。複数の状態が同居する場合は匿名とする。
func stateFromClaims(c *claims) State {
	if err := validateExclusive(c); err != nil {
		return State{Kind: KindAnonymous}
	}

	switch {
	case c.SessionID != "":
		return State{Kind: KindAuthenticated, SessionID: c.SessionID}
	case c.PendingUserID > 0:
		return State{Kind: KindPending, PendingUserID: c.PendingUserID}
	case c.OAuthState != "" && c.OAuthProvider != "":
		return State{Kind: KindOAuth, OAuthState: c.OAuthState, OAuthProvider: c.OAuthProvider}
	default:
		return State{Kind: KindAnonymous}
	}
}

func validateExclusive(c *claims) error {
	n := 0
	if c.SessionID != "" {
		n++
	}
	if c.PendingUserID != 0 {
		n++
	}
	if c.OAuthState != "" || c.OAuthProvider != "" {
		n++
	}
	if n > 1 {
		return errAmbiguousState
	}
	return nil
}
