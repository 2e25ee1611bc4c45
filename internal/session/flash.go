package session

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

// FlashCookieName はフラッシュメッセージCookieの名前。
const FlashCookieName = "flash"

// フラッシュメッセージのカテゴリ。
const (
	FlashSuccess = "success"
	FlashInfo    = "info"
	FlashWarning = "warning"
	FlashError   = "error"
)

// Flash はリダイレクト先で一度だけ表示するメッセージ。
type Flash struct {
	Category string `json:"c"`
	Message  string `json:"m"`
}

// SetFlash はフラッシュメッセージをCookieに格納する。
func (m *Manager) SetFlash(w http.ResponseWriter, category, message string) {
	b, err := json.Marshal(Flash{Category: category, Message: message})
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(b),
		Path:     "/",
		Domain:   m.config.Domain,
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// PopFlash はフラッシュメッセージを取り出し、Cookieを削除する。
// メッセージがない場合はnilを返す。
func (m *Manager) PopFlash(w http.ResponseWriter, r *http.Request) *Flash {
	cookie, err := r.Cookie(FlashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	b, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var f Flash
	if err := json.Unmarshal(b, &f); err != nil || f.Message == "" {
		return nil
	}
	return &f
}
