package auth

import (
	"net/url"
	"sort"
	"strings"

	"github.com/hitoshi/bookmarket/internal/model"
)

// EmailStrategy はプロバイダーからメールアドレスを取得する方法。
type EmailStrategy int

const (
	// EmailInline はユーザー情報レスポンスのemailのみを使う。
	EmailInline EmailStrategy = iota
	// EmailInlineThenList はemailが空の場合にメールアドレス一覧エンドポイントを呼ぶ。
	EmailInlineThenList
)

// Provider はOAuth 2.0プロバイダーの設定。
type Provider struct {
	Name         string
	ClientID     string
	ClientSecret string

	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string
	EmailsURL    string

	Scopes []string
	// IDField はユーザー情報レスポンス中のプロバイダー側ユーザーIDのキー。
	IDField string
	// ExpiresInKey はトークンレスポンス中の有効秒数のキー。空の場合は有効期限を保存しない。
	ExpiresInKey  string
	EmailStrategy EmailStrategy
	// AuthParams は認可URLに追加するプロバイダー固有のパラメータ。
	AuthParams map[string]string
}

// GitHubProvider はGitHubの設定を返す。
// GitHubのユーザーIDは数値で、メールアドレスは非公開の場合に一覧APIから取得する。
func GitHubProvider(clientID, clientSecret string) *Provider {
	return &Provider{
		Name:          "github",
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		AuthorizeURL:  "https://github.com/login/oauth/authorize",
		TokenURL:      "https://github.com/login/oauth/access_token",
		UserInfoURL:   "https://api.github.com/user",
		EmailsURL:     "https://api.github.com/user/emails",
		Scopes:        []string{"read:user", "user:email"},
		IDField:       "id",
		EmailStrategy: EmailInlineThenList,
	}
}

// GoogleProvider はGoogleの設定を返す。
func GoogleProvider(clientID, clientSecret string) *Provider {
	return &Provider{
		Name:          "google",
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		AuthorizeURL:  "https://accounts.google.com/o/oauth2/auth",
		TokenURL:      "https://oauth2.googleapis.com/token",
		UserInfoURL:   "https://www.googleapis.com/oauth2/v3/userinfo",
		Scopes:        []string{"openid", "email", "profile"},
		IDField:       "sub",
		ExpiresInKey:  "expires_in",
		EmailStrategy: EmailInline,
		AuthParams:    map[string]string{"access_type": "offline"},
	}
}

// Configured はクライアント認証情報が設定済みかを返す。
func (p *Provider) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// DisplayName は画面表示用の名前を返す。
func (p *Provider) DisplayName() string {
	return DisplayName(p.Name)
}

// DisplayName はプロバイダー名の先頭を大文字にした表示名を返す。
func DisplayName(name string) string {
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// AuthCodeURL は認可エンドポイントへのリダイレクトURLを生成する。
func (p *Provider) AuthCodeURL(state, redirectURL string) string {
	params := url.Values{
		"client_id":     {p.ClientID},
		"redirect_uri":  {redirectURL},
		"response_type": {"code"},
		"scope":         {strings.Join(p.Scopes, " ")},
		"state":         {state},
	}
	for k, v := range p.AuthParams {
		params.Set(k, v)
	}

	sep := "?"
	if strings.Contains(p.AuthorizeURL, "?") {
		sep = "&"
	}
	return p.AuthorizeURL + sep + params.Encode()
}

// ProviderRegistry は名前でプロバイダーを引く。
type ProviderRegistry struct {
	providers map[string]*Provider
}

// NewProviderRegistry はProviderRegistryを生成する。
func NewProviderRegistry(providers ...*Provider) *ProviderRegistry {
	m := make(map[string]*Provider, len(providers))
	for _, p := range providers {
		m[p.Name] = p
	}
	return &ProviderRegistry{providers: m}
}

// Lookup はプロバイダーを返す。
// 未知の名前はカテゴリnot_found、認証情報未設定はカテゴリmisconfiguredのエラーを返す。
func (r *ProviderRegistry) Lookup(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, model.NewProviderNotFoundError(name)
	}
	if !p.Configured() {
		return nil, model.NewProviderMisconfiguredError(name)
	}
	return p, nil
}

// Enabled は認証情報が設定済みのプロバイダーを名前順に返す。
func (r *ProviderRegistry) Enabled() []*Provider {
	var out []*Provider
	for _, p := range r.providers {
		if p.Configured() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
