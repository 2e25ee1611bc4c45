package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxUpstreamBody はプロバイダーレスポンスとして読み込む最大バイト数。
const maxUpstreamBody = 1 << 20

// TokenSet はトークンエンドポイントから取得したトークン。
type TokenSet struct {
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
}

// Identity はプロバイダーから取得したユーザー情報。
type Identity struct {
	ProviderUserID string
	Email          string // 取得できなかった場合は空
}

// UpstreamClient はプロバイダーへのサーバー間通信を行う。
type UpstreamClient interface {
	ExchangeCode(ctx context.Context, p *Provider, code, redirectURL string) (*TokenSet, error)
	FetchIdentity(ctx context.Context, p *Provider, accessToken string) (*Identity, error)
}

// HTTPUpstreamClient はnet/httpによるUpstreamClientの実装。
// 各呼び出しはtimeoutで打ち切られる。
type HTTPUpstreamClient struct {
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

// NewHTTPUpstreamClient はHTTPUpstreamClientを生成する。
func NewHTTPUpstreamClient(client *http.Client, timeout time.Duration) *HTTPUpstreamClient {
	return &HTTPUpstreamClient{client: client, timeout: timeout, now: time.Now}
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (c *HTTPUpstreamClient) ExchangeCode(ctx context.Context, p *Provider, code, redirectURL string) (*TokenSet, error) {
	data := url.Values{
		"client_id":     {p.ClientID},
		"client_secret": {p.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURL},
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var body map[string]any
	if err := c.do(req, &body); err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	access, _ := body["access_token"].(string)
	if access == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	tokens := &TokenSet{AccessToken: access}
	if refresh, _ := body["refresh_token"].(string); refresh != "" {
		tokens.RefreshToken = &refresh
	}
	if p.ExpiresInKey != "" {
		if secs, ok := asInt64(body[p.ExpiresInKey]); ok && secs > 0 {
			exp := c.now().Add(time.Duration(secs) * time.Second)
			tokens.ExpiresAt = &exp
		}
	}
	return tokens, nil
}

// FetchIdentity はユーザー情報を取得する。
// メールアドレスがインラインで得られない場合、一覧APIから主要かつ検証済み、検証済み、先頭の順で選ぶ。
func (c *HTTPUpstreamClient) FetchIdentity(ctx context.Context, p *Provider, accessToken string) (*Identity, error) {
	var info map[string]any
	if err := c.getJSON(ctx, p.UserInfoURL, accessToken, &info); err != nil {
		return nil, fmt.Errorf("user info fetch failed: %w", err)
	}

	identity := &Identity{
		ProviderUserID: stringifyID(info[p.IDField]),
	}
	email, _ := info["email"].(string)

	if email == "" && p.EmailStrategy == EmailInlineThenList && p.EmailsURL != "" {
		var emails []providerEmail
		// 一覧APIの失敗はメールアドレスなしとして扱う
		if err := c.getJSON(ctx, p.EmailsURL, accessToken, &emails); err == nil {
			email = pickEmail(emails)
		}
	}
	identity.Email = NormalizeEmail(email)
	return identity, nil
}

// providerEmail はメールアドレス一覧APIの要素。
type providerEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func pickEmail(emails []providerEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified && e.Email != "" {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified && e.Email != "" {
			return e.Email
		}
	}
	if len(emails) > 0 {
		return emails[0].Email
	}
	return ""
}

func (c *HTTPUpstreamClient) getJSON(ctx context.Context, rawURL, accessToken string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return c.do(req, v)
}

func (c *HTTPUpstreamClient) do(req *http.Request, v any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	// 数値IDを精度を落とさずに扱うためjson.Numberで受け取る
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// stringifyID は数値または文字列のIDを文字列に正規化する。
func stringifyID(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		if id != float64(int64(id)) {
			return strconv.FormatFloat(id, 'f', -1, 64)
		}
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// compile-time interface check
var _ UpstreamClient = (*HTTPUpstreamClient)(nil)
