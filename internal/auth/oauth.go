package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/bookmarket/internal/metrics"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/repository"
)

// Authorization は認可エンドポイントへのリダイレクト情報。
// Stateは呼び出し元がセッションに保存し、コールバックで照合する。
type Authorization struct {
	Provider string
	State    string
	URL      string
}

// CallbackParams はコールバックで受け取ったパラメータとセッションに保存していたstate。
type CallbackParams struct {
	Code           string
	State          string
	StoredState    string
	StoredProvider string
}

// OAuthService はOAuthによるログインとアカウント紐付けを行う。
type OAuthService struct {
	registry *ProviderRegistry
	upstream UpstreamClient
	users    repository.UserRepository
	links    repository.OAuthAccountRepository
	login    *LoginService
	baseURL  string
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewOAuthService はOAuthServiceを生成する。
func NewOAuthService(
	registry *ProviderRegistry,
	upstream UpstreamClient,
	users repository.UserRepository,
	links repository.OAuthAccountRepository,
	login *LoginService,
	baseURL string,
	collector metrics.MetricsCollector,
) *OAuthService {
	return &OAuthService{
		registry: registry,
		upstream: upstream,
		users:    users,
		links:    links,
		login:    login,
		baseURL:  strings.TrimRight(baseURL, "/"),
		metrics:  collector,
		now:      time.Now,
	}
}

// Providers はログイン画面に表示するプロバイダーを返す。
func (s *OAuthService) Providers() []*Provider {
	return s.registry.Enabled()
}

// RedirectURL はプロバイダーに登録するコールバックURLを返す。
func (s *OAuthService) RedirectURL(provider string) string {
	return s.baseURL + "/oauth/callback/" + provider
}

// Begin は新しいstateを生成し、認可エンドポイントのURLを返す。
func (s *OAuthService) Begin(providerName string) (*Authorization, error) {
	p, err := s.registry.Lookup(providerName)
	if err != nil {
		return nil, err
	}

	state := rand.Text()
	return &Authorization{
		Provider: p.Name,
		State:    state,
		URL:      p.AuthCodeURL(state, s.RedirectURL(p.Name)),
	}, nil
}

// Callback はstateを照合したうえで認可コードを交換し、ユーザーを特定または作成してセッションを発行する。
// stateの照合はプロバイダーへの通信より前に行う。
// 照合またはプロバイダー通信に失敗した場合、永続化データは変更しない。
func (s *OAuthService) Callback(ctx context.Context, providerName string, params CallbackParams) (*LoginResult, error) {
	p, err := s.registry.Lookup(providerName)
	if err != nil {
		return nil, err
	}

	if !stateMatches(params, p.Name) {
		slog.Warn("oauth state mismatch", slog.String("provider", p.Name))
		s.metrics.RecordOAuthCallback(p.Name, metrics.OAuthStateMismatch)
		return nil, model.NewInvalidOAuthStateError()
	}
	if params.Code == "" {
		s.metrics.RecordOAuthCallback(p.Name, metrics.OAuthStateMismatch)
		return nil, model.NewInvalidOAuthStateError()
	}

	start := s.now()
	tokens, err := s.upstream.ExchangeCode(ctx, p, params.Code, s.RedirectURL(p.Name))
	if err != nil {
		return nil, s.upstreamFailure(p, err)
	}
	identity, err := s.upstream.FetchIdentity(ctx, p, tokens.AccessToken)
	if err != nil {
		return nil, s.upstreamFailure(p, err)
	}
	s.metrics.RecordOAuthLatency(p.Name, s.now().Sub(start))

	if identity.ProviderUserID == "" {
		slog.Warn("oauth provider returned no user id", slog.String("provider", p.Name))
		s.metrics.RecordOAuthCallback(p.Name, metrics.OAuthUpstreamError)
		return nil, model.NewOAuthIdentityMissingError(p.DisplayName())
	}

	user, outcome, err := s.resolve(ctx, p.Name, identity, tokens)
	if err != nil {
		s.metrics.RecordOAuthCallback(p.Name, metrics.OAuthError)
		return nil, err
	}

	result, err := s.login.EstablishSession(ctx, user)
	if err != nil {
		s.metrics.RecordOAuthCallback(p.Name, metrics.OAuthError)
		return nil, err
	}

	slog.Info("oauth login",
		slog.String("provider", p.Name),
		slog.Int64("user_id", user.ID),
		slog.String("outcome", outcome),
	)
	s.metrics.RecordOAuthCallback(p.Name, outcome)
	return result, nil
}

// LinkedAccounts はユーザーの紐付け済みプロバイダーを返す。
func (s *OAuthService) LinkedAccounts(ctx context.Context, userID int64) ([]*model.OAuthAccount, error) {
	accounts, err := s.links.ListByUserID(ctx, userID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	return accounts, nil
}

// resolve は紐付け済みならトークンを更新してその所有者を返し、
// 未紐付けならユーザーを特定または作成して紐付けを作成する。
func (s *OAuthService) resolve(ctx context.Context, provider string, identity *Identity, tokens *TokenSet) (*model.User, string, error) {
	link, err := s.links.FindByProviderAndProviderUserID(ctx, provider, identity.ProviderUserID)
	if err != nil {
		return nil, "", model.NewInfrastructureError(err)
	}

	if link != nil {
		user, err := s.owner(ctx, provider, link.UserID)
		if err != nil {
			return nil, "", err
		}
		if err := s.links.UpdateTokens(ctx, link.ID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt, s.now()); err != nil {
			return nil, "", model.NewInfrastructureError(err)
		}
		return user, metrics.OAuthReturning, nil
	}

	user, err := s.findOrCreateUser(ctx, provider, identity)
	if err != nil {
		return nil, "", err
	}

	link = &model.OAuthAccount{
		UserID:         user.ID,
		Provider:       provider,
		ProviderUserID: identity.ProviderUserID,
		AccessToken:    tokens.AccessToken,
		RefreshToken:   tokens.RefreshToken,
		ExpiresAt:      tokens.ExpiresAt,
	}
	err = s.links.Create(ctx, link)
	if err == nil {
		return user, metrics.OAuthLinked, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return nil, "", model.NewInfrastructureError(err)
	}

	// 同時リクエストが先に紐付けを作成した
	winner, err := s.links.FindByProviderAndProviderUserID(ctx, provider, identity.ProviderUserID)
	if err != nil {
		return nil, "", model.NewInfrastructureError(err)
	}
	if winner == nil {
		return nil, "", model.NewInfrastructureError(fmt.Errorf("oauth link for %s/%s vanished after conflict", provider, identity.ProviderUserID))
	}
	if winner.UserID == user.ID {
		return user, metrics.OAuthLinked, nil
	}
	user, err = s.owner(ctx, provider, winner.UserID)
	if err != nil {
		return nil, "", err
	}
	return user, metrics.OAuthLinked, nil
}

// findOrCreateUser はメールアドレスでユーザーを探し、なければパスワードなしで作成する。
// メールアドレスが取得できない場合はプロバイダーとIDから合成したアドレスを使う。
func (s *OAuthService) findOrCreateUser(ctx context.Context, provider string, identity *Identity) (*model.User, error) {
	email := identity.Email
	if email == "" {
		email = PlaceholderEmail(provider, identity.ProviderUserID)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	if user != nil {
		if err := requireActive(user, provider); err != nil {
			return nil, err
		}
		return user, nil
	}

	user = &model.User{Email: email, IsActive: true}
	err = s.users.Create(ctx, user)
	if err == nil {
		slog.Info("user created from oauth", slog.Int64("user_id", user.ID), slog.String("provider", provider))
		return user, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return nil, model.NewInfrastructureError(err)
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	if existing == nil {
		return nil, model.NewInfrastructureError(fmt.Errorf("user %s vanished after conflict", email))
	}
	if err := requireActive(existing, provider); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *OAuthService) owner(ctx context.Context, provider string, userID int64) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if err := requireActive(user, provider); err != nil {
		return nil, err
	}
	return user, nil
}

// requireActive は無効化されたユーザーをパスワード認証と同じ失敗として扱う。
func requireActive(user *model.User, provider string) error {
	if user.IsActive {
		return nil
	}
	slog.Warn("oauth login for inactive user rejected",
		slog.Int64("user_id", user.ID),
		slog.String("provider", provider),
	)
	return model.NewInvalidCredentialsError()
}

func (s *OAuthService) upstreamFailure(p *Provider, err error) error {
	slog.Error("oauth upstream call failed",
		slog.String("provider", p.Name),
		slog.String("error", err.Error()),
	)
	s.metrics.RecordOAuthCallback(p.Name, metrics.OAuthUpstreamError)
	return model.NewUpstreamError(p.DisplayName(), err)
}

// PlaceholderEmail はメールアドレスを取得できなかったOAuthユーザー用の合成アドレスを返す。
func PlaceholderEmail(provider, providerUserID string) string {
	return NormalizeEmail(providerUserID + "@" + provider + ".invalid")
}

// stateMatches はコールバックのstateがセッションに保存した値と一致するかを定数時間で比較する。
func stateMatches(params CallbackParams, provider string) bool {
	if params.State == "" || params.StoredState == "" || params.StoredProvider != provider {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(params.State), []byte(params.StoredState)) == 1
}
