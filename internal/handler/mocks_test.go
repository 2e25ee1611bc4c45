package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/bookmarket/internal/auth"
	"github.com/hitoshi/bookmarket/internal/listing"
	"github.com/hitoshi/bookmarket/internal/middleware"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/session"
	"github.com/hitoshi/bookmarket/internal/user"
)

// --- セッションCookieのモック ---

// mockSessionWriter はSessionWriterの記録用モック実装。
type mockSessionWriter struct {
	state session.State

	authenticatedID string
	pendingUserID   int64
	oauthState      string
	oauthProvider   string
	cleared         bool
	flashes         []session.Flash
	popFlash        *session.Flash

	setErr error
}

func (m *mockSessionWriter) Load(r *http.Request) session.State {
	return m.state
}

func (m *mockSessionWriter) SetAuthenticated(w http.ResponseWriter, sessionID string, expiresAt time.Time) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.authenticatedID = sessionID
	return nil
}

func (m *mockSessionWriter) SetPending(w http.ResponseWriter, userID int64) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.pendingUserID = userID
	return nil
}

func (m *mockSessionWriter) SetOAuth(w http.ResponseWriter, state, provider string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.oauthState = state
	m.oauthProvider = provider
	return nil
}

func (m *mockSessionWriter) Clear(w http.ResponseWriter) {
	m.cleared = true
}

func (m *mockSessionWriter) SetFlash(w http.ResponseWriter, category, message string) {
	m.flashes = append(m.flashes, session.Flash{Category: category, Message: message})
}

func (m *mockSessionWriter) PopFlash(w http.ResponseWriter, r *http.Request) *session.Flash {
	f := m.popFlash
	m.popFlash = nil
	return f
}

// lastFlash は最後に設定されたフラッシュメッセージを返す。
func (m *mockSessionWriter) lastFlash() session.Flash {
	if len(m.flashes) == 0 {
		return session.Flash{}
	}
	return m.flashes[len(m.flashes)-1]
}

// --- サービスのモック ---

// mockLoginService はLoginServiceInterfaceのモック実装。
type mockLoginService struct {
	loginFn            func(ctx context.Context, email, password string) (*auth.LoginResult, error)
	verifyTOTPFn       func(ctx context.Context, pendingUserID int64, code string) (*auth.LoginResult, error)
	establishSessionFn func(ctx context.Context, u *model.User) (*auth.LoginResult, error)
	logoutFn           func(ctx context.Context, sessionID string) error
}

func (m *mockLoginService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockLoginService) VerifyTOTP(ctx context.Context, pendingUserID int64, code string) (*auth.LoginResult, error) {
	if m.verifyTOTPFn != nil {
		return m.verifyTOTPFn(ctx, pendingUserID, code)
	}
	return nil, model.NewInvalidTOTPCodeError()
}

func (m *mockLoginService) EstablishSession(ctx context.Context, u *model.User) (*auth.LoginResult, error) {
	if m.establishSessionFn != nil {
		return m.establishSessionFn(ctx, u)
	}
	return authenticatedResult(u, "session-1", false), nil
}

func (m *mockLoginService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

// mockAccountService はAccountServiceInterfaceのモック実装。
type mockAccountService struct {
	registerFn func(ctx context.Context, email, password string) (*model.User, error)
}

func (m *mockAccountService) Register(ctx context.Context, email, password string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password)
	}
	return &model.User{ID: 1, Email: email, IsActive: true}, nil
}

// mockMFAService はMFAServiceInterfaceのモック実装。
type mockMFAService struct {
	enableFn    func(ctx context.Context, userID int64) (*auth.Enrollment, error)
	statusFn    func(ctx context.Context, userID int64) (*auth.Enrollment, error)
	qrCodeFn    func(ctx context.Context, userID int64) ([]byte, error)
	confirmFn   func(ctx context.Context, userID int64, code string) error
	disableFn   func(ctx context.Context, userID int64) error
	hasSecretFn func(ctx context.Context, userID int64) (bool, error)
}

func (m *mockMFAService) Enable(ctx context.Context, userID int64) (*auth.Enrollment, error) {
	if m.enableFn != nil {
		return m.enableFn(ctx, userID)
	}
	return &auth.Enrollment{Secret: "JBSWY3DPEHPK3PXP"}, nil
}

func (m *mockMFAService) Status(ctx context.Context, userID int64) (*auth.Enrollment, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockMFAService) QRCode(ctx context.Context, userID int64) ([]byte, error) {
	if m.qrCodeFn != nil {
		return m.qrCodeFn(ctx, userID)
	}
	return nil, model.NewTOTPNotEnabledError()
}

func (m *mockMFAService) Confirm(ctx context.Context, userID int64, code string) error {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, userID, code)
	}
	return nil
}

func (m *mockMFAService) Disable(ctx context.Context, userID int64) error {
	if m.disableFn != nil {
		return m.disableFn(ctx, userID)
	}
	return nil
}

func (m *mockMFAService) HasSecret(ctx context.Context, userID int64) (bool, error) {
	if m.hasSecretFn != nil {
		return m.hasSecretFn(ctx, userID)
	}
	return false, nil
}

// mockOAuthService はOAuthServiceInterfaceのモック実装。
type mockOAuthService struct {
	providers  []*auth.Provider
	beginFn    func(providerName string) (*auth.Authorization, error)
	callbackFn func(ctx context.Context, providerName string, params auth.CallbackParams) (*auth.LoginResult, error)
}

func (m *mockOAuthService) Providers() []*auth.Provider {
	return m.providers
}

func (m *mockOAuthService) Begin(providerName string) (*auth.Authorization, error) {
	if m.beginFn != nil {
		return m.beginFn(providerName)
	}
	return nil, model.NewProviderNotFoundError(providerName)
}

func (m *mockOAuthService) Callback(ctx context.Context, providerName string, params auth.CallbackParams) (*auth.LoginResult, error) {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, providerName, params)
	}
	return nil, model.NewInvalidOAuthStateError()
}

// mockListingService はListingServiceInterfaceのモック実装。
type mockListingService struct {
	createFn     func(ctx context.Context, userID int64, in listing.CreateInput) (*model.Listing, error)
	listPublicFn func(ctx context.Context) ([]*model.Listing, error)
	listMineFn   func(ctx context.Context, userID int64) ([]*model.Listing, error)
	deleteFn     func(ctx context.Context, userID, listingID int64) error
}

func (m *mockListingService) Create(ctx context.Context, userID int64, in listing.CreateInput) (*model.Listing, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return &model.Listing{ID: 1, UserID: userID, Title: in.Title}, nil
}

func (m *mockListingService) ListPublic(ctx context.Context) ([]*model.Listing, error) {
	if m.listPublicFn != nil {
		return m.listPublicFn(ctx)
	}
	return nil, nil
}

func (m *mockListingService) ListMine(ctx context.Context, userID int64) ([]*model.Listing, error) {
	if m.listMineFn != nil {
		return m.listMineFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockListingService) Delete(ctx context.Context, userID, listingID int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, listingID)
	}
	return nil
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	getFn      func(ctx context.Context, userID int64) (*model.User, error)
	profileFn  func(ctx context.Context, userID int64) (*user.Profile, error)
	withdrawFn func(ctx context.Context, userID int64) error
}

func (m *mockUserService) Get(ctx context.Context, userID int64) (*model.User, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return &model.User{ID: userID, Email: "reader@example.com", IsActive: true}, nil
}

func (m *mockUserService) Profile(ctx context.Context, userID int64) (*user.Profile, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx, userID)
	}
	u, _ := m.Get(ctx, userID)
	return &user.Profile{User: u}, nil
}

func (m *mockUserService) Withdraw(ctx context.Context, userID int64) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

// --- テストヘルパー ---

// newTestPages は実テンプレートを使うPagesを生成する。
func newTestPages(t *testing.T, sessions SessionWriter, users CurrentUserFinder) *Pages {
	t.Helper()
	renderer, err := NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	if users == nil {
		users = &mockUserService{}
	}
	return NewPages(renderer, sessions, users)
}

func authenticatedResult(u *model.User, sessionID string, enrollmentRequired bool) *auth.LoginResult {
	return &auth.LoginResult{
		Step: auth.StepAuthenticated,
		User: u,
		Session: &model.Session{
			ID:        sessionID,
			UserID:    u.ID,
			ExpiresAt: time.Now().Add(24 * time.Hour),
		},
		EnrollmentRequired: enrollmentRequired,
	}
}

// withUserID はテスト用にユーザーIDをコンテキストに注入するヘルパー。
func withUserID(r *http.Request, userID int64) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	ctx = middleware.ContextWithState(ctx, session.State{Kind: session.KindAuthenticated, SessionID: "session-1"})
	return r.WithContext(ctx)
}

// withState はテスト用にセッション状態をコンテキストに注入するヘルパー。
func withState(r *http.Request, state session.State) *http.Request {
	return r.WithContext(middleware.ContextWithState(r.Context(), state))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// postForm はフォーム送信のリクエストを生成する。
func postForm(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// assertRedirect はレスポンスが指定先への303リダイレクトであることを検証する。
func assertRedirect(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if got := w.Header().Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

// contextWithCSRF はテスト用にCSRFトークンを格納したコンテキストを返す。
func contextWithCSRF(r *http.Request, token string) context.Context {
	return middleware.ContextWithCSRFToken(r.Context(), token)
}
