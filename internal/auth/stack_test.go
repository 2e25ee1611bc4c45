package auth

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/totp"
)

// testStack はインメモリリポジトリと固定時計で組み立てた認証サービス一式。
type testStack struct {
	clock    *fakeClock
	users    *memUsers
	secrets  *memSecrets
	links    *memLinks
	sessions *memSessions
	hasher   *fakeHasher
	totp     *totp.Generator

	authn      *Authenticator
	sessionSvc *SessionService
	login      *LoginService
	accounts   *AccountService
	mfa        *MFAService
}

func newTestStack(t *testing.T, policy MFAPolicy) *testStack {
	t.Helper()

	s := &testStack{
		clock:    newFakeClock(time.Now().Truncate(totp.Period * time.Second)),
		users:    newMemUsers(),
		secrets:  newMemSecrets(),
		links:    newMemLinks(),
		sessions: newMemSessions(),
		hasher:   &fakeHasher{},
		totp:     totp.NewGenerator("BookMarket"),
	}
	collector := newTestMetrics()

	s.authn = NewAuthenticator(s.users, s.hasher, DefaultLockoutPolicy, collector)
	s.authn.now = s.clock.Now

	s.sessionSvc = NewSessionService(s.sessions, s.users, 24*time.Hour)
	s.sessionSvc.now = s.clock.Now

	s.login = NewLoginService(s.authn, s.users, s.secrets, s.sessionSvc, s.totp, policy, collector)
	s.login.now = s.clock.Now

	s.accounts = NewAccountService(s.users, s.hasher)

	s.mfa = NewMFAService(s.users, s.secrets, s.totp)
	s.mfa.now = s.clock.Now

	return s
}

// register はテスト用のパスワードアカウントを作成する。
func (s *testStack) register(t *testing.T, email, password string) *model.User {
	t.Helper()
	u, err := s.accounts.Register(context.Background(), email, password)
	if err != nil {
		t.Fatalf("Register(%q) error = %v", email, err)
	}
	return u
}

// currentCode は登録済みシークレットの現在時刻のコードを返す。
func (s *testStack) currentCode(t *testing.T, userID int64) string {
	t.Helper()
	secret, _ := s.secrets.FindByUserID(context.Background(), userID)
	if secret == nil {
		t.Fatalf("no totp secret for user %d", userID)
	}
	code, err := s.totp.Code(secret.Secret, s.clock.Now())
	if err != nil {
		t.Fatalf("Code() error = %v", err)
	}
	return code
}

// assertCode はエラーコードが一致することを検証する。
func assertCode(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %s", want)
	}
	if got := model.CodeOf(err); got != want {
		t.Fatalf("error code = %q (%v), want %q", got, err, want)
	}
}
