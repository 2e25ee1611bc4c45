package auth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/bookmarket/internal/metrics"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/repository"
)

// --- インメモリリポジトリ ---
// PostgreSQL実装と同じ一意制約と条件付き更新の意味を持つ。

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.User

	findErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[int64]*model.User{}}
}

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

func (m *memUsers) FindByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if u, ok := m.byID[id]; ok {
		return copyUser(u), nil
	}
	return nil, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, u := range m.byID {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (m *memUsers) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == user.Email {
			return repository.ErrConflict
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.byID[user.ID] = copyUser(user)
	return nil
}

func (m *memUsers) RecordLoginFailure(_ context.Context, id int64, now time.Time, threshold int, lockUntil time.Time) (*model.LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok || u.IsLocked(now) {
		return nil, nil
	}
	n := u.FailedAttempts + 1
	u.FailedAttempts = n
	u.LockedUntil = nil
	if n >= threshold {
		t := lockUntil
		u.LockedUntil = &t
	}
	u.UpdatedAt = now
	return &model.LockoutState{FailedAttempts: u.FailedAttempts, LockedUntil: u.LockedUntil}, nil
}

func (m *memUsers) ResetLoginFailures(_ context.Context, id int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok || u.IsLocked(now) {
		return false, nil
	}
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.UpdatedAt = now
	return true, nil
}

func (m *memUsers) DeleteByID(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *memUsers) get(id int64) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return copyUser(u)
	}
	return nil
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memSecrets struct {
	mu     sync.Mutex
	byUser map[int64]*model.TOTPSecret
}

func newMemSecrets() *memSecrets {
	return &memSecrets{byUser: map[int64]*model.TOTPSecret{}}
}

func (m *memSecrets) FindByUserID(_ context.Context, userID int64) (*model.TOTPSecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byUser[userID]; ok {
		c := *s
		return &c, nil
	}
	return nil, nil
}

func (m *memSecrets) Create(_ context.Context, secret *model.TOTPSecret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUser[secret.UserID]; ok {
		return repository.ErrConflict
	}
	for _, s := range m.byUser {
		if s.Secret == secret.Secret {
			return repository.ErrConflict
		}
	}
	c := *secret
	m.byUser[secret.UserID] = &c
	return nil
}

func (m *memSecrets) DeleteByUserID(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byUser, userID)
	return nil
}

type memLinks struct {
	mu     sync.Mutex
	nextID int64
	links  []*model.OAuthAccount

	// barrier が設定されている場合、最初の検索呼び出しを揃えて競合を再現する
	barrier *barrier
}

func newMemLinks() *memLinks {
	return &memLinks{}
}

func (m *memLinks) FindByProviderAndProviderUserID(_ context.Context, provider, providerUserID string) (*model.OAuthAccount, error) {
	if m.barrier != nil {
		m.barrier.wait()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.Provider == provider && l.ProviderUserID == providerUserID {
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memLinks) ListByUserID(_ context.Context, userID int64) ([]*model.OAuthAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.OAuthAccount
	for _, l := range m.links {
		if l.UserID == userID {
			c := *l
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memLinks) Create(_ context.Context, account *model.OAuthAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.Provider == account.Provider && l.ProviderUserID == account.ProviderUserID {
			return repository.ErrConflict
		}
	}
	m.nextID++
	account.ID = m.nextID
	c := *account
	m.links = append(m.links, &c)
	return nil
}

func (m *memLinks) UpdateTokens(_ context.Context, id int64, accessToken string, refreshToken *string, expiresAt *time.Time, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.ID == id {
			l.AccessToken = accessToken
			l.RefreshToken = refreshToken
			l.ExpiresAt = expiresAt
			l.UpdatedAt = now
		}
	}
	return nil
}

func (m *memLinks) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

type memSessions struct {
	mu   sync.Mutex
	byID map[string]*model.Session
}

func newMemSessions() *memSessions {
	return &memSessions{byID: map[string]*model.Session{}}
}

func (m *memSessions) Create(_ context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *session
	m.byID[session.ID] = &c
	return nil
}

func (m *memSessions) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || !s.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (m *memSessions) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *memSessions) DeleteByUserID(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.byID {
		if s.UserID == userID {
			delete(m.byID, id)
		}
	}
	return nil
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// barrier は指定数の呼び出しが揃うまで待機させる。以降の呼び出しは待たない。
type barrier struct {
	mu sync.Mutex
	n  int
	ch chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, ch: make(chan struct{})}
}

func (b *barrier) wait() {
	b.mu.Lock()
	if b.n <= 0 {
		b.mu.Unlock()
		return
	}
	b.n--
	if b.n == 0 {
		close(b.ch)
	}
	ch := b.ch
	b.mu.Unlock()
	<-ch
}

// --- ハッシュ・時計 ---

// fakeHasher はargon2の計算を省いたPasswordHasher。
type fakeHasher struct {
	verifyCalls atomic.Int32
}

func (h *fakeHasher) Hash(password string) (string, error) {
	return "hash:" + password, nil
}

func (h *fakeHasher) Verify(encodedHash, password string) bool {
	h.verifyCalls.Add(1)
	return strings.HasPrefix(encodedHash, "hash:") && encodedHash == "hash:"+password
}

// fakeClock は手動で進める時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMetrics() *metrics.Collector {
	return metrics.NewCollector(prometheus.NewRegistry())
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*memUsers)(nil)
var _ repository.TOTPSecretRepository = (*memSecrets)(nil)
var _ repository.OAuthAccountRepository = (*memLinks)(nil)
var _ repository.SessionRepository = (*memSessions)(nil)
var _ PasswordHasher = (*fakeHasher)(nil)
