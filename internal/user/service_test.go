package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/bookmarket/internal/model"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn   func(ctx context.Context, id int64) (*model.User, error)
	deleteByIDFn func(ctx context.Context, id int64) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	return nil
}
func (m *mockUserRepo) RecordLoginFailure(ctx context.Context, id int64, now time.Time, threshold int, lockUntil time.Time) (*model.LockoutState, error) {
	return nil, nil
}
func (m *mockUserRepo) ResetLoginFailures(ctx context.Context, id int64, now time.Time) (bool, error) {
	return true, nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id int64) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

type mockSessionRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID int64) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	return nil
}
func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	return nil
}
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID int64) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

type mockLinkLister struct {
	listFn func(ctx context.Context, userID int64) ([]*model.OAuthAccount, error)
}

func (m *mockLinkLister) ListByUserID(ctx context.Context, userID int64) ([]*model.OAuthAccount, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

type mockSecretFinder struct {
	findFn func(ctx context.Context, userID int64) (*model.TOTPSecret, error)
}

func (m *mockSecretFinder) FindByUserID(ctx context.Context, userID int64) (*model.TOTPSecret, error) {
	if m.findFn != nil {
		return m.findFn(ctx, userID)
	}
	return nil, nil
}

func existingUser(id int64) *mockUserRepo {
	return &mockUserRepo{
		findByIDFn: func(ctx context.Context, got int64) (*model.User, error) {
			if got == id {
				return &model.User{ID: id, Email: "test@example.com", IsActive: true}, nil
			}
			return nil, nil
		},
	}
}

// --- テスト ---

// TestService_Withdraw は退会処理がセッションとユーザーを削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	var calls []string

	userRepo := existingUser(1)
	userRepo.deleteByIDFn = func(ctx context.Context, id int64) error {
		calls = append(calls, "user")
		return nil
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID int64) error {
			calls = append(calls, "sessions")
			return nil
		},
	}

	svc := NewService(userRepo, sessionRepo, &mockLinkLister{}, &mockSecretFinder{})

	if err := svc.Withdraw(context.Background(), 1); err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}
	if len(calls) != 2 || calls[0] != "sessions" || calls[1] != "user" {
		t.Errorf("delete order = %v, want [sessions user]", calls)
	}
}

// TestService_Withdraw_UserNotFound は存在しないユーザーの退会がエラーになることを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	svc := NewService(existingUser(1), &mockSessionRepo{}, &mockLinkLister{}, &mockSecretFinder{})

	err := svc.Withdraw(context.Background(), 99)
	if model.CodeOf(err) != model.ErrCodeUserNotFound {
		t.Fatalf("expected user not found, got %v", err)
	}
}

// TestService_Withdraw_SessionDeleteFails はセッション削除失敗時にユーザーを削除しないことを検証する。
func TestService_Withdraw_SessionDeleteFails(t *testing.T) {
	userDeleted := false
	userRepo := existingUser(1)
	userRepo.deleteByIDFn = func(ctx context.Context, id int64) error {
		userDeleted = true
		return nil
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID int64) error {
			return errors.New("db down")
		},
	}

	svc := NewService(userRepo, sessionRepo, &mockLinkLister{}, &mockSecretFinder{})

	err := svc.Withdraw(context.Background(), 1)
	if model.CategoryOf(err) != model.CategorySystem {
		t.Fatalf("expected system error, got %v", err)
	}
	if userDeleted {
		t.Error("user must not be deleted when session deletion fails")
	}
}

// TestService_Profile はアカウント画面の情報を集約することを検証する。
func TestService_Profile(t *testing.T) {
	links := &mockLinkLister{
		listFn: func(ctx context.Context, userID int64) ([]*model.OAuthAccount, error) {
			return []*model.OAuthAccount{{ID: 1, UserID: userID, Provider: "github", ProviderUserID: "123"}}, nil
		},
	}
	secrets := &mockSecretFinder{
		findFn: func(ctx context.Context, userID int64) (*model.TOTPSecret, error) {
			return &model.TOTPSecret{UserID: userID, Secret: "JBSWY3DPEHPK3PXP"}, nil
		},
	}

	svc := NewService(existingUser(1), &mockSessionRepo{}, links, secrets)

	p, err := svc.Profile(context.Background(), 1)
	if err != nil {
		t.Fatalf("Profile returned error: %v", err)
	}
	if p.User.Email != "test@example.com" {
		t.Errorf("Email = %q", p.User.Email)
	}
	if !p.TOTPEnabled {
		t.Error("TOTPEnabled = false, want true")
	}
	if len(p.Links) != 1 || p.Links[0].Provider != "github" {
		t.Errorf("Links = %+v", p.Links)
	}
}

// TestService_Get_NotFound は存在しないユーザーでUserNotFoundを返すことを検証する。
func TestService_Get_NotFound(t *testing.T) {
	svc := NewService(existingUser(1), &mockSessionRepo{}, &mockLinkLister{}, &mockSecretFinder{})

	if _, err := svc.Get(context.Background(), 2); model.CodeOf(err) != model.ErrCodeUserNotFound {
		t.Errorf("expected user not found, got %v", err)
	}
}
