package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/bookmarket/internal/model"
	"github.com/hitoshi/bookmarket/internal/repository"
)

// SessionService はサーバー側セッションの発行、解決、破棄を行う。
type SessionService struct {
	sessions repository.SessionRepository
	users    repository.UserRepository
	maxAge   time.Duration
	now      func() time.Time
}

// NewSessionService はSessionServiceを生成する。
func NewSessionService(sessions repository.SessionRepository, users repository.UserRepository, maxAge time.Duration) *SessionService {
	return &SessionService{
		sessions: sessions,
		users:    users,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Issue はユーザーのセッションを作成し永続化する。
// 呼び出し元はパスワードと登録済みの2要素を検証済みであること。
func (s *SessionService) Issue(ctx context.Context, userID int64) (*model.Session, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, model.NewInfrastructureError(fmt.Errorf("failed to generate session ID: %w", err))
	}

	now := s.now()
	session := &model.Session{
		ID:        id.String(),
		UserID:    userID,
		ExpiresAt: now.Add(s.maxAge),
		CreatedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, model.NewInfrastructureError(fmt.Errorf("failed to save session: %w", err))
	}

	slog.Info("session issued", slog.Int64("user_id", userID))
	return session, nil
}

// Resolve はセッションIDから有効なセッションを取得する。
// 存在しない、または期限切れの場合はnilを返す。
func (s *SessionService) Resolve(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	return session, nil
}

// CurrentUser はセッションIDから現在のユーザーを取得する。
// セッションまたはユーザーが存在しない場合はnilを返す。
func (s *SessionService) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	session, err := s.Resolve(ctx, sessionID)
	if err != nil || session == nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, model.NewInfrastructureError(err)
	}
	return user, nil
}

// Revoke はセッションを破棄する。IDが空の場合は何もしない。
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return model.NewInfrastructureError(fmt.Errorf("failed to delete session: %w", err))
	}
	return nil
}
