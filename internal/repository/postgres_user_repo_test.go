package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/bookmarket/internal/model"
)

func TestPostgresUserRepo_CreateAndFind(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()

	u := createTestUser(t, db, "alice@example.com")
	if u.ID == 0 {
		t.Fatal("Create should set the generated ID")
	}
	if u.CreatedAt.IsZero() || u.UpdatedAt.IsZero() {
		t.Error("Create should set timestamps")
	}

	byEmail, err := repo.FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail error = %v", err)
	}
	if byEmail == nil || byEmail.ID != u.ID {
		t.Fatalf("FindByEmail = %+v, want id %d", byEmail, u.ID)
	}
	if !byEmail.IsActive || !byEmail.HasPassword() {
		t.Errorf("user should be active with password: %+v", byEmail)
	}

	byID, err := repo.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID error = %v", err)
	}
	if byID == nil || byID.Email != "alice@example.com" {
		t.Errorf("FindByID = %+v", byID)
	}
}

func TestPostgresUserRepo_FindMissing_ReturnsNil(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()

	u, err := repo.FindByEmail(ctx, "nobody@example.com")
	if err != nil || u != nil {
		t.Errorf("FindByEmail = (%v, %v), want (nil, nil)", u, err)
	}
	u, err = repo.FindByID(ctx, 999)
	if err != nil || u != nil {
		t.Errorf("FindByID = (%v, %v), want (nil, nil)", u, err)
	}
}

func TestPostgresUserRepo_CreateDuplicateEmail_ReturnsConflict(t *testing.T) {
	db := openTestDB(t)
	createTestUser(t, db, "dup@example.com")

	err := NewPostgresUserRepo(db).Create(context.Background(), &model.User{Email: "dup@example.com", IsActive: true})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestPostgresUserRepo_RecordLoginFailure_LocksAtThreshold(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()
	u := createTestUser(t, db, "lock@example.com")

	now := time.Now().UTC().Truncate(time.Microsecond)
	lockUntil := now.Add(3 * time.Minute)

	for i := 1; i <= 4; i++ {
		state, err := repo.RecordLoginFailure(ctx, u.ID, now, 5, lockUntil)
		if err != nil {
			t.Fatalf("attempt %d: error = %v", i, err)
		}
		if state.FailedAttempts != i || state.LockedUntil != nil {
			t.Fatalf("attempt %d: state = %+v", i, state)
		}
	}

	state, err := repo.RecordLoginFailure(ctx, u.ID, now, 5, lockUntil)
	if err != nil {
		t.Fatalf("5th attempt error = %v", err)
	}
	if state.FailedAttempts != 5 {
		t.Errorf("FailedAttempts = %d, want 5", state.FailedAttempts)
	}
	if state.LockedUntil == nil || !state.LockedUntil.Equal(lockUntil) {
		t.Errorf("LockedUntil = %v, want %v", state.LockedUntil, lockUntil)
	}

	// ロック中は更新されない
	state, err = repo.RecordLoginFailure(ctx, u.ID, now.Add(time.Minute), 5, lockUntil)
	if err != nil || state != nil {
		t.Errorf("RecordLoginFailure while locked = (%v, %v), want (nil, nil)", state, err)
	}
	ok, err := repo.ResetLoginFailures(ctx, u.ID, now.Add(time.Minute))
	if err != nil || ok {
		t.Errorf("ResetLoginFailures while locked = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestPostgresUserRepo_RecordLoginFailure_RelocksAfterExpiredLock(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()
	u := createTestUser(t, db, "expired@example.com")

	now := time.Now().UTC().Truncate(time.Microsecond)
	if _, err := db.Exec(`UPDATE users SET failed_attempts = 5, locked_until = $2 WHERE id = $1`, u.ID, now.Add(-time.Second)); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	lockUntil := now.Add(3 * time.Minute)
	state, err := repo.RecordLoginFailure(ctx, u.ID, now, 5, lockUntil)
	if err != nil || state == nil {
		t.Fatalf("RecordLoginFailure = (%+v, %v)", state, err)
	}
	if state.FailedAttempts != 6 {
		t.Errorf("FailedAttempts = %d, want 6", state.FailedAttempts)
	}
	if state.LockedUntil == nil || !state.LockedUntil.Equal(lockUntil) {
		t.Errorf("LockedUntil = %v, want %v", state.LockedUntil, lockUntil)
	}

	// 再ロック中は成功でもリセットされない
	ok, err := repo.ResetLoginFailures(ctx, u.ID, now.Add(time.Second))
	if err != nil || ok {
		t.Errorf("ResetLoginFailures while relocked = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestPostgresUserRepo_ResetLoginFailures(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()
	u := createTestUser(t, db, "reset@example.com")

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if _, err := repo.RecordLoginFailure(ctx, u.ID, now, 5, now.Add(3*time.Minute)); err != nil {
			t.Fatalf("RecordLoginFailure error = %v", err)
		}
	}

	ok, err := repo.ResetLoginFailures(ctx, u.ID, now)
	if err != nil || !ok {
		t.Fatalf("ResetLoginFailures = (%v, %v), want (true, nil)", ok, err)
	}
	got, _ := repo.FindByID(ctx, u.ID)
	if got.FailedAttempts != 0 || got.LockedUntil != nil {
		t.Errorf("counters not cleared: %+v", got)
	}
}

func TestPostgresUserRepo_RecordLoginFailure_ConcurrentNoLostUpdates(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()
	u := createTestUser(t, db, "race@example.com")

	const n = 20
	now := time.Now().UTC()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.RecordLoginFailure(ctx, u.ID, now, 100, now.Add(3*time.Minute)); err != nil {
				t.Errorf("RecordLoginFailure error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := repo.FindByID(ctx, u.ID)
	if got.FailedAttempts != n {
		t.Errorf("FailedAttempts = %d, want %d", got.FailedAttempts, n)
	}
}

func TestPostgresUserRepo_DeleteByID_Cascades(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()
	u := createTestUser(t, db, "bye@example.com")

	session := &model.Session{ID: "s-1", UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
	if err := NewPostgresSessionRepo(db).Create(ctx, session); err != nil {
		t.Fatalf("session create error = %v", err)
	}

	if err := repo.DeleteByID(ctx, u.ID); err != nil {
		t.Fatalf("DeleteByID error = %v", err)
	}
	if s, _ := NewPostgresSessionRepo(db).FindByID(ctx, "s-1"); s != nil {
		t.Error("session should be cascade-deleted")
	}
	if err := repo.DeleteByID(ctx, u.ID); err == nil {
		t.Error("deleting a missing user should return an error")
	}
}
