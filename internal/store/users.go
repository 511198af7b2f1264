package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"uk.co.dudmesh.helpline/internal/model"
)

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	res, err := s.db.NamedExecContext(ctx, `insert into user
		(ID, CreatedAt, Status, Email, Name, Role, Password)
		values(:ID, :CreatedAt, :Status, :Email, :Name, :Role, :Password)`, user)

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return model.ErrorUserExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return expectOneRow(res, nil)
}

func (s *Store) User(ctx context.Context, userID model.UserID) (*model.User, error) {
	user := &model.User{}
	err := s.db.GetContext(ctx, user, `select * from user where ID = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorUserNotFound
		}
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return user, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	user := &model.User{}
	err := s.db.GetContext(ctx, user, `select * from user where Email = ?`, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorUserNotFound
		}
		return nil, fmt.Errorf("fetching user by email: %w", err)
	}
	return user, nil
}

// RecordLoginFailure bumps the failed attempt counter and locks the account
// once maxAttempts is reached. It returns the updated counter.
func (s *Store) RecordLoginFailure(ctx context.Context, userID model.UserID, maxAttempts int) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `update user set
		LoginAttempts = LoginAttempts + 1,
		Status = case when LoginAttempts + 1 >= ? then ? else Status end,
		UpdatedAt = ?
		where ID = ?`, maxAttempts, model.UserStatusLocked, now, userID)
	if err != nil {
		return 0, fmt.Errorf("recording login failure: %w", err)
	}
	if err := expectOneRow(res, model.ErrorUserNotFound); err != nil {
		return 0, err
	}

	var attempts int
	if err := s.db.GetContext(ctx, &attempts, `select LoginAttempts from user where ID = ?`, userID); err != nil {
		return 0, fmt.Errorf("reading login attempts: %w", err)
	}
	return attempts, nil
}

func (s *Store) RecordLogin(ctx context.Context, userID model.UserID) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `update user set
		LoginAttempts = 0, LastLoggedInAt = ?, UpdatedAt = ?
		where ID = ?`, now, now, userID)
	if err != nil {
		return fmt.Errorf("recording login: %w", err)
	}
	return expectOneRow(res, model.ErrorUserNotFound)
}

// SetUserStatus is used by operators to unlock or lock accounts.
func (s *Store) SetUserStatus(ctx context.Context, userID model.UserID, status model.UserStatus) error {
	res, err := s.db.ExecContext(ctx, `update user set
		Status = ?, LoginAttempts = 0, UpdatedAt = ?
		where ID = ?`, status, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("setting user status: %w", err)
	}
	return expectOneRow(res, model.ErrorUserNotFound)
}
