package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/duedeck/internal/domain"
	"github.com/conorfennell/duedeck/internal/vault"
)

// CreateUser inserts a new user with no connected platforms.
func (db *DB) CreateUser(ctx context.Context, email string) (*domain.User, error) {
	u := domain.User{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO users (id, email, grading_connected, created_at)
		VALUES (:id, :email, 0, :created_at)
	`, u)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user %s: %w", u.Email, err)
	}
	return &u, nil
}

// FindUserByID retrieves a user by id. It returns nil, nil when absent.
func (db *DB) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := db.conn.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to find user %s: %w", id, err)
	}
	return &u, nil
}

// FindUserByEmail retrieves a user by email. It returns nil, nil when absent.
func (db *DB) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := db.conn.GetContext(ctx, &u, `SELECT * FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to find user by email %s: %w", email, err)
	}
	return &u, nil
}

// SetLMSToken stores the sealed LMS token pair.
func (db *DB) SetLMSToken(ctx context.Context, userID string, s vault.Sealed) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE users SET lms_token_encrypted = ?, lms_token_iv = ? WHERE id = ?
	`, s.Ciphertext, s.IV, userID)
	if err != nil {
		return fmt.Errorf("failed to store lms token for user %s: %w", userID, err)
	}
	return nil
}

// ClearLMSToken removes the sealed LMS token pair.
func (db *DB) ClearLMSToken(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE users SET lms_token_encrypted = NULL, lms_token_iv = NULL WHERE id = ?
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear lms token for user %s: %w", userID, err)
	}
	return nil
}

// SetGradingPassword stores the sealed grading-platform password and marks it connected.
func (db *DB) SetGradingPassword(ctx context.Context, userID string, s vault.Sealed) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE users
		SET grading_password_encrypted = ?, grading_password_iv = ?, grading_connected = 1
		WHERE id = ?
	`, s.Ciphertext, s.IV, userID)
	if err != nil {
		return fmt.Errorf("failed to store grading password for user %s: %w", userID, err)
	}
	return nil
}

// ClearGradingPassword removes the sealed password and clears the connected flag.
func (db *DB) ClearGradingPassword(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE users
		SET grading_password_encrypted = NULL, grading_password_iv = NULL, grading_connected = 0
		WHERE id = ?
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear grading password for user %s: %w", userID, err)
	}
	return nil
}
