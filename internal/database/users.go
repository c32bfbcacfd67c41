package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/google/uuid"
)

// User represents a registered account
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserStore manages the users table
type UserStore struct {
	db     *sql.DB
	logger *utils.LogsManager
}

// NewUserStore creates a new user store
func NewUserStore(db *sql.DB, logger *utils.LogsManager) (*UserStore, error) {
	us := &UserStore{
		db:     db,
		logger: logger,
	}

	if err := us.createTables(); err != nil {
		return nil, err
	}

	return us, nil
}

// createTables creates the users table
func (us *UserStore) createTables() error {
	createTableSQL := `
CREATE TABLE IF NOT EXISTS users (
	"id" TEXT NOT NULL PRIMARY KEY,
	"email" TEXT NOT NULL UNIQUE,
	"password_hash" TEXT NOT NULL,
	"created_at" INTEGER NOT NULL   -- Unix timestamp
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

	_, err := us.db.ExecContext(context.Background(), createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create users table: %v", err)
	}

	us.logger.Debug("Created users table successfully", "database")
	return nil
}

// CreateUser inserts a new user with a generated ID.
// Email is stored lowercased so lookups are case-insensitive.
func (us *UserStore) CreateUser(email, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}

	_, err := ExecWithLogging(us.db,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		us.logger, "users",
		user.ID, user.Email, user.PasswordHash, user.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %v", err)
	}

	us.logger.Info(fmt.Sprintf("Created user %s", user.ID), "users")
	return user, nil
}

// GetUserByEmail returns the user with the given email, or nil if not found
func (us *UserStore) GetUserByEmail(email string) (*User, error) {
	return QueryRowSingle(us.db,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`,
		scanUser, us.logger, "users",
		strings.ToLower(strings.TrimSpace(email)))
}

// GetUserByID returns the user with the given ID, or nil if not found
func (us *UserStore) GetUserByID(id string) (*User, error) {
	return QueryRowSingle(us.db,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`,
		scanUser, us.logger, "users", id)
}

// DeleteUser removes a user. Credentials and workflows cascade via foreign keys.
func (us *UserStore) DeleteUser(id string) error {
	_, err := ExecWithAffectedRowsCheck(us.db,
		`DELETE FROM users WHERE id = ?`,
		us.logger, "users", id)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("user %s not found", id)
		}
		return fmt.Errorf("failed to delete user: %v", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAt int64
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &createdAt); err != nil {
		return nil, err
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}
