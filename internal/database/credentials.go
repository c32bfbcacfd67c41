package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/google/uuid"
)

// Credential represents one stored third-party credential for a user.
// EncryptedData holds the cipher token produced by crypto.EncryptData;
// plaintext credential JSON never touches the database.
type Credential struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Service       string    `json:"service"`
	EncryptedData string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CredentialStore manages the credentials table
type CredentialStore struct {
	db     *sql.DB
	logger *utils.LogsManager
}

// NewCredentialStore creates a new credential store
func NewCredentialStore(db *sql.DB, logger *utils.LogsManager) (*CredentialStore, error) {
	cs := &CredentialStore{
		db:     db,
		logger: logger,
	}

	if err := cs.createTables(); err != nil {
		return nil, err
	}

	return cs, nil
}

// createTables creates the credentials table
func (cs *CredentialStore) createTables() error {
	createTableSQL := `
CREATE TABLE IF NOT EXISTS credentials (
	"id" TEXT NOT NULL PRIMARY KEY,
	"user_id" TEXT NOT NULL,
	"service" TEXT NOT NULL,
	"encrypted_data" TEXT NOT NULL,
	"created_at" INTEGER NOT NULL,  -- Unix timestamp
	"updated_at" INTEGER NOT NULL,  -- Unix timestamp

	UNIQUE(user_id, service),
	FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_credentials_user_id ON credentials(user_id);
CREATE INDEX IF NOT EXISTS idx_credentials_service ON credentials(service);
`

	_, err := cs.db.ExecContext(context.Background(), createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create credentials table: %v", err)
	}

	cs.logger.Debug("Created credentials table successfully", "database")
	return nil
}

// UpsertCredential stores an encrypted credential for (user, service).
// An existing row for the same pair is overwritten in place, keeping
// its ID and created_at.
func (cs *CredentialStore) UpsertCredential(userID, service, encryptedData string) (*Credential, error) {
	now := time.Now()

	existing, err := cs.GetCredential(userID, service)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		_, err = ExecWithAffectedRowsCheck(cs.db,
			`UPDATE credentials SET encrypted_data = ?, updated_at = ? WHERE id = ?`,
			cs.logger, "credentials",
			encryptedData, now.Unix(), existing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update credential: %v", err)
		}
		existing.EncryptedData = encryptedData
		existing.UpdatedAt = now
		cs.logger.Info(fmt.Sprintf("Updated %s credential for user %s", service, userID), "credentials")
		return existing, nil
	}

	cred := &Credential{
		ID:            uuid.NewString(),
		UserID:        userID,
		Service:       service,
		EncryptedData: encryptedData,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = ExecWithLogging(cs.db,
		`INSERT INTO credentials (id, user_id, service, encrypted_data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cs.logger, "credentials",
		cred.ID, cred.UserID, cred.Service, cred.EncryptedData,
		cred.CreatedAt.Unix(), cred.UpdatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert credential: %v", err)
	}

	cs.logger.Info(fmt.Sprintf("Stored %s credential for user %s", service, userID), "credentials")
	return cred, nil
}

// GetCredential returns the credential for (user, service), or nil if not found
func (cs *CredentialStore) GetCredential(userID, service string) (*Credential, error) {
	return QueryRowSingle(cs.db,
		`SELECT id, user_id, service, encrypted_data, created_at, updated_at
		 FROM credentials WHERE user_id = ? AND service = ?`,
		scanCredential, cs.logger, "credentials", userID, service)
}

// ListCredentials returns all credentials for a user, ordered by service
func (cs *CredentialStore) ListCredentials(userID string) ([]*Credential, error) {
	return QueryRows(cs.db,
		`SELECT id, user_id, service, encrypted_data, created_at, updated_at
		 FROM credentials WHERE user_id = ? ORDER BY service`,
		scanCredentialRows, cs.logger, "credentials", userID)
}

// DeleteCredential removes the credential for (user, service).
// Returns sql.ErrNoRows when no such credential exists.
func (cs *CredentialStore) DeleteCredential(userID, service string) error {
	_, err := ExecWithAffectedRowsCheck(cs.db,
		`DELETE FROM credentials WHERE user_id = ? AND service = ?`,
		cs.logger, "credentials", userID, service)
	if err != nil {
		return err
	}

	cs.logger.Info(fmt.Sprintf("Deleted %s credential for user %s", service, userID), "credentials")
	return nil
}

func scanCredential(row *sql.Row) (*Credential, error) {
	var cred Credential
	var createdAt, updatedAt int64
	if err := row.Scan(&cred.ID, &cred.UserID, &cred.Service, &cred.EncryptedData, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	cred.CreatedAt = time.Unix(createdAt, 0)
	cred.UpdatedAt = time.Unix(updatedAt, 0)
	return &cred, nil
}

func scanCredentialRows(rows *sql.Rows) (*Credential, error) {
	var cred Credential
	var createdAt, updatedAt int64
	if err := rows.Scan(&cred.ID, &cred.UserID, &cred.Service, &cred.EncryptedData, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	cred.CreatedAt = time.Unix(createdAt, 0)
	cred.UpdatedAt = time.Unix(updatedAt, 0)
	return &cred, nil
}
