package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	"github.com/google/uuid"
)

// Workflow represents a compiled workflow owned by a user.
// Definition holds the engine document as JSON text; Checksum is the
// BLAKE3 digest of Definition so redeploys can detect drift. EngineID
// is the identifier assigned by the execution engine after deployment,
// empty until the workflow has been deployed.
type Workflow struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Definition  string    `json:"definition"`
	EngineID    string    `json:"engine_id,omitempty"`
	Checksum    string    `json:"checksum"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WorkflowStore manages the workflows table
type WorkflowStore struct {
	db     *sql.DB
	logger *utils.LogsManager
}

// NewWorkflowStore creates a new workflow store
func NewWorkflowStore(db *sql.DB, logger *utils.LogsManager) (*WorkflowStore, error) {
	ws := &WorkflowStore{
		db:     db,
		logger: logger,
	}

	if err := ws.createTables(); err != nil {
		return nil, err
	}

	return ws, nil
}

// createTables creates the workflows table
func (ws *WorkflowStore) createTables() error {
	createTableSQL := `
CREATE TABLE IF NOT EXISTS workflows (
	"id" TEXT NOT NULL PRIMARY KEY,
	"user_id" TEXT NOT NULL,
	"name" TEXT NOT NULL,
	"description" TEXT,
	"definition" TEXT NOT NULL,     -- engine document JSON
	"engine_id" TEXT,               -- assigned by the engine on deploy
	"checksum" TEXT NOT NULL,
	"active" INTEGER NOT NULL DEFAULT 0,
	"created_at" INTEGER NOT NULL,  -- Unix timestamp
	"updated_at" INTEGER NOT NULL,  -- Unix timestamp

	FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_workflows_user_id ON workflows(user_id);
CREATE INDEX IF NOT EXISTS idx_workflows_engine_id ON workflows(engine_id);
CREATE INDEX IF NOT EXISTS idx_workflows_active ON workflows(active);
`

	_, err := ws.db.ExecContext(context.Background(), createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create workflows table: %v", err)
	}

	ws.logger.Debug("Created workflows table successfully", "database")
	return nil
}

// CreateWorkflow inserts a new workflow with a generated ID
func (ws *WorkflowStore) CreateWorkflow(userID, name, description, definition, checksum string) (*Workflow, error) {
	now := time.Now()
	wf := &Workflow{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Description: description,
		Definition:  definition,
		Checksum:    checksum,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := ExecWithLogging(ws.db,
		`INSERT INTO workflows (id, user_id, name, description, definition, engine_id, checksum, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, NULL, ?, 0, ?, ?)`,
		ws.logger, "workflows",
		wf.ID, wf.UserID, wf.Name, wf.Description, wf.Definition, wf.Checksum,
		wf.CreatedAt.Unix(), wf.UpdatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %v", err)
	}

	ws.logger.Info(fmt.Sprintf("Created workflow %s (%s) for user %s", wf.ID, wf.Name, userID), "workflows")
	return wf, nil
}

// GetWorkflow returns a workflow by ID scoped to its owner, or nil if not found
func (ws *WorkflowStore) GetWorkflow(userID, id string) (*Workflow, error) {
	return QueryRowSingle(ws.db,
		`SELECT id, user_id, name, description, definition, engine_id, checksum, active, created_at, updated_at
		 FROM workflows WHERE user_id = ? AND id = ?`,
		scanWorkflow, ws.logger, "workflows", userID, id)
}

// GetWorkflowByEngineID returns the workflow deployed under the given engine ID, or nil
func (ws *WorkflowStore) GetWorkflowByEngineID(engineID string) (*Workflow, error) {
	return QueryRowSingle(ws.db,
		`SELECT id, user_id, name, description, definition, engine_id, checksum, active, created_at, updated_at
		 FROM workflows WHERE engine_id = ?`,
		scanWorkflow, ws.logger, "workflows", engineID)
}

// ListWorkflows returns all workflows for a user, newest first
func (ws *WorkflowStore) ListWorkflows(userID string) ([]*Workflow, error) {
	return QueryRows(ws.db,
		`SELECT id, user_id, name, description, definition, engine_id, checksum, active, created_at, updated_at
		 FROM workflows WHERE user_id = ? ORDER BY created_at DESC`,
		scanWorkflowRows, ws.logger, "workflows", userID)
}

// UpdateDefinition replaces a workflow's definition and checksum
func (ws *WorkflowStore) UpdateDefinition(userID, id, definition, checksum string) error {
	_, err := ExecWithAffectedRowsCheck(ws.db,
		`UPDATE workflows SET definition = ?, checksum = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		ws.logger, "workflows",
		definition, checksum, time.Now().Unix(), userID, id)
	return err
}

// SetEngineID records the engine-assigned identifier after deployment
func (ws *WorkflowStore) SetEngineID(userID, id, engineID string) error {
	_, err := ExecWithAffectedRowsCheck(ws.db,
		`UPDATE workflows SET engine_id = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		ws.logger, "workflows",
		engineID, time.Now().Unix(), userID, id)
	return err
}

// SetActive updates a workflow's activation state
func (ws *WorkflowStore) SetActive(userID, id string, active bool) error {
	_, err := ExecWithAffectedRowsCheck(ws.db,
		`UPDATE workflows SET active = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		ws.logger, "workflows",
		boolToInt(active), time.Now().Unix(), userID, id)
	return err
}

// DeleteWorkflow removes a workflow. Returns sql.ErrNoRows when not found.
func (ws *WorkflowStore) DeleteWorkflow(userID, id string) error {
	_, err := ExecWithAffectedRowsCheck(ws.db,
		`DELETE FROM workflows WHERE user_id = ? AND id = ?`,
		ws.logger, "workflows", userID, id)
	if err != nil {
		return err
	}

	ws.logger.Info(fmt.Sprintf("Deleted workflow %s for user %s", id, userID), "workflows")
	return nil
}

func scanWorkflow(row *sql.Row) (*Workflow, error) {
	var wf Workflow
	var description, engineID sql.NullString
	var active sql.NullBool
	var createdAt, updatedAt int64
	if err := row.Scan(&wf.ID, &wf.UserID, &wf.Name, &description, &wf.Definition,
		&engineID, &wf.Checksum, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	wf.Description = ScanNullableString(description)
	wf.EngineID = ScanNullableString(engineID)
	wf.Active = ScanNullableBool(active)
	wf.CreatedAt = time.Unix(createdAt, 0)
	wf.UpdatedAt = time.Unix(updatedAt, 0)
	return &wf, nil
}

func scanWorkflowRows(rows *sql.Rows) (*Workflow, error) {
	var wf Workflow
	var description, engineID sql.NullString
	var active sql.NullBool
	var createdAt, updatedAt int64
	if err := rows.Scan(&wf.ID, &wf.UserID, &wf.Name, &description, &wf.Definition,
		&engineID, &wf.Checksum, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	wf.Description = ScanNullableString(description)
	wf.EngineID = ScanNullableString(engineID)
	wf.Active = ScanNullableBool(active)
	wf.CreatedAt = time.Unix(createdAt, 0)
	wf.UpdatedAt = time.Unix(updatedAt, 0)
	return &wf, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
