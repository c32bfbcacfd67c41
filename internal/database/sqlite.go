package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/Flowdeck-Labs/flowdeck-node/internal/utils"
	_ "modernc.org/sqlite"
)

// SQLiteManager handles all database operations
type SQLiteManager struct {
	dir    string
	cm     *utils.ConfigManager
	db     *sql.DB
	logger *utils.LogsManager

	// Specialized stores
	Users       *UserStore
	Credentials *CredentialStore
	Workflows   *WorkflowStore
}

// NewSQLiteManager creates a new SQLite manager with all stores initialized
func NewSQLiteManager(cm *utils.ConfigManager) (*SQLiteManager, error) {
	paths := utils.GetAppPaths("")
	sqlm := &SQLiteManager{
		dir:    paths.DataDir,
		cm:     cm,
		logger: utils.NewLogsManager(cm),
	}

	// Create database connection
	db, err := sqlm.CreateConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %v", err)
	}
	sqlm.db = db

	// Initialize specialized stores
	if err := sqlm.initializeStores(); err != nil {
		return nil, fmt.Errorf("failed to initialize database stores: %v", err)
	}

	return sqlm, nil
}

// CreateConnection creates and configures the database connection
func (sqlm *SQLiteManager) CreateConnection() (*sql.DB, error) {
	// Make sure we have os specific path separator since we are adding this path to host's path
	dbFileName := sqlm.cm.GetConfigWithDefault("database_file", "./flowdeck.db")
	switch runtime.GOOS {
	case "linux", "darwin":
		dbFileName = filepath.ToSlash(dbFileName)
	case "windows":
		dbFileName = filepath.FromSlash(dbFileName)
	default:
		err := fmt.Errorf("unsupported OS type `%s`", runtime.GOOS)
		return nil, err
	}

	// create db file path
	path := filepath.Join(sqlm.dir, dbFileName)

	// Init db connection with enhanced settings for concurrent access
	db, err := sql.Open("sqlite",
		fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1&_synchronous=NORMAL", path))
	if err != nil {
		message := fmt.Sprintf("Can not create database connection. (%s)", err.Error())
		sqlm.logger.Log("error", message, "database")
		return nil, err
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	// Explicitly enable foreign key enforcement
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		message := fmt.Sprintf("Failed to enable foreign keys: %s", err.Error())
		sqlm.logger.Log("error", message, "database")
		return nil, err
	}

	// Enable WAL mode for better concurrent access
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		message := fmt.Sprintf("Failed to enable WAL mode: %s", err.Error())
		sqlm.logger.Log("warning", message, "database")
	}

	return db, nil
}

// initializeStores sets up the specialized stores and their tables
func (sqlm *SQLiteManager) initializeStores() error {
	var err error

	sqlm.Users, err = NewUserStore(sqlm.db, sqlm.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize user store: %v", err)
	}

	sqlm.Credentials, err = NewCredentialStore(sqlm.db, sqlm.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %v", err)
	}

	sqlm.Workflows, err = NewWorkflowStore(sqlm.db, sqlm.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize workflow store: %v", err)
	}

	sqlm.logger.Info("Database stores initialized successfully", "database")
	return nil
}

// GetDB returns the database connection for direct access if needed
func (sqlm *SQLiteManager) GetDB() *sql.DB {
	return sqlm.db
}

// Close closes the database connection
func (sqlm *SQLiteManager) Close() error {
	if sqlm.db != nil {
		return sqlm.db.Close()
	}
	return nil
}

// GetStats returns database statistics
func (sqlm *SQLiteManager) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	dbStats := sqlm.db.Stats()
	stats["connection_stats"] = map[string]interface{}{
		"max_open_connections": dbStats.MaxOpenConnections,
		"open_connections":     dbStats.OpenConnections,
		"in_use":               dbStats.InUse,
		"idle":                 dbStats.Idle,
	}

	return stats
}

// PerformMaintenance runs database maintenance tasks
func (sqlm *SQLiteManager) PerformMaintenance() error {
	_, err := sqlm.db.Exec("PRAGMA optimize;")
	if err != nil {
		sqlm.logger.Log("warning", fmt.Sprintf("Failed to optimize database: %v", err), "database")
	}

	_, err = sqlm.db.Exec("PRAGMA incremental_vacuum(100);")
	if err != nil {
		sqlm.logger.Log("warning", fmt.Sprintf("Failed to vacuum database: %v", err), "database")
	}

	return nil
}
