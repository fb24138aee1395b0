package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"
	"golang.org/x/sync/singleflight"

	"github.com/cotstudio/cot-studio-go/internal/embeddings"
	"github.com/cotstudio/cot-studio-go/internal/metrics"
)

// DBManager handles all database operations. All projects share one libsql
// database; project scoping is by row, not by file.
type DBManager struct {
	config   *Config
	db       *sql.DB
	provider embeddings.Provider

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt

	// upsertGroup serializes concurrent upserts for the same natural key
	// in-process; the ON CONFLICT clause stays the cross-process guarantee.
	upsertGroup singleflight.Group
}

// NewDBManager creates a new database manager and initializes the schema.
func NewDBManager(config *Config) (*DBManager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	dbURL := config.URL
	if !strings.HasPrefix(dbURL, "file:") && config.AuthToken != "" {
		if u, perr := url.Parse(dbURL); perr == nil {
			q := u.Query()
			q.Set("authToken", config.AuthToken)
			u.RawQuery = q.Encode()
			dbURL = u.String()
		}
	}

	db, err := sql.Open("libsql", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxIdleSec > 0 {
		db.SetConnMaxIdleTime(time.Duration(config.ConnMaxIdleSec) * time.Second)
	}
	if config.ConnMaxLifeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifeSec) * time.Second)
	}

	manager := &DBManager{
		config:    config,
		db:        db,
		stmtCache: make(map[string]*sql.Stmt),
	}
	manager.provider = embeddings.NewFromEnv()
	if manager.provider != nil && manager.provider.Dimensions() != config.EmbeddingDims {
		manager.provider = embeddings.WrapToDims(manager.provider, config.EmbeddingDims)
	}

	if err := manager.initialize(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return manager, nil
}

// initialize creates tables and indexes if they don't exist.
func (dm *DBManager) initialize(db *sql.DB) error {
	done := metrics.TimeOp("db_initialize")
	success := false
	defer func() { done(success) }()
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range dynamicSchema(dm.config.EmbeddingDims) {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// Config returns the active configuration.
func (dm *DBManager) Config() *Config { return dm.config }

// Provider returns the configured embeddings provider, or nil.
func (dm *DBManager) Provider() embeddings.Provider { return dm.provider }

// PoolStats reports connection pool gauges.
func (dm *DBManager) PoolStats() (inUse, idle int) {
	stats := dm.db.Stats()
	return stats.InUse, stats.Idle
}

// Close closes cached statements and the database connection.
func (dm *DBManager) Close() error {
	dm.stmtMu.Lock()
	for _, stmt := range dm.stmtCache {
		_ = stmt.Close()
	}
	dm.stmtCache = make(map[string]*sql.Stmt)
	dm.stmtMu.Unlock()

	return dm.db.Close()
}
