// Package sqlstore implements the persistence ports on database/sql for
// sqlite3, postgres and mysql.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/pkg/database"
)

//go:embed schema
var schemaFS embed.FS

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const txKey contextKey = "tx"

// DB wraps database.DB and implements TransactionManager
type DB struct {
	*database.DB
	logger *zap.Logger
}

// NewDB creates a new database wrapper
func NewDB(db *database.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     db,
		logger: logger,
	}
}

// Migrate applies the embedded schema for the connection's driver
func (db *DB) Migrate() error {
	return database.NewMigrator(db.DB, db.logger).RunMigrations(schemaFS, "schema/"+db.Driver())
}

// WithTransaction implements port.TransactionManager
// Executes the provided function within a database transaction
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// Check if already in a transaction
	if tx := extractTx(ctx); tx != nil {
		// Reuse existing transaction
		return fn(ctx)
	}

	// Start new transaction
	tx, err := db.DB.DB.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Add transaction to context
	txCtx := context.WithValue(ctx, txKey, tx)

	// Handle panic and ensure rollback
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	// Execute function
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// extractTx retrieves transaction from context if present
func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// getExecutor returns appropriate executor (transaction or database)
func (db *DB) getExecutor(ctx context.Context) executor {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return db.DB.DB
}

// executor interface covers both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// exec runs a rebound statement and returns the affected row count
func (db *DB) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := db.getExecutor(ctx).ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.getExecutor(ctx).QueryRowContext(ctx, db.Rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.getExecutor(ctx).QueryContext(ctx, db.Rebind(query), args...)
}

// insertIgnore returns the dialect's insert that skips rows violating a unique key
func (db *DB) insertIgnore(table, columns, placeholders string) string {
	switch db.Driver() {
	case database.DriverPostgres:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING", table, columns, placeholders)
	case database.DriverMySQL:
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, columns, placeholders)
	default:
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, columns, placeholders)
	}
}

// lockSuffix returns the row-lock clause for selects inside a claim.
// sqlite transactions already hold the write lock.
func (db *DB) lockSuffix() string {
	if db.Driver() == database.DriverSQLite {
		return ""
	}
	return " FOR UPDATE SKIP LOCKED"
}

// forUpdate returns the row-lock clause for read-modify-write selects
func (db *DB) forUpdate() string {
	if db.Driver() == database.DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}

// Times are stored as UTC unix nanoseconds; zero is the zero time
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Verify interface compliance
var _ port.TransactionManager = (*DB)(nil)
