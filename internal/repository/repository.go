// Package repository provides data access interfaces and PostgreSQL
// implementations for the paper recommender.
//
// # Repository Interfaces
//
//   - LibraryRepository: read-only access to folders and library papers
//   - EmbeddingRepository: cached library paper vectors
//   - TaskRepository: background recommendation task lifecycle and logs
//   - RunRepository: persisted recommendation runs and their items
//   - ExcludeRepository: read-time exclusion rules
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple goroutines.
// The underlying pgxpool handles connection pooling and synchronization.
//
// # Error Handling
//
// All methods return domain-specific errors from the domain package, wrapping
// database errors with fmt.Errorf and %w:
//
//   - domain.ErrNotFound: Resource does not exist
//   - domain.ErrAlreadyExists: Unique constraint violation
//   - domain.ErrConflict: A state transition lost a race
//   - domain.ErrInvalidInput: Invalid parameters provided
//
// # Transactions
//
// Repositories accept a DBTX, so the same type works on a pool or inside a
// transaction. Operations that must commit atomically open their own
// transaction when the DBTX can begin one.
//
//	db, _ := database.New(ctx, cfg, logger)
//	tasks := repository.NewPgTaskRepository(db)
//	runs := repository.NewPgRunRepository(db)
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/paper-recommender/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
// This allows repositories to work with both direct pool connections and transactions.
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    return repository.NewPgExcludeRepository(tx).Create(ctx, exclude)
//	})
type DBTX = database.DBTX

// txBeginner is an interface for types that can begin a transaction (e.g., *pgxpool.Pool, *database.DB).
// pgx.Tx satisfies it too, in which case Begin opens a savepoint.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505" // unique_violation
	pgForeignKeyViolation = "23503" // foreign_key_violation
)

// inTx runs fn inside a transaction opened on db. fn's error rolls back.
func inTx(ctx context.Context, db DBTX, fn func(tx pgx.Tx) error) error {
	beginner, ok := db.(txBeginner)
	if !ok {
		return fmt.Errorf("repository: %T cannot begin a transaction", db)
	}

	tx, err := beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

// isPgForeignKeyViolation checks if the error is a PostgreSQL foreign key violation.
func isPgForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == pgForeignKeyViolation
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// pgConstraint returns the violated constraint name, or "".
func pgConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString returns the pointed-to string, or "" for nil.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
