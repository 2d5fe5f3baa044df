// Package dbexec provides database query execution abstractions. It supports
// direct execution against a single handle and replica-first execution with a
// single fallback to the primary.
package dbexec

import (
	"context"
	"database/sql"
	"fmt"
)

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor abstracts SQL execution so callers can swap in replica-aware
// behavior.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against
// the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

// FailoverExecutor tries the read replica first and falls back to the primary
// exactly once. Without a replica it behaves like a StandardExecutor on the
// primary.
type FailoverExecutor struct {
	primary *sql.DB
	replica *sql.DB

	// OnFallback, when set, observes the replica error that triggered the
	// fallback. Used for logging and metrics.
	OnFallback func(err error)
}

// NewFailoverExecutor creates a replica-first executor. replica may be nil.
func NewFailoverExecutor(primary, replica *sql.DB) *FailoverExecutor {
	return &FailoverExecutor{primary: primary, replica: replica}
}

func (e *FailoverExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	var replicaErr error
	if e.replica != nil {
		rows, err := e.replica.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		replicaErr = err
		if e.OnFallback != nil {
			e.OnFallback(err)
		}
	}

	if e.primary == nil {
		if replicaErr != nil {
			return nil, replicaErr
		}
		return nil, sql.ErrConnDone
	}

	rows, err := e.primary.QueryContext(ctx, query, args...)
	if err != nil && replicaErr != nil {
		return nil, fmt.Errorf("primary failed after replica (%v): %w", replicaErr, err)
	}
	return rows, err
}
