package repositories

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// maxBatchRows bounds a single multi-row INSERT so bulk imports stay under SQLite's variable limit.
const maxBatchRows = 500

// scanner is satisfied by both [sql.Row] and [sql.Rows].
type scanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by both [sql.DB] and [sql.Tx].
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// base holds the connection and statement builder shared by every repository.
type base struct {
	db *sql.DB
	sq sq.StatementBuilderType
}

func newBase(db *sql.DB) base {
	return base{db: db, sq: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
}

// exec builds and executes a statement, returning the affected row count.
func (b base) exec(ctx context.Context, x execer, q sq.Sqlizer) (int64, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	res, err := x.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

// insert builds and executes an INSERT, returning the new row id.
func (b base) insert(ctx context.Context, x execer, q sq.InsertBuilder) (int64, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	res, err := x.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// query builds and runs a SELECT.
func (b base) query(ctx context.Context, x execer, q sq.SelectBuilder) (*sql.Rows, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return x.QueryContext(ctx, query, args...)
}

// errRow reports a query build failure on Scan.
type errRow struct{ err error }

func (e errRow) Scan(...any) error { return e.err }

// queryRow builds and runs a single-row SELECT.
func (b base) queryRow(ctx context.Context, x execer, q sq.SelectBuilder) scanner {
	query, args, err := q.ToSql()
	if err != nil {
		return errRow{fmt.Errorf("failed to build query: %w", err)}
	}
	return x.QueryRowContext(ctx, query, args...)
}

// WithTx runs fn within a transaction, rolling back on error.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}
