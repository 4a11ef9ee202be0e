package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/codetrace/internal/apperror"
	"github.com/sakif/codetrace/internal/model"
	"github.com/sakif/codetrace/internal/repository"
)

var _ repository.ExecutionRepository = (*DB)(nil)

const executionColumns = `id, request_id, language, failed, message, event_count, source_bytes, duration_ms, created_at`

// Create inserts a journal entry. ID and CreatedAt are assigned here.
func (db *DB) Create(ctx context.Context, exec *model.Execution) error {
	// xid ids sort by creation time, which keeps the journal naturally ordered.
	exec.ID = xid.New().String()
	exec.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		exec.RequestID,
		string(exec.Language),
		exec.Failed,
		exec.Message,
		exec.EventCount,
		exec.SourceBytes,
		exec.DurationMs,
		exec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating execution: %w", err)
	}
	return nil
}

// GetByID returns one journal entry or an apperror.ErrNotFound error.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`,
		id,
	)

	exec, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("execution", id)
		}
		return nil, fmt.Errorf("sqlite: getting execution %s: %w", id, err)
	}
	return exec, nil
}

// List returns journal entries newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Execution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	args := make([]any, 0, 3)
	if opts.Language != "" {
		query += ` WHERE language = ?`
		args = append(args, string(opts.Language))
	}
	// id breaks ties between entries created within the same clock tick.
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing executions: %w", err)
	}
	defer rows.Close()

	execs := make([]model.Execution, 0, limit)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning execution row: %w", err)
		}
		execs = append(execs, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating executions: %w", err)
	}
	return execs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*model.Execution, error) {
	var (
		exec     model.Execution
		language string
	)
	err := s.Scan(
		&exec.ID,
		&exec.RequestID,
		&language,
		&exec.Failed,
		&exec.Message,
		&exec.EventCount,
		&exec.SourceBytes,
		&exec.DurationMs,
		&exec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	exec.Language = model.Language(language)
	return &exec, nil
}
