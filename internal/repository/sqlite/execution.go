package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/coderscreen/coderunner/internal/apperror"
	"github.com/coderscreen/coderunner/internal/model"
	"github.com/coderscreen/coderunner/internal/repository"
)

var _ repository.ExecutionRepository = (*DB)(nil)

const executionColumns = `id, room_id, language, code, success, timestamp,
	stdout, stderr, exit_code, elapsed_ms, compile_ms, created_at`

// Create inserts an execution record.
//
// The record normally arrives with the id the executor gave its result, so a
// client can look the execution up by the id it was shown. A record without
// one gets a fresh xid.
func (db *DB) Create(ctx context.Context, rec *model.ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = xid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	// Stored as text; one zone keeps ORDER BY created_at chronological.
	rec.CreatedAt = rec.CreatedAt.UTC()

	var compileMs sql.NullInt64
	if rec.CompileTime != nil {
		compileMs = sql.NullInt64{Int64: *rec.CompileTime, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.RoomID,
		rec.Language,
		rec.Code,
		rec.Success,
		rec.Timestamp,
		rec.Stdout,
		rec.Stderr,
		rec.ExitCode,
		rec.ElapsedTime,
		compileMs,
		rec.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperror.Conflict("execution", rec.ID)
		}
		return fmt.Errorf("sqlite: creating execution: %w", err)
	}
	return nil
}

// GetByID retrieves a single execution by its id.
// sql.ErrNoRows is translated to apperror.NotFound so the handler answers 404.
func (db *DB) GetByID(ctx context.Context, id string) (*model.ExecutionRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`,
		id,
	)

	rec, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("execution", id)
		}
		return nil, fmt.Errorf("sqlite: getting execution %s: %w", id, err)
	}
	return rec, nil
}

// ListByRoom returns a room's executions, newest first.
//
// Limit defaults to 20 and is capped at 100. Rows created within the same
// instant are ordered by id, which for xid follows creation order.
func (db *DB) ListByRoom(ctx context.Context, roomID string, opts repository.ListOptions) ([]model.ExecutionRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := max(0, opts.Offset)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+executionColumns+`
		 FROM executions
		 WHERE room_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		roomID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing executions: %w", err)
	}
	defer rows.Close()

	records := make([]model.ExecutionRecord, 0, limit)
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning execution row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating executions: %w", err)
	}
	return records, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*model.ExecutionRecord, error) {
	var (
		rec       model.ExecutionRecord
		compileMs sql.NullInt64
	)
	err := s.Scan(
		&rec.ID,
		&rec.RoomID,
		&rec.Language,
		&rec.Code,
		&rec.Success,
		&rec.Timestamp,
		&rec.Stdout,
		&rec.Stderr,
		&rec.ExitCode,
		&rec.ElapsedTime,
		&compileMs,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if compileMs.Valid {
		v := compileMs.Int64
		rec.CompileTime = &v
	}
	return &rec, nil
}
