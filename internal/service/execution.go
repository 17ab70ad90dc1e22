// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// ExecutionService sits between the HTTP handlers and two collaborators: the
// executor, which runs code in a sandbox, and the repository, which keeps the
// history of every room. Both are injected as interfaces so tests can pass
// fakes and main decides on the concrete implementations.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coderscreen/coderunner/internal/apperror"
	"github.com/coderscreen/coderunner/internal/executor"
	"github.com/coderscreen/coderunner/internal/model"
	"github.com/coderscreen/coderunner/internal/repository"
)

// Validation constants.
const (
	MaxRoomIDLength  = 128
	MaxCodeLength    = 100000 // ~100KB of code
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// historyTimeout bounds the history write, which runs even if the caller
// has gone away.
const historyTimeout = 5 * time.Second

// ExecutionService runs submissions and records them in the room's history.
type ExecutionService struct {
	exec   executor.Executor
	repo   repository.ExecutionRepository
	logger *slog.Logger
}

// NewExecutionService creates a new ExecutionService.
func NewExecutionService(exec executor.Executor, repo repository.ExecutionRepository, logger *slog.Logger) *ExecutionService {
	return &ExecutionService{
		exec:   exec,
		repo:   repo,
		logger: logger,
	}
}

// Execute validates a submission, runs it, and records it.
//
// 1. ACCEPT PRIMITIVES, NOT HTTP TYPES:
//    The signature is (ctx, roomID, language, code), so the same rules apply to
//    an HTTP request, a CLI, or a test.
//
// 2. RESULT BEATS HISTORY:
//    The program already ran by the time the record is written. If the write
//    fails, the user still gets their output; the failure is only logged.
func (s *ExecutionService) Execute(ctx context.Context, roomID, language, code string) (*model.ExecutionResult, error) {
	roomID = strings.TrimSpace(roomID)
	language = strings.ToLower(strings.TrimSpace(language))

	if roomID == "" {
		return nil, apperror.ValidationFailed("roomId", "room id is required")
	}
	if len(roomID) > MaxRoomIDLength {
		return nil, apperror.ValidationFailed("roomId",
			fmt.Sprintf("room id must be %d characters or less", MaxRoomIDLength))
	}
	if language == "" {
		return nil, apperror.ValidationFailed("language", "language is required")
	}
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "code is required")
	}
	if len(code) > MaxCodeLength {
		return nil, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}

	res, err := s.exec.Execute(ctx, model.ExecutionRequest{
		RoomID:   roomID,
		Language: language,
		Code:     code,
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, roomID, language, code, res)
	return res, nil
}

func (s *ExecutionService) record(ctx context.Context, roomID, language, code string, res *model.ExecutionResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()

	rec := &model.ExecutionRecord{
		ExecutionResult: *res,
		RoomID:          roomID,
		Language:        language,
		Code:            code,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		s.logger.Error("failed to record execution",
			slog.String("id", res.ID),
			slog.String("room", roomID),
			slog.String("error", err.Error()),
		)
	}
}

// GetByID retrieves a recorded execution of roomID.
//
// An execution that exists but belongs to another room is reported as not
// found, so a room token never reveals another room's history.
func (s *ExecutionService) GetByID(ctx context.Context, roomID, id string) (*model.ExecutionRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "execution ID is required")
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.RoomID != strings.TrimSpace(roomID) {
		return nil, apperror.NotFound("execution", id)
	}
	return rec, nil
}

// ListByRoom returns a room's executions, newest first.
// limit is clamped to 1..100 (default 20); a negative offset is treated as 0.
func (s *ExecutionService) ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]model.ExecutionRecord, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, apperror.ValidationFailed("roomId", "room id is required")
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.repo.ListByRoom(ctx, roomID, repository.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list executions",
			slog.String("room", roomID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	return records, nil
}
