// Package repository declares the storage interfaces the service layer depends on.
// Implementations live in sub-packages (sqlite).
package repository

import (
	"context"

	"github.com/coderscreen/coderunner/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// ExecutionRepository stores the execution history of every room.
type ExecutionRepository interface {
	Create(ctx context.Context, rec *model.ExecutionRecord) error
	GetByID(ctx context.Context, id string) (*model.ExecutionRecord, error)
	ListByRoom(ctx context.Context, roomID string, opts ListOptions) ([]model.ExecutionRecord, error)
}
