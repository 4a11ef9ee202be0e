package repository

import (
	"context"

	"github.com/sakif/codetrace/internal/model"
)

type ListOptions struct {
	Limit    int
	Offset   int
	Language model.Language // optional filter
}

// ExecutionRepository stores the run journal.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *model.Execution) error
	GetByID(ctx context.Context, id string) (*model.Execution, error)
	List(ctx context.Context, opts ListOptions) ([]model.Execution, error)
}
