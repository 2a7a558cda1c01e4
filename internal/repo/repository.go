package repo

import (
	"context"
	"errors"

	"github.com/hamed0406/speedmon/internal/domain"
)

var ErrNotFound = errors.New("not found")

// CycleStore keeps the history of finished monitoring cycles.
type CycleStore interface {
	Append(ctx context.Context, r *domain.CycleRecord) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]domain.CycleRecord, error)
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*domain.CycleRecord, error)
}

const DefaultLimit = 50

// ClampLimit applies DefaultLimit to non-positive values and caps large ones.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > 1000:
		return 1000
	}
	return limit
}
