// Package store persists image records. The metadata store is the
// single source of truth for which files on disk are live.
package store

import (
	"context"
	"time"

	"github.com/dunamismax/imagehub/internal/domain"
)

// ListFilter selects which records an owner listing returns.
type ListFilter int

const (
	ListAll ListFilter = iota
	ListTransformed
	ListUntransformed
)

// RecordStore is implemented by the postgres store and the in-memory
// store used in tests and single-node setups.
type RecordStore interface {
	Create(ctx context.Context, record domain.ImageRecord) error
	Get(ctx context.Context, id string) (domain.ImageRecord, bool, error)
	SetTransformPath(ctx context.Context, id, path string, updatedAt time.Time) error
	ListByOwner(ctx context.Context, owner string, filter ListFilter, limit, offset int) ([]domain.ImageRecord, error)
	Delete(ctx context.Context, id string) error
}
