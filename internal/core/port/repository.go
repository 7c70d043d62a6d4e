package port

import (
	"context"
)

// SnapshotRepository is a small key/value store for local recovery state.
// Get returns domain.ErrNotFound for a missing key; Delete of a missing key
// is not an error.
type SnapshotRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
