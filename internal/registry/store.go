package registry

import "context"

// Store is the interface the rest of chlb depends on. *Registry (MongoDB)
// is the production implementation; MemoryStore backs tests.
type Store interface {
	Snapshot(ctx context.Context) ([]Backend, error)
	FindHealthy(ctx context.Context) ([]Backend, error)
	Upsert(ctx context.Context, instanceID string, fields UpsertFields) error
	BulkReplace(ctx context.Context, records []Backend) error
	IncLoad(ctx context.Context, instanceID string) error
	SetStatus(ctx context.Context, instanceID string, status Status) error
	Rekey(ctx context.Context, oldInstanceID, newInstanceID string) error
}

var _ Store = (*Registry)(nil)
