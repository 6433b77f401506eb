package registry

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used by tests. It implements the same atomicity rules as the MongoDB
// Registry: single-field mutation per call, guarded by one mutex.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]Backend
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Backend)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Snapshot(_ context.Context) ([]Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Backend, 0, len(m.docs))
	for _, b := range m.docs {
		out = append(out, b)
	}
	return out, nil
}

func (m *MemoryStore) FindHealthy(ctx context.Context) ([]Backend, error) {
	all, _ := m.Snapshot(ctx)
	out := all[:0]
	for _, b := range all {
		if b.Status == StatusHealthy {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemoryStore) Upsert(_ context.Context, instanceID string, fields UpsertFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.docs[instanceID]
	if !ok {
		b = Backend{
			InstanceID: instanceID,
			Status:     StatusHealthy,
			Weight:     1,
		}
	}
	if fields.Name != nil {
		b.Name = *fields.Name
	}
	if fields.Address != nil {
		b.Address = *fields.Address
	}
	if fields.Port != nil {
		b.Port = *fields.Port
	}
	if fields.Status != nil {
		b.Status = *fields.Status
	}
	if fields.Weight != nil {
		b.Weight = *fields.Weight
	}
	if fields.Metrics != nil {
		b.Metrics = *fields.Metrics
	}
	if fields.LastChecked != nil {
		b.LastChecked = *fields.LastChecked
	}
	m.docs[instanceID] = b
	return nil
}

func (m *MemoryStore) BulkReplace(_ context.Context, records []Backend) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs = make(map[string]Backend, len(records))
	for _, r := range records {
		m.docs[r.InstanceID] = r
	}
	return nil
}

func (m *MemoryStore) IncLoad(_ context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.docs[instanceID]
	if !ok {
		return nil
	}
	b.LoadCount++
	m.docs[instanceID] = b
	return nil
}

func (m *MemoryStore) SetStatus(_ context.Context, instanceID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.docs[instanceID]
	if !ok {
		return nil
	}
	b.Status = status
	m.docs[instanceID] = b
	return nil
}

func (m *MemoryStore) Rekey(_ context.Context, oldInstanceID, newInstanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.docs[oldInstanceID]
	if !ok {
		return nil
	}
	delete(m.docs, oldInstanceID)
	b.InstanceID = newInstanceID
	m.docs[newInstanceID] = b
	return nil
}
