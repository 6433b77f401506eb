package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinit-chauhan/chlb/internal/discovery"
	"github.com/vinit-chauhan/chlb/internal/registry"
)

func TestRun_SeedsRegistryFromDiscoverer(t *testing.T) {
	store := registry.NewMemoryStore()
	disc := discovery.NewStatic([]discovery.Tuple{
		{Name: "B1", Address: "10.0.0.1", Port: 8080, InstanceID: "i-1"},
		{Name: "B2", Address: "10.0.0.2", Port: 8080, InstanceID: "i-2"},
	})

	require.NoError(t, Run(context.Background(), store, disc))

	docs, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, registry.StatusHealthy, d.Status)
		assert.Equal(t, 1, d.Weight)
		assert.Equal(t, uint64(0), d.LoadCount)
	}
}

func TestRun_WipesExistingRecordsNotInDiscovery(t *testing.T) {
	store := registry.NewMemoryStore()
	require.NoError(t, store.BulkReplace(context.Background(), []registry.Backend{
		{InstanceID: "stale", Name: "Stale", Status: registry.StatusHealthy, Weight: 1},
	}))

	disc := discovery.NewStatic([]discovery.Tuple{{Name: "B1", Address: "10.0.0.1", Port: 8080, InstanceID: "i-1"}})
	require.NoError(t, Run(context.Background(), store, disc))

	docs, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "i-1", docs[0].InstanceID)
}

type failingDiscoverer struct{}

func (failingDiscoverer) ListBackends(context.Context) ([]discovery.Tuple, error) {
	return nil, errors.New("boom")
}
func (failingDiscoverer) ByAddress(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func TestRun_ExhaustsRetriesAndReturnsError(t *testing.T) {
	store := registry.NewMemoryStore()
	orig := RetryBackoff
	RetryBackoff = 0
	defer func() { RetryBackoff = orig }()

	err := Run(context.Background(), store, failingDiscoverer{})
	require.Error(t, err)
}
