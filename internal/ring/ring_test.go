package ring

import (
	"context"
	"crypto/md5"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinit-chauhan/chlb/internal/registry"
)

func healthy(name string, weight int) registry.Backend {
	return registry.Backend{
		InstanceID: name + "-id",
		Name:       name,
		Status:     registry.StatusHealthy,
		Weight:     weight,
	}
}

func TestBuild_EmptySnapshotYieldsEmptyRing(t *testing.T) {
	r := Build(nil, 10)
	assert.Equal(t, 0, r.Size())
	b, ok := r.Get("anything")
	assert.False(t, ok)
	assert.Nil(t, b)
}

func TestBuild_VNodeCountEqualsWeightTimesV(t *testing.T) {
	backends := []registry.Backend{healthy("B1", 1), healthy("B2", 3)}
	r := Build(backends, 10)
	assert.Equal(t, 40, r.Size())

	counts := map[string]int{}
	for _, vn := range r.vnodes {
		counts[vn.backend.Name]++
	}
	assert.Equal(t, 10, counts["B1"])
	assert.Equal(t, 30, counts["B2"])
}

func TestBuild_ExcludesUnhealthyAndZeroWeight(t *testing.T) {
	backends := []registry.Backend{
		healthy("B1", 1),
		{InstanceID: "b2", Name: "B2", Status: registry.StatusUnhealthy, Weight: 5},
		{InstanceID: "b3", Name: "B3", Status: registry.StatusHealthy, Weight: 0},
	}
	r := Build(backends, 10)
	assert.Equal(t, 10, r.Size())
	for _, vn := range r.vnodes {
		assert.Equal(t, "B1", vn.backend.Name)
	}
}

func TestBuild_IsIdempotentAndDeterministic(t *testing.T) {
	backends := []registry.Backend{healthy("B1", 2), healthy("B2", 5)}
	r1 := Build(backends, 10)
	r2 := Build(backends, 10)
	require.Equal(t, r1.Size(), r2.Size())
	for i := range r1.vnodes {
		assert.Equal(t, r1.vnodes[i].hash, r2.vnodes[i].hash)
		assert.Equal(t, r1.vnodes[i].backend.Name, r2.vnodes[i].backend.Name)
	}
}

func TestGet_SingleBackendOwnsEveryKey(t *testing.T) {
	r := Build([]registry.Backend{healthy("Solo", 3)}, 10)
	for _, k := range []string{"a", "b", "zzz", ""} {
		b, ok := r.Get(k)
		require.True(t, ok)
		assert.Equal(t, "Solo", b.Name)
	}
}

func TestGet_StableAcrossRepeatedCalls(t *testing.T) {
	r := Build([]registry.Backend{healthy("B1", 1), healthy("B2", 1)}, 10)
	first, _ := r.Get("foo")
	for i := 0; i < 100; i++ {
		again, _ := r.Get("foo")
		assert.Same(t, first, again)
	}
}

// TestGet_ExactHashMatchAdvancesPastTie verifies the preserved "open
// question" behavior: a key whose hash exactly equals a stored vnode
// position does NOT own that position; ownership advances to the next
// one (wrapping if the tied position was the last).
func TestGet_ExactHashMatchAdvancesPastTie(t *testing.T) {
	r := Build([]registry.Backend{healthy("B1", 1), healthy("B2", 1)}, 10)
	n := r.Size()
	require.True(t, n > 1)

	// Tie on a position whose successor belongs to the other backend, so
	// an equal-position hit and a next-position hit give different owners.
	tied := -1
	for i := 0; i < n; i++ {
		if r.vnodes[i].backend.Name != r.vnodes[(i+1)%n].backend.Name {
			tied = i
			break
		}
	}
	require.True(t, tied >= 0)

	tiedKey := findPreimage(t, r.vnodes[tied].hash)

	b, ok := r.Get(tiedKey)
	require.True(t, ok)
	assert.Equal(t, r.vnodes[(tied+1)%n].backend.Name, b.Name)
	assert.NotEqual(t, r.vnodes[tied].backend.Name, b.Name)
}

// findPreimage discovers a string whose MD5 equals target by trying the
// ring's own vnode keys ("B1-0".."B1-9", "B2-0".."B2-9"), one of which
// produced every position of a ring built from B1 and B2 at weight 1.
func findPreimage(t *testing.T, target [16]byte) string {
	t.Helper()
	for _, name := range []string{"B1", "B2"} {
		for i := 0; i < 10; i++ {
			key := fmt.Sprintf("%s-%d", name, i)
			if md5.Sum([]byte(key)) == target {
				return key
			}
		}
	}
	t.Fatal("no known preimage found for tied hash")
	return ""
}

func TestManager_TriggerBuildsFromRegistrySnapshot(t *testing.T) {
	store := registry.NewMemoryStore()
	require.NoError(t, store.BulkReplace(context.Background(), []registry.Backend{healthy("B1", 1)}))

	mgr := NewManager(store, 10)
	assert.Equal(t, 0, mgr.Current().Size())

	require.NoError(t, mgr.Trigger(context.Background()))
	assert.Equal(t, 10, mgr.Current().Size())
}

func TestManager_ConcurrentTriggersCoalesce(t *testing.T) {
	store := registry.NewMemoryStore()
	require.NoError(t, store.BulkReplace(context.Background(), []registry.Backend{healthy("B1", 1), healthy("B2", 9)}))
	mgr := NewManager(store, 10)

	const n = 50
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { errs <- mgr.Trigger(context.Background()) }()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, 100, mgr.Current().Size())
}
