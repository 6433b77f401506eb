package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinit-chauhan/chlb/internal/registry"
	"github.com/vinit-chauhan/chlb/internal/ring"
)

func TestBuild_EmptyRegistryYieldsEmptySnapshot(t *testing.T) {
	store := registry.NewMemoryStore()
	mgr := ring.NewManager(store, 10)
	hub := NewHub(store, mgr, func() float64 { return 42 })

	snap, err := hub.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(42), snap.Timestamp)
	assert.Equal(t, 0, snap.RingSize)
	assert.Empty(t, snap.Servers)
}

func TestBuild_ReflectsRegistryAndRing(t *testing.T) {
	store := registry.NewMemoryStore()
	ctx := context.Background()
	w := 1
	require.NoError(t, store.Upsert(ctx, "b1", registry.UpsertFields{
		Name: strPtr("B1"), Weight: &w,
	}))

	mgr := ring.NewManager(store, 10)
	require.NoError(t, mgr.Trigger(ctx))

	hub := NewHub(store, mgr, nil)
	snap, err := hub.Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, 10, snap.RingSize)
	require.Len(t, snap.Servers, 1)
	assert.Equal(t, "B1", snap.Servers[0].Name)
	assert.Equal(t, 10, snap.Servers[0].VNodes)
	assert.Len(t, snap.VNodes, 10)
}

func TestServeWS_InitialPushIsEnvelopedAsStateUpdate(t *testing.T) {
	store := registry.NewMemoryStore()
	mgr := ring.NewManager(store, 10)
	hub := NewHub(store, mgr, func() float64 { return 7 })

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var got stateUpdateEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "state_update", got.Event)
	assert.Equal(t, float64(7), got.Data.Timestamp)
}

func TestPublish_PushesEnvelopedStateUpdateToSubscribers(t *testing.T) {
	store := registry.NewMemoryStore()
	mgr := ring.NewManager(store, 10)
	hub := NewHub(store, mgr, func() float64 { return 9 })

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var initial stateUpdateEvent
	require.NoError(t, conn.ReadJSON(&initial))

	_, err = hub.Publish(context.Background())
	require.NoError(t, err)

	var got stateUpdateEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "state_update", got.Event)
}

func strPtr(s string) *string { return &s }
