// Package broadcast disseminates {timestamp, servers[], vnodes[],
// ring_size, requests_histogram[]} snapshots to dashboards: a push channel
// (WebSocket) and a pull endpoint. Schema and field derivation are lifted
// from original_source's broadcast_state(); the channel hub is a much
// smaller relative of the corpus's WebSocket hubs (a handful of dashboard
// subscribers, not a high-throughput fan-out), modeled on
// conneroisu-templar's register/unregister/broadcast channel shape without
// its backpressure machinery.
package broadcast

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vinit-chauhan/chlb/internal/registry"
	"github.com/vinit-chauhan/chlb/internal/ring"
	"github.com/vinit-chauhan/chlb/logger"
)

// ServerView is one entry of StateSnapshot.Servers.
type ServerView struct {
	Name       string  `json:"name"`
	Address    string  `json:"address"`
	Port       int     `json:"port"`
	Status     string  `json:"status"`
	Weight     int     `json:"weight"`
	VNodes     int     `json:"vnodes"`
	LoadCount  uint64  `json:"load_count"`
	InstanceID string  `json:"instance_id"`
	CPU        float64 `json:"cpu"`
}

// HistogramEntry is one entry of StateSnapshot.RequestsHistogram.
type HistogramEntry struct {
	Name      string `json:"name"`
	LoadCount uint64 `json:"load_count"`
}

// stateUpdateEvent envelopes a StateSnapshot for the WebSocket push path,
// mirroring the original's socketio.emit("state_update", state) named
// event. GET /_internal/state returns the bare StateSnapshot instead; only
// subscribers pushed to over the socket need a tag to dispatch on.
type stateUpdateEvent struct {
	Event string        `json:"event"`
	Data  StateSnapshot `json:"data"`
}

func newStateUpdateEvent(snap StateSnapshot) stateUpdateEvent {
	return stateUpdateEvent{Event: "state_update", Data: snap}
}

// StateSnapshot is the schema pushed to subscribers and served by
// GET /_internal/state.
type StateSnapshot struct {
	Timestamp         float64          `json:"timestamp"`
	Servers           []ServerView     `json:"servers"`
	VNodes            []ring.VNodeView `json:"vnodes"`
	RingSize          int              `json:"ring_size"`
	RequestsHistogram []HistogramEntry `json:"requests_histogram"`
}

// Hub builds and disseminates StateSnapshots. publish() is modeled as a
// single-slot request channel: a burst of Request() calls collapses into
// one outstanding publish, and the loop goroutine always publishes the
// latest registry+ring state by the time it gets to run — satisfying "the
// last-produced snapshot is eventually delivered" without re-reading the
// registry for every coalesced call.
type Hub struct {
	store registry.Store
	mgr   *ring.Manager
	now   func() float64

	request chan struct{}

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	upgrader websocket.Upgrader
}

// NewHub returns a Hub over store and mgr. now defaults to a wall-clock
// timestamp function (Unix seconds, with a fractional part) if nil.
func NewHub(store registry.Store, mgr *ring.Manager, now func() float64) *Hub {
	if now == nil {
		now = wallClockSeconds
	}
	h := &Hub{
		store:   store,
		mgr:     mgr,
		now:     now,
		request: make(chan struct{}, 1),
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	return h
}

// Run drives the publish loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.request:
			if _, err := h.Publish(ctx); err != nil {
				logger.Warn("Broadcast", "publish failed", "error", err.Error())
			}
		}
	}
}

// Request asks for a publish without blocking; bursts coalesce into one.
func (h *Hub) Request() {
	select {
	case h.request <- struct{}{}:
	default:
	}
}

// Build assembles the current StateSnapshot from the registry and ring
// without delivering it to anyone; used by GET /_internal/state.
func (h *Hub) Build(ctx context.Context) (StateSnapshot, error) {
	docs, err := h.store.Snapshot(ctx)
	if err != nil {
		return StateSnapshot{}, err
	}
	r := h.mgr.Current()

	servers := make([]ServerView, 0, len(docs))
	hist := make([]HistogramEntry, 0, len(docs))
	v := 10
	for _, b := range docs {
		weight := b.Weight
		if weight < 1 {
			weight = 1
		}
		servers = append(servers, ServerView{
			Name:       b.Name,
			Address:    b.Address,
			Port:       b.Port,
			Status:     string(b.Status),
			Weight:     b.Weight,
			VNodes:     weight * v,
			LoadCount:  b.LoadCount,
			InstanceID: b.InstanceID,
			CPU:        b.Metrics.CPU,
		})
		hist = append(hist, HistogramEntry{Name: b.Name, LoadCount: b.LoadCount})
	}

	return StateSnapshot{
		Timestamp:         h.now(),
		Servers:           servers,
		VNodes:            r.Snapshot(),
		RingSize:          r.Size(),
		RequestsHistogram: hist,
	}, nil
}

// Publish builds a fresh StateSnapshot and pushes it to every subscriber.
// A write failure to one subscriber never propagates to the caller; the
// failed connection is dropped.
func (h *Hub) Publish(ctx context.Context) (StateSnapshot, error) {
	snap, err := h.Build(ctx)
	if err != nil {
		return StateSnapshot{}, err
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	event := newStateUpdateEvent(snap)
	for _, c := range conns {
		if err := c.WriteJSON(event); err != nil {
			logger.Warn("Broadcast", "dropping subscriber after write error", "error", err.Error())
			h.remove(c)
			c.Close()
		}
	}
	return snap, nil
}

// ServeWS upgrades r to a WebSocket and registers it as a subscriber until
// the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Broadcast", "websocket upgrade failed", "error", err.Error())
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	if snap, err := h.Build(r.Context()); err == nil {
		_ = conn.WriteJSON(newStateUpdateEvent(snap))
	}

	// Drain reads only to detect client-initiated close; the protocol is
	// push-only in the other direction.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			conn.Close()
			return
		}
	}
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}
