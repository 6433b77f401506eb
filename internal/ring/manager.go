package ring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/vinit-chauhan/chlb/internal/registry"
	"github.com/vinit-chauhan/chlb/logger"
)

// ErrRebuildFailed is returned by Trigger when a rebuild could not read a
// healthy snapshot from the registry. The previous Ring is retained.
var ErrRebuildFailed = errors.New("ring: rebuild failed")

// Manager owns the current Ring as an atomic pointer and rebuilds it from
// a registry.Store snapshot. Trigger is single-flight: concurrent callers
// while a rebuild is underway are coalesced into the in-flight build, and
// if a new trigger lands after that build already took its snapshot, one
// more rebuild runs before any caller's call returns, so that the last
// registry state observed by a Trigger is always reflected in the Ring
// handed back to it.
type Manager struct {
	store registry.Store
	v     int

	group   singleflight.Group
	mu      sync.Mutex
	pending bool

	current atomic.Pointer[Ring]
}

// NewManager returns a Manager with an empty Ring; call Trigger once at
// startup to populate it from the registry.
func NewManager(store registry.Store, v int) *Manager {
	m := &Manager{store: store, v: v}
	m.current.Store(&Ring{})
	return m
}

// Current returns the most recently built Ring. Reading it never blocks
// on, or is blocked by, a rebuild in progress.
func (m *Manager) Current() *Ring {
	return m.current.Load()
}

// Trigger requests a rebuild. See Manager doc for the coalescing rule.
func (m *Manager) Trigger(ctx context.Context) error {
	m.mu.Lock()
	m.pending = true
	m.mu.Unlock()

	for {
		if err := m.rebuild(ctx); err != nil {
			return err
		}
		// A call that joined a build just as it finished gets that build's
		// result even if its pending flag was set after the last snapshot;
		// pending is still set then, so run the build once more.
		m.mu.Lock()
		again := m.pending
		m.mu.Unlock()
		if !again {
			return nil
		}
	}
}

func (m *Manager) rebuild(ctx context.Context) error {
	_, err, _ := m.group.Do("rebuild", func() (interface{}, error) {
		var built *Ring
		for {
			m.mu.Lock()
			m.pending = false
			m.mu.Unlock()

			healthy, ferr := m.store.FindHealthy(ctx)
			if ferr != nil {
				logger.Warn("Ring", "rebuild skipped, registry unavailable", "error", ferr.Error())
				return nil, fmt.Errorf("%w: %v", ErrRebuildFailed, ferr)
			}

			built = Build(healthy, m.v)
			m.current.Store(built)
			logger.Info("Ring", "rebuilt", "vnodes", built.Size(), "backends", len(healthy))

			m.mu.Lock()
			again := m.pending
			m.mu.Unlock()
			if !again {
				return built, nil
			}
		}
	})
	return err
}
