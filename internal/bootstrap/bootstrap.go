// Package bootstrap seeds the Registry from a BackendDiscoverer at
// deployment time. Grounded on original_source's mongo_bootstrap.py: the
// same bounded-retry shape (5 tries, 5s backoff) around the same
// discover-then-write step, generalized from mongo_bootstrap.py's
// find-or-insert-by-ip to spec.md §4.4's explicit wipe-and-repopulate via
// Store.BulkReplace.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/vinit-chauhan/chlb/internal/discovery"
	"github.com/vinit-chauhan/chlb/internal/registry"
	"github.com/vinit-chauhan/chlb/logger"
)

// MaxAttempts and RetryBackoff match mongo_bootstrap.py's __main__ loop.
// RetryBackoff is a var, not a const, so tests can shrink it.
const MaxAttempts = 5

var RetryBackoff = 5 * time.Second

// Run wipes store and repopulates it from discoverer, retrying the whole
// discover+write step up to MaxAttempts times with RetryBackoff between
// attempts. Seeded records start HEALTHY, weight 1, load_count 0.
func Run(ctx context.Context, store registry.Store, discoverer discovery.BackendDiscoverer) error {
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := once(ctx, store, discoverer); err != nil {
			lastErr = err
			logger.Warn("Bootstrap", "attempt failed", "attempt", attempt, "error", err.Error())
			if attempt == MaxAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(RetryBackoff):
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("bootstrap: exhausted %d attempts: %w", MaxAttempts, lastErr)
}

func once(ctx context.Context, store registry.Store, discoverer discovery.BackendDiscoverer) error {
	tuples, err := discoverer.ListBackends(ctx)
	if err != nil {
		return fmt.Errorf("discover backends: %w", err)
	}

	records := make([]registry.Backend, 0, len(tuples))
	for _, tup := range tuples {
		records = append(records, registry.Backend{
			InstanceID: tup.InstanceID,
			Name:       tup.Name,
			Address:    tup.Address,
			Port:       tup.Port,
			Status:     registry.StatusHealthy,
			Weight:     1,
			LoadCount:  0,
		})
	}

	if err := store.BulkReplace(ctx, records); err != nil {
		return fmt.Errorf("seed registry: %w", err)
	}
	logger.Info("Bootstrap", "seeded registry", "backends", len(records))
	return nil
}
