// Command chlb-bootstrap seeds the Registry from a BackendDiscoverer,
// wiping whatever was there before. Analogous to original_source's
// mongo_bootstrap.py run as a standalone script at deploy time.
package main

import (
	"context"
	"time"

	"github.com/vinit-chauhan/chlb/internal/bootstrap"
	"github.com/vinit-chauhan/chlb/internal/config"
	"github.com/vinit-chauhan/chlb/internal/discovery"
	"github.com/vinit-chauhan/chlb/internal/registry"
	"github.com/vinit-chauhan/chlb/logger"
)

func init() {
	logger.Init()
}

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		logger.Panic("init", "environment not configured", "error", err.Error())
	}

	ctx := context.Background()
	store, err := registry.Open(ctx, env.MongoURI, 10*time.Second)
	if err != nil {
		logger.Panic("init", "failed to connect to registry", "error", err.Error())
	}
	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.Error("main", "failed to close registry", "error", err.Error())
		}
	}()

	// The fleet's membership source for this deployment; swap for a real
	// cloud-backed discovery.BackendDiscoverer to enumerate a live fleet.
	discoverer := discovery.NewStatic(nil)

	if err := bootstrap.Run(ctx, store, discoverer); err != nil {
		logger.Panic("main", "bootstrap failed", "error", err.Error())
	}
	logger.Info("main", "bootstrap complete")
}
