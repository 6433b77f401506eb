// Command chlb runs the weighted consistent-hash load balancer: the
// Router's HTTP surface, the Ring manager, the three control-loop tasks
// (health probe, weight recalculation, periodic rebuild), and the state
// broadcaster, wired together the way the teacher's
// main.go wires its LoadBalancer, watchConfig goroutine, and graceful
// shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinit-chauhan/chlb/internal/broadcast"
	"github.com/vinit-chauhan/chlb/internal/config"
	"github.com/vinit-chauhan/chlb/internal/controlloop"
	"github.com/vinit-chauhan/chlb/internal/discovery"
	"github.com/vinit-chauhan/chlb/internal/metricsource"
	"github.com/vinit-chauhan/chlb/internal/registry"
	"github.com/vinit-chauhan/chlb/internal/ring"
	"github.com/vinit-chauhan/chlb/internal/router"
	"github.com/vinit-chauhan/chlb/internal/tracing"
	"github.com/vinit-chauhan/chlb/logger"
)

func init() {
	logger.Init()
	logger.SetLogLevel(logger.LevelDebug)
	logger.Debug("init", "logger initialized")
}

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		logger.Panic("init", "environment not configured", "error", err.Error())
	}

	tunables := config.NewStore()
	if err := tunables.LoadFile(env.ConfigPath); err != nil {
		logger.Panic("init", "failed to load tunables", "error", err.Error())
	}

	shutdownTracing, err := tracing.Init()
	if err != nil {
		logger.Panic("init", "failed to initialize tracing", "error", err.Error())
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("main", "failed to shutdown tracer", "error", err.Error())
		}
	}()

	store, err := registry.Open(context.Background(), env.MongoURI, 10*time.Second)
	if err != nil {
		logger.Panic("init", "failed to connect to registry", "error", err.Error())
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Error("main", "failed to close registry", "error", err.Error())
		}
	}()

	done := make(chan struct{})
	defer close(done)
	if err := config.Watch(tunables, env.ConfigPath, done); err != nil {
		logger.Error("init", "tunables watcher not started", "error", err.Error())
	}

	cur := tunables.Current()
	mgr := ring.NewManager(store, cur.RingVNodesPerWeight)
	if err := mgr.Trigger(context.Background()); err != nil {
		logger.Warn("init", "initial ring build failed", "error", err.Error())
	}

	hub := broadcast.NewHub(store, mgr, nil)
	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go hub.Run(hubCtx)

	rt := router.New(mgr, store, hub, cur.ProxyTimeout, cur.TriggerRebuildTimeout)

	controlCtx, cancelControl := context.WithCancel(context.Background())
	defer cancelControl()

	healthTask := controlloop.NewHealthTask(store, mgr, cur.HealthProbeTimeout, cur.HealthProbePeriod)
	go healthTask.Run(controlCtx)

	weightTask := controlloop.NewWeightTask(
		store, mgr,
		discovery.NewStatic(nil),
		metricsource.NewInMemory(),
		cur.MetricsWindowMinutes,
		controlloop.WeightCoefficients(cur.WeightCoefficients),
		cur.WeightRecalcPeriod,
	)
	go weightTask.Run(controlCtx)

	rebuildTask := controlloop.NewRebuildTask(mgr, hub, cur.PeriodicRebuildPeriod)
	go rebuildTask.Run(controlCtx)

	handler := http.NewServeMux()
	handler.Handle("/metrics", promhttp.Handler())
	handler.Handle("/", rt.Handler())

	server := &http.Server{
		Addr:    "0.0.0.0:" + env.LBPort,
		Handler: handler,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("main", "starting chlb on 0.0.0.0:"+env.LBPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Panic("main", "server failed", "error", err.Error())
		}
	}()

	<-stop
	logger.Info("main", "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("main", "server shutdown failed", "error", err.Error())
	} else {
		logger.Info("main", "server stopped gracefully")
	}
}
