// Package router is the HTTP front-end: it terminates client requests,
// selects a backend via the Ring, proxies, updates counters, and reacts to
// upstream failures. Structurally this generalizes the teacher's
// LoadBalancer/Service pair (internal/proxy.go, internal/service.go): the
// same status-capturing ResponseWriter and Prometheus instrumentation
// pattern, but selecting via one Ring instead of per-path Service structs,
// since this domain fronts a single homogeneous fleet.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinit-chauhan/chlb/internal/broadcast"
	"github.com/vinit-chauhan/chlb/internal/metrics"
	"github.com/vinit-chauhan/chlb/internal/registry"
	"github.com/vinit-chauhan/chlb/internal/ring"
	"github.com/vinit-chauhan/chlb/internal/tracing"
	"github.com/vinit-chauhan/chlb/logger"
)

// ErrUpstreamUnreachable marks a connect error, timeout, or non-2xx from
// the selected backend.
var ErrUpstreamUnreachable = errors.New("router: upstream unreachable")

// ErrNoHealthyBackends marks an empty Ring.
var ErrNoHealthyBackends = errors.New("router: no healthy servers available")

// Router owns the HTTP surface described in spec.md §4.3.
type Router struct {
	mgr    *ring.Manager
	store  registry.Store
	hub    *broadcast.Hub
	client *http.Client
	tracer trace.Tracer

	proxyTimeout          time.Duration
	triggerRebuildTimeout time.Duration
}

// New returns a Router. proxyTimeout and triggerRebuildTimeout are fixed
// for the Router's lifetime; cmd/chlb calls New once at startup with the
// values from config.Tunables, so a later tunables reload does not change
// them.
func New(mgr *ring.Manager, store registry.Store, hub *broadcast.Hub, proxyTimeout, triggerRebuildTimeout time.Duration) *Router {
	return &Router{
		mgr:                   mgr,
		store:                 store,
		hub:                   hub,
		client:                &http.Client{Timeout: proxyTimeout},
		tracer:                tracing.Tracer(),
		proxyTimeout:          proxyTimeout,
		triggerRebuildTimeout: triggerRebuildTimeout,
	}
}

// Handler builds the HTTP mux for the Router's public contract.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/trigger_rebuild", withRequestID(rt.handleTriggerRebuild))
	mux.HandleFunc("/_internal/state", withRequestID(withCORS(rt.handleState)))
	mux.HandleFunc("/ws", withCORS(rt.hub.ServeWS))
	mux.HandleFunc("/", withRequestID(rt.handleKey))
	return mux
}

func withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next(w, r)
	}
}

func extractKey(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return ""
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (rt *Router) handleKey(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key := extractKey(r.URL.Path)
	if key == "" {
		metrics.RequestsTotal.WithLabelValues("bad_request").Inc()
		writeJSONError(w, http.StatusBadRequest, "key must not be empty")
		return
	}

	ctx, span := rt.tracer.Start(r.Context(), "proxy_request")
	defer span.End()
	span.SetAttributes(attribute.String("chlb.key", key))

	backend, ok := rt.mgr.Current().Get(key)
	if !ok {
		metrics.RequestsTotal.WithLabelValues("no_healthy_backends").Inc()
		metrics.RequestDurationSeconds.WithLabelValues("no_healthy_backends").Observe(time.Since(start).Seconds())
		writeJSONError(w, http.StatusServiceUnavailable, "no healthy servers available")
		return
	}
	span.SetAttributes(attribute.String("chlb.backend", backend.Name))

	proxyCtx, cancel := context.WithTimeout(ctx, rt.proxyTimeout)
	defer cancel()

	upstreamURL := fmt.Sprintf("http://%s:%d/%s", backend.Address, backend.Port, key)
	req, err := http.NewRequestWithContext(proxyCtx, http.MethodGet, upstreamURL, nil)
	if err != nil {
		rt.markUpstreamUnreachable(backend.InstanceID)
		metrics.RequestsTotal.WithLabelValues("upstream_unreachable").Inc()
		writeJSONError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	otel.GetTextMapPropagator().Inject(proxyCtx, propagation.HeaderCarrier(req.Header))

	resp, err := rt.client.Do(req)
	if err != nil {
		logger.Warn("Router", "proxy error", "backend", backend.Name, "error", err.Error())
		rt.markUpstreamUnreachable(backend.InstanceID)
		metrics.RequestsTotal.WithLabelValues("upstream_unreachable").Inc()
		metrics.RequestDurationSeconds.WithLabelValues("upstream_unreachable").Observe(time.Since(start).Seconds())
		writeJSONError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rt.markUpstreamUnreachable(backend.InstanceID)
		metrics.RequestsTotal.WithLabelValues("upstream_unreachable").Inc()
		metrics.RequestDurationSeconds.WithLabelValues("upstream_unreachable").Observe(time.Since(start).Seconds())
		writeJSONError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		rt.markUpstreamUnreachable(backend.InstanceID)
		metrics.RequestsTotal.WithLabelValues("upstream_unreachable").Inc()
		writeJSONError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}

	if err := rt.store.IncLoad(ctx, backend.InstanceID); err != nil {
		logger.Warn("Router", "load count increment failed", "error", err.Error())
	} else {
		metrics.BackendLoadCount.WithLabelValues(backend.Name).Inc()
	}
	rt.hub.Request()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)

	metrics.RequestsTotal.WithLabelValues("ok").Inc()
	metrics.RequestDurationSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
}

// markUpstreamUnreachable sets the backend UNHEALTHY and requests a
// rebuild. Done with a background context so that the caller's
// cancellation doesn't abort bookkeeping that must still happen.
func (rt *Router) markUpstreamUnreachable(instanceID string) {
	go func() {
		ctx := context.Background()
		if err := rt.store.SetStatus(ctx, instanceID, registry.StatusUnhealthy); err != nil {
			logger.Warn("Router", "failed to mark backend unhealthy", "error", err.Error())
			return
		}
		if err := rt.mgr.Trigger(ctx); err != nil {
			logger.Warn("Router", "rebuild after failure did not complete", "error", err.Error())
		}
	}()
}

func (rt *Router) handleTriggerRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), rt.triggerRebuildTimeout)
	defer cancel()

	if err := rt.mgr.Trigger(ctx); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	metrics.RingRebuildsTotal.Inc()
	metrics.RingSize.Set(float64(rt.mgr.Current().Size()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "rebuild triggered"})
}

func (rt *Router) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := rt.hub.Build(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "registry unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}
