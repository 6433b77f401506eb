// Package controlloop runs the two periodic feedback tasks described in
// spec.md §4.4, a health probe and a weight recalculation, plus an
// unconditional periodic ring rebuild (RebuildTask); each is its own
// long-lived ticker-driven goroutine (generalizing the teacher's
// StartHealthCheck/checkBackends pair in internal/service.go from a
// single in-process hash-ring update to a Registry write plus an
// explicit rebuild trigger). Running each task as exactly one goroutine
// driven by its own ticker makes "single-flight against itself" a
// structural property: a tick cannot start until the previous one's
// ticker-channel receive has returned, and receives only happen between
// iterations of the for loop.
package controlloop

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/vinit-chauhan/chlb/internal/discovery"
	"github.com/vinit-chauhan/chlb/internal/metrics"
	"github.com/vinit-chauhan/chlb/internal/metricsource"
	"github.com/vinit-chauhan/chlb/internal/registry"
	"github.com/vinit-chauhan/chlb/logger"
)

// Rebuilder is the subset of *ring.Manager the control loop needs; kept
// as an interface so tests can stub it without building a real Manager.
type Rebuilder interface {
	Trigger(ctx context.Context) error
}

// WeightCoefficients mirrors config.WeightCoefficients without importing
// the config package, so controlloop has no dependency on hot-reload
// wiring; cmd/chlb passes the current values in on each task construction.
type WeightCoefficients struct {
	CPU  float64
	Net  float64
	Disk float64
}

// HealthTask probes every backend's /health endpoint and updates status.
type HealthTask struct {
	store  registry.Store
	ring   Rebuilder
	client *http.Client
	period time.Duration
	jitter float64
}

// NewHealthTask returns a HealthTask. timeout bounds each /health call;
// period is the nominal tick interval, jittered ±10% per spec.md §4.4.
func NewHealthTask(store registry.Store, r Rebuilder, timeout, period time.Duration) *HealthTask {
	return &HealthTask{
		store:  store,
		ring:   r,
		client: &http.Client{Timeout: timeout},
		period: period,
		jitter: 0.10,
	}
}

// Run blocks, ticking until ctx is cancelled. Call it in its own goroutine.
func (t *HealthTask) Run(ctx context.Context) {
	t.tick(ctx)
	for {
		wait := jittered(t.period, t.jitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			t.tick(ctx)
		}
	}
}

func (t *HealthTask) tick(ctx context.Context) {
	backends, err := t.store.Snapshot(ctx)
	if err != nil {
		logger.Warn("ControlLoop", "health probe skipped, registry unavailable", "error", err.Error())
		return
	}

	rebuildNeeded := false
	for _, b := range backends {
		alive := t.probe(ctx, b.Address, b.Port)
		newStatus := registry.StatusUnhealthy
		if alive {
			newStatus = registry.StatusHealthy
		}
		metrics.BackendHealthy.WithLabelValues(b.Name).Set(boolToFloat(alive))

		if newStatus == b.Status {
			continue
		}
		if err := t.store.SetStatus(ctx, b.InstanceID, newStatus); err != nil {
			logger.Warn("ControlLoop", "set_status failed", "backend", b.Name, "error", err.Error())
			continue
		}
		logger.Info("ControlLoop", "backend status changed", "backend", b.Name, "status", newStatus)
		rebuildNeeded = true
	}

	if rebuildNeeded {
		if err := t.ring.Trigger(ctx); err != nil {
			logger.Warn("ControlLoop", "rebuild after health change did not complete", "error", err.Error())
		}
	}
}

func (t *HealthTask) probe(ctx context.Context, address string, port int) bool {
	url := "http://" + address + ":" + strconv.Itoa(port) + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// WeightTask samples each backend's recent metrics and recomputes weight
// per spec.md §4.4.2's combined-metric formula.
type WeightTask struct {
	store        registry.Store
	ring         Rebuilder
	discoverer   discovery.BackendDiscoverer
	metrics      metricsource.MetricsSource
	windowMin    int
	coefficients WeightCoefficients
	period       time.Duration
	jitter       float64
}

// NewWeightTask returns a WeightTask.
func NewWeightTask(
	store registry.Store,
	r Rebuilder,
	discoverer discovery.BackendDiscoverer,
	source metricsource.MetricsSource,
	windowMinutes int,
	coefficients WeightCoefficients,
	period time.Duration,
) *WeightTask {
	return &WeightTask{
		store:        store,
		ring:         r,
		discoverer:   discoverer,
		metrics:      source,
		windowMin:    windowMinutes,
		coefficients: coefficients,
		period:       period,
		jitter:       0.10,
	}
}

// Run blocks, ticking until ctx is cancelled. Call it in its own goroutine.
func (t *WeightTask) Run(ctx context.Context) {
	t.tick(ctx)
	for {
		wait := jittered(t.period, t.jitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			t.tick(ctx)
		}
	}
}

func (t *WeightTask) tick(ctx context.Context) {
	backends, err := t.store.Snapshot(ctx)
	if err != nil {
		logger.Warn("ControlLoop", "weight recalc skipped, registry unavailable", "error", err.Error())
		return
	}

	rebuildNeeded := false
	for _, b := range backends {
		instanceID := b.InstanceID
		if instanceID == "" {
			resolved, found, derr := t.discoverer.ByAddress(ctx, b.Address)
			if derr != nil || !found {
				logger.Warn("ControlLoop", "weight recalc skipped, no instance_id", "address", b.Address)
				continue
			}
			// The record already exists, keyed by its old (empty)
			// identity; rekey it in place so the Upsert below merges
			// into it instead of inserting a second, blank record.
			if err := t.store.Rekey(ctx, b.InstanceID, resolved); err != nil {
				logger.Warn("ControlLoop", "rekey failed", "backend", b.Name, "error", err.Error())
				continue
			}
			instanceID = resolved
		}

		m, statusFailed := t.sample(ctx, instanceID)
		newWeight := computeWeight(m, statusFailed, t.coefficients)
		now := time.Now()

		if err := t.store.Upsert(ctx, instanceID, registry.UpsertFields{
			Weight:      &newWeight,
			Metrics:     &m,
			LastChecked: &now,
		}); err != nil {
			logger.Warn("ControlLoop", "weight upsert failed", "backend", b.Name, "error", err.Error())
			continue
		}
		metrics.BackendWeight.WithLabelValues(b.Name).Set(float64(newWeight))

		if newWeight != b.Weight {
			rebuildNeeded = true
		}
	}

	if rebuildNeeded {
		if err := t.ring.Trigger(ctx); err != nil {
			logger.Warn("ControlLoop", "rebuild after weight change did not complete", "error", err.Error())
		}
	}
}

func (t *WeightTask) sample(ctx context.Context, instanceID string) (registry.Metrics, float64) {
	avg := func(metric string) float64 {
		v, err := t.metrics.Average(ctx, instanceID, metric, t.windowMin)
		if err != nil {
			return 0.0
		}
		return v
	}
	sum := func(metric string) float64 {
		v, err := t.metrics.Sum(ctx, instanceID, metric, t.windowMin)
		if err != nil {
			return 0.0
		}
		return v
	}

	m := registry.Metrics{
		CPU:          avg("cpu"),
		NetIn:        avg("net_in"),
		NetOut:       avg("net_out"),
		DiskRead:     avg("disk_read"),
		DiskWrite:    avg("disk_write"),
		StatusFailed: sum("status_failed"),
	}
	return m, m.StatusFailed
}

// RebuildTask unconditionally rebuilds the Ring every period, independent
// of whether the health or weight tasks observed any change. Grounded on
// original_source's periodic_rebuild(interval=30): the load balancer's own
// self-healing net, catching any drift between the Registry and the Ring
// that the change-triggered paths might miss.
type RebuildTask struct {
	ring   Rebuilder
	hub    Publisher
	period time.Duration
	jitter float64
}

// Publisher is the subset of *broadcast.Hub the rebuild task needs to
// nudge subscribers after a rebuild, mirroring rebuild_ring()'s call to
// broadcast_state() in the original.
type Publisher interface {
	Request()
}

// NewRebuildTask returns a RebuildTask. hub may be nil if no broadcaster
// is wired (e.g. in tests).
func NewRebuildTask(r Rebuilder, hub Publisher, period time.Duration) *RebuildTask {
	return &RebuildTask{ring: r, hub: hub, period: period, jitter: 0.10}
}

// Run blocks, ticking until ctx is cancelled. Call it in its own goroutine.
func (t *RebuildTask) Run(ctx context.Context) {
	for {
		wait := jittered(t.period, t.jitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			t.tick(ctx)
		}
	}
}

func (t *RebuildTask) tick(ctx context.Context) {
	if err := t.ring.Trigger(ctx); err != nil {
		logger.Warn("ControlLoop", "periodic rebuild did not complete", "error", err.Error())
		return
	}
	if t.hub != nil {
		t.hub.Request()
	}
}

// computeWeight implements spec.md §4.4.2 step 3-4 exactly: a hard
// status_failed gate, then a CPU-dominant combined score mapped to
// [1,10]. The most elaborate of the source repository's several
// divergent weight formulas is the one implemented here; simpler
// CPU-only variants are superseded.
func computeWeight(m registry.Metrics, statusFailed float64, c WeightCoefficients) int {
	if statusFailed > 0 {
		return 0
	}

	cpuF := clamp(m.CPU, 0, 100)
	netF := math.Min(100, (m.NetIn+m.NetOut)/float64(1<<20))
	diskF := math.Min(100, (m.DiskRead+m.DiskWrite)/100)
	combined := c.CPU*cpuF + c.Net*netF + c.Disk*diskF

	weight := int(math.Round(10 - combined/10))
	if weight < 1 {
		weight = 1
	}
	if weight > 10 {
		weight = 10
	}
	return weight
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func jittered(period time.Duration, fraction float64) time.Duration {
	if period <= 0 {
		return period
	}
	delta := float64(period) * fraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(period) + offset)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

