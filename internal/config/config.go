// Package config holds the tunables that are safe to hot-reload without a
// restart — ring density, control-loop periods, proxy timeouts, and the
// weight-formula coefficients. Required secrets and per-deployment
// addresses (MONGODB_URI, LB_PORT, AWS_REGION, LB_IP) stay in environment
// variables; see Env.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vinit-chauhan/chlb/logger"
)

// WeightCoefficients are the combining weights of the weight formula
// (spec.md §4.4.2): combined = CPU*cpu_f + Net*net_f + Disk*disk_f.
type WeightCoefficients struct {
	CPU  float64 `yaml:"cpu"`
	Net  float64 `yaml:"net"`
	Disk float64 `yaml:"disk"`
}

// Tunables is the hot-reloadable configuration surface.
type Tunables struct {
	RingVNodesPerWeight   int                `yaml:"ring_vnodes_per_weight"`
	HealthProbePeriod     time.Duration      `yaml:"health_probe_period"`
	WeightRecalcPeriod    time.Duration      `yaml:"weight_recalc_period"`
	PeriodicRebuildPeriod time.Duration      `yaml:"periodic_rebuild_period"`
	ProxyTimeout          time.Duration      `yaml:"proxy_timeout"`
	HealthProbeTimeout    time.Duration      `yaml:"health_probe_timeout"`
	TriggerRebuildTimeout time.Duration      `yaml:"trigger_rebuild_timeout"`
	MetricsWindowMinutes  int                `yaml:"metrics_window_minutes"`
	WeightCoefficients    WeightCoefficients `yaml:"weight_coefficients"`
}

// Defaults mirror spec.md: V=10, 60s periods, 5s proxy timeout, 3s health
// timeout, 10-minute metric windows, 0.60/0.25/0.15 weight coefficients.
func Defaults() Tunables {
	return Tunables{
		RingVNodesPerWeight:   10,
		HealthProbePeriod:     60 * time.Second,
		WeightRecalcPeriod:    60 * time.Second,
		PeriodicRebuildPeriod: 60 * time.Second,
		ProxyTimeout:          5 * time.Second,
		HealthProbeTimeout:    3 * time.Second,
		TriggerRebuildTimeout: 3 * time.Second,
		MetricsWindowMinutes:  10,
		WeightCoefficients:    WeightCoefficients{CPU: 0.60, Net: 0.25, Disk: 0.15},
	}
}

// Store holds the current Tunables behind an atomic pointer so readers
// never observe a torn update while Watch hot-swaps it.
type Store struct {
	current atomic.Pointer[Tunables]
}

// NewStore returns a Store seeded with Defaults.
func NewStore() *Store {
	s := &Store{}
	d := Defaults()
	s.current.Store(&d)
	return s
}

// Current returns the active Tunables snapshot.
func (s *Store) Current() Tunables {
	return *s.current.Load()
}

// LoadFile reads and merges a YAML tunables file on top of Defaults. A
// missing file is not an error: chlb runs on defaults alone.
func (s *Store) LoadFile(path string) error {
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("Config", "no tunables file, using defaults", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	t := Defaults()
	if err := yaml.Unmarshal(buf, &t); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	s.current.Store(&t)
	logger.Info("Config", "tunables loaded", "path", path)
	return nil
}
