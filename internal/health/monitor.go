package health

import (
	"context"
	"sync"
	"time"

	"github.com/omnigate/omnigate/internal/config"
	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pkg/logger"
	"github.com/omnigate/omnigate/internal/routing"
	"github.com/omnigate/omnigate/internal/venue"
)

// Monitor polls every registered venue on a fixed interval and owns its
// status transitions:
//
//	active   -> degraded  after degraded_after consecutive failures
//	degraded -> inactive  after inactive_after consecutive failures
//	any      -> active    after promote_after consecutive successes
//
// Responses slower than slow_threshold_ms count as failures, so a venue that
// answers but crawls still gets demoted.
type Monitor struct {
	registry *venue.Registry
	tracker  *routing.ReliabilityTracker
	cfg      config.HealthConfig

	mu       sync.Mutex
	counters map[string]*counter

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type counter struct {
	failures  int
	successes int
}

func NewMonitor(registry *venue.Registry, tracker *routing.ReliabilityTracker, cfg config.HealthConfig) *Monitor {
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 30
	}
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 3
	}
	if cfg.InactiveAfter <= 0 {
		cfg.InactiveAfter = 10
	}
	if cfg.PromoteAfter <= 0 {
		cfg.PromoteAfter = 5
	}
	if cfg.CheckTimeoutMs <= 0 {
		cfg.CheckTimeoutMs = 5000
	}
	return &Monitor{
		registry: registry,
		tracker:  tracker,
		cfg:      cfg,
		counters: make(map[string]*counter),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the poll loop until Stop or context cancellation.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(time.Duration(m.cfg.IntervalSeconds) * time.Second)
		defer ticker.Stop()
		logger.Info("venue health monitor started",
			"interval_seconds", m.cfg.IntervalSeconds,
			"degraded_after", m.cfg.DegradedAfter,
			"inactive_after", m.cfg.InactiveAfter)
		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckAll(ctx)
			}
		}
	}()
}

// Stop ends the poll loop and waits for the in-flight round to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// CheckAll probes every registered venue once.
func (m *Monitor) CheckAll(ctx context.Context) {
	for _, cfg := range m.registry.Configs() {
		m.CheckVenue(ctx, cfg.ID)
	}
}

// CheckVenue probes one venue and applies the resulting status transition.
func (m *Monitor) CheckVenue(ctx context.Context, venueID string) {
	checkCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.CheckTimeoutMs)*time.Millisecond)
	defer cancel()

	start := time.Now()
	h, err := m.registry.GetHealth(checkCtx, venueID)
	elapsed := time.Since(start)

	ok := err == nil && h.OK
	if ok && m.cfg.SlowThresholdMs > 0 {
		reported := time.Duration(h.ResponseTimeMs) * time.Millisecond
		if reported > elapsed {
			elapsed = reported
		}
		if elapsed > time.Duration(m.cfg.SlowThresholdMs)*time.Millisecond {
			ok = false
		}
	}

	if recErr := m.registry.RecordHealthCheck(venueID, time.Now().UTC(), ok); recErr != nil {
		return // venue deregistered mid-check
	}
	if m.tracker != nil {
		m.tracker.RecordLatency(venueID, elapsed)
	}

	m.applyOutcome(ctx, venueID, ok, err)
}

func (m *Monitor) applyOutcome(ctx context.Context, venueID string, ok bool, cause error) {
	m.mu.Lock()
	c, exists := m.counters[venueID]
	if !exists {
		c = &counter{}
		m.counters[venueID] = c
	}
	if ok {
		c.successes++
		c.failures = 0
	} else {
		c.failures++
		c.successes = 0
	}
	failures, successes := c.failures, c.successes
	m.mu.Unlock()

	cfg, err := m.registry.Config(venueID)
	if err != nil {
		return
	}

	switch {
	case !ok && failures >= m.cfg.InactiveAfter:
		m.demote(ctx, cfg, model.VenueInactive, failures, cause)
	case !ok && failures >= m.cfg.DegradedAfter:
		m.demote(ctx, cfg, model.VenueDegraded, failures, cause)
	case ok && cfg.Status != model.VenueActive && successes >= m.cfg.PromoteAfter:
		logger.Info("venue recovered, promoting to active",
			"venue", venueID, "consecutive_successes", successes)
		if err := m.registry.SetStatus(venueID, model.VenueActive); err != nil {
			logger.LogError(ctx, err, "venue promotion failed", "venue", venueID)
		}
	}
}

func (m *Monitor) demote(ctx context.Context, cfg model.VenueConfig, to model.VenueStatus, failures int, cause error) {
	if cfg.Status == to || (cfg.Status == model.VenueInactive && to == model.VenueDegraded) {
		return
	}
	args := []any{"venue", cfg.ID, "from", string(cfg.Status), "to", string(to),
		"consecutive_failures", failures}
	if cause != nil {
		args = append(args, "error", cause.Error())
	}
	logger.Warn("venue demoted", args...)
	if err := m.registry.SetStatus(cfg.ID, to); err != nil {
		logger.LogError(ctx, err, "venue demotion failed", "venue", cfg.ID)
	}
}
