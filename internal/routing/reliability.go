package routing

import (
	"sync"
	"time"
)

// ReliabilityTracker keeps a trailing window of order outcomes and response
// times per venue. The pipeline reports placements, the health monitor
// reports probe latencies.
type ReliabilityTracker struct {
	window int

	mu     sync.RWMutex
	venues map[string]*venueStats
}

type venueStats struct {
	outcomes []bool // ring buffer, true = success
	next     int
	filled   int

	// EMA of observed response times.
	avgLatency time.Duration
}

func NewReliabilityTracker(window int) *ReliabilityTracker {
	if window <= 0 {
		window = 100
	}
	return &ReliabilityTracker{
		window: window,
		venues: make(map[string]*venueStats),
	}
}

func (t *ReliabilityTracker) stats(venueID string) *venueStats {
	s, ok := t.venues[venueID]
	if !ok {
		s = &venueStats{outcomes: make([]bool, t.window)}
		t.venues[venueID] = s
	}
	return s
}

// Record adds one order outcome to the venue's trailing window.
func (t *ReliabilityTracker) Record(venueID string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats(venueID)
	s.outcomes[s.next] = success
	s.next = (s.next + 1) % t.window
	if s.filled < t.window {
		s.filled++
	}
}

// RecordLatency folds one observed response time into the venue's EMA.
func (t *ReliabilityTracker) RecordLatency(venueID string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats(venueID)
	if s.avgLatency == 0 {
		s.avgLatency = d
		return
	}
	// 0.2 smoothing factor
	s.avgLatency = (s.avgLatency*4 + d) / 5
}

// SuccessRatio returns the trailing successful-order ratio. Venues with no
// history score 1.0 so new venues are not starved.
func (t *ReliabilityTracker) SuccessRatio(venueID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.venues[venueID]
	if !ok || s.filled == 0 {
		return 1.0
	}
	wins := 0
	for i := 0; i < s.filled; i++ {
		if s.outcomes[i] {
			wins++
		}
	}
	return float64(wins) / float64(s.filled)
}

// AvgLatency returns the venue's smoothed response time, zero when unknown.
func (t *ReliabilityTracker) AvgLatency(venueID string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.venues[venueID]
	if !ok {
		return 0
	}
	return s.avgLatency
}
