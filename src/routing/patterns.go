package routing

import (
	"sort"
	"sync"
	"time"
)

const (
	// NeutralSuccessRate is reported for backend/category pairs without history.
	NeutralSuccessRate = 0.5
	// SizeHistoryLimit bounds the sizes remembered per backend and category.
	SizeHistoryLimit = 100
	// DefaultUsageWindow is the span UsagePattern aggregates over.
	DefaultUsageWindow = 5 * time.Minute
)

type backendCategory struct {
	backend  string
	category ContentCategory
}

// AccessPattern records which backend served which category and how it went.
// Only RecordAccess mutates it.
type AccessPattern struct {
	mu             sync.RWMutex
	categoryAccess map[ContentCategory]int64
	success        map[string]map[ContentCategory]int64
	failure        map[string]map[ContentCategory]int64
	sizes          map[backendCategory][]int64
}

// NewAccessPattern creates an empty tracker
func NewAccessPattern() *AccessPattern {
	return &AccessPattern{
		categoryAccess: make(map[ContentCategory]int64),
		success:        make(map[string]map[ContentCategory]int64),
		failure:        make(map[string]map[ContentCategory]int64),
		sizes:          make(map[backendCategory][]int64),
	}
}

// RecordAccess records one access outcome
func (a *AccessPattern) RecordAccess(backend string, category ContentCategory, success bool, sizeBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.categoryAccess[category]++
	target := a.failure
	if success {
		target = a.success
	}
	if target[backend] == nil {
		target[backend] = make(map[ContentCategory]int64)
	}
	target[backend][category]++

	if sizeBytes > 0 {
		key := backendCategory{backend, category}
		sizes := append(a.sizes[key], sizeBytes)
		if len(sizes) > SizeHistoryLimit {
			sizes = sizes[len(sizes)-SizeHistoryLimit:]
		}
		a.sizes[key] = sizes
	}
}

// SuccessRate is the observed success share of a backend for a category.
// Pairs without history report NeutralSuccessRate.
func (a *AccessPattern) SuccessRate(backend string, category ContentCategory) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.successRateLocked(backend, category)
}

func (a *AccessPattern) successRateLocked(backend string, category ContentCategory) float64 {
	ok := a.success[backend][category]
	failed := a.failure[backend][category]
	if ok+failed == 0 {
		return NeutralSuccessRate
	}
	return float64(ok) / float64(ok+failed)
}

// PreferredBackends returns backends with recorded history for the category
// whose success rate meets the threshold, best first.
func (a *AccessPattern) PreferredBackends(category ContentCategory, minSuccessRate float64) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	seen := make(map[string]struct{})
	for backend, counts := range a.success {
		if counts[category] > 0 {
			seen[backend] = struct{}{}
		}
	}
	for backend, counts := range a.failure {
		if counts[category] > 0 {
			seen[backend] = struct{}{}
		}
	}

	type ranked struct {
		backend string
		rate    float64
	}
	var candidates []ranked
	for backend := range seen {
		rate := a.successRateLocked(backend, category)
		if rate >= minSuccessRate {
			candidates = append(candidates, ranked{backend, rate})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].rate != candidates[j].rate {
			return candidates[i].rate > candidates[j].rate
		}
		return candidates[i].backend < candidates[j].backend
	})

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.backend
	}
	return out
}

// IsSizeAppropriate reports whether a payload size falls within the band the
// backend has handled for this category: [min/2, max*2] of recent sizes.
// Backends without size history are always appropriate.
func (a *AccessPattern) IsSizeAppropriate(backend string, category ContentCategory, sizeBytes int64) bool {
	if sizeBytes <= 0 {
		return true
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	sizes := a.sizes[backendCategory{backend, category}]
	if len(sizes) == 0 {
		return true
	}
	lo, hi := sizes[0], sizes[0]
	for _, s := range sizes[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return float64(sizeBytes) >= float64(lo)/2 && float64(sizeBytes) <= float64(hi)*2
}

// CategoryAccessCounts returns how often each category has been accessed
func (a *AccessPattern) CategoryAccessCounts() map[ContentCategory]int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[ContentCategory]int64, len(a.categoryAccess))
	for k, v := range a.categoryAccess {
		out[k] = v
	}
	return out
}

// Forget drops all history for a backend
func (a *AccessPattern) Forget(backend string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.success, backend)
	delete(a.failure, backend)
	for key := range a.sizes {
		if key.backend == backend {
			delete(a.sizes, key)
		}
	}
}

type usageEvent struct {
	at      time.Time
	backend string
	bytes   int64
}

// UsageSummary is the windowed load of one backend
type UsageSummary struct {
	TotalBytes   int64 `json:"total_bytes"`
	RequestCount int64 `json:"request_count"`
}

// UsagePattern tracks recent per-backend load over a sliding window.
type UsagePattern struct {
	mu     sync.Mutex
	window time.Duration
	events []usageEvent
	now    func() time.Time
}

// NewUsagePattern creates a tracker; a non-positive window uses DefaultUsageWindow
func NewUsagePattern(window time.Duration) *UsagePattern {
	if window <= 0 {
		window = DefaultUsageWindow
	}
	return &UsagePattern{window: window, now: time.Now}
}

// RecordUsage records one request against a backend
func (u *UsagePattern) RecordUsage(backend string, sizeBytes int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if sizeBytes < 0 {
		sizeBytes = 0
	}
	u.events = append(u.events, usageEvent{at: u.now(), backend: backend, bytes: sizeBytes})
	u.pruneLocked()
}

// pruneLocked drops events older than the window. Events are appended in time
// order so the expired ones form a prefix.
func (u *UsagePattern) pruneLocked() {
	cutoff := u.now().Add(-u.window)
	idx := 0
	for idx < len(u.events) && u.events[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		u.events = append(u.events[:0], u.events[idx:]...)
	}
}

// Usage returns the windowed totals per backend. Read-only: expired events
// are skipped rather than pruned.
func (u *UsagePattern) Usage() map[string]UsageSummary {
	u.mu.Lock()
	defer u.mu.Unlock()

	cutoff := u.now().Add(-u.window)
	out := make(map[string]UsageSummary)
	for _, e := range u.events {
		if e.at.Before(cutoff) {
			continue
		}
		s := out[e.backend]
		s.TotalBytes += e.bytes
		s.RequestCount++
		out[e.backend] = s
	}
	return out
}

// LoadDistribution normalizes windowed bytes across backends to fractions
// summing to 1. With no traffic it returns an empty map.
func (u *UsagePattern) LoadDistribution() map[string]float64 {
	usage := u.Usage()
	var total int64
	for _, s := range usage {
		total += s.TotalBytes
	}
	out := make(map[string]float64, len(usage))
	if total == 0 {
		return out
	}
	for backend, s := range usage {
		out[backend] = float64(s.TotalBytes) / float64(total)
	}
	return out
}

// Forget drops all events for a backend
func (u *UsagePattern) Forget(backend string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	kept := u.events[:0]
	for _, e := range u.events {
		if e.backend != backend {
			kept = append(kept, e)
		}
	}
	u.events = kept
}
