package routing

import (
	"sort"
	"sync"
	"time"

	"content-router/src/internal/common"
)

const (
	// LatencyWindowSize bounds the per-backend latency sample window.
	LatencyWindowSize = 100
	// AvailabilityRetention is how long availability reports are kept.
	AvailabilityRetention = 24 * time.Hour
	// LatencyCeiling is the average latency at which the latency factor reaches zero.
	LatencyCeiling = 5 * time.Second
)

// OperationRecord describes one completed storage operation against a backend.
type OperationRecord struct {
	Backend     string
	Operation   string
	Success     bool
	SizeBytes   int64
	ContentType string
	Latency     time.Duration
}

type availabilitySample struct {
	at        time.Time
	available bool
}

type backendRecord struct {
	total      int64
	successful int64
	failed     int64

	latencies    []time.Duration
	availability []availabilitySample
	available    bool

	contentTypeCounts map[string]int64
	operationCounts   map[string]int64

	totalBytes    int64
	estimatedCost float64
	registeredAt  time.Time
	lastUpdated   time.Time
}

func newBackendRecord(now time.Time) *backendRecord {
	return &backendRecord{
		available:         true,
		contentTypeCounts: make(map[string]int64),
		operationCounts:   make(map[string]int64),
		registeredAt:      now,
		lastUpdated:       now,
	}
}

func (r *backendRecord) successRate() float64 {
	if r.total == 0 {
		return 1.0
	}
	return float64(r.successful) / float64(r.total)
}

func (r *backendRecord) avgLatency() time.Duration {
	if len(r.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range r.latencies {
		sum += l
	}
	return sum / time.Duration(len(r.latencies))
}

// availabilityPercentage is the share of availability reports inside the
// window that were positive, in [0, 100]. No reports means 100.
func (r *backendRecord) availabilityPercentage(now time.Time, window time.Duration) float64 {
	cutoff := now.Add(-window)
	var seen, up int
	for _, s := range r.availability {
		if s.at.Before(cutoff) {
			continue
		}
		seen++
		if s.available {
			up++
		}
	}
	if seen == 0 {
		return 100.0
	}
	return float64(up) / float64(seen) * 100.0
}

// BackendStats is a point-in-time snapshot of one backend's statistics.
type BackendStats struct {
	Backend                string           `json:"backend"`
	TotalOperations        int64            `json:"total_operations"`
	SuccessfulOperations   int64            `json:"successful_operations"`
	FailedOperations       int64            `json:"failed_operations"`
	SuccessRate            float64          `json:"success_rate"`
	AvgLatencySeconds      float64          `json:"avg_latency_seconds"`
	LatencySamples         int              `json:"latency_samples"`
	AvailabilityStatus     bool             `json:"availability_status"`
	AvailabilityPercentage float64          `json:"availability_percentage"`
	HealthScore            float64          `json:"health_score"`
	ContentTypeCounts      map[string]int64 `json:"content_type_counts"`
	OperationCounts        map[string]int64 `json:"operation_counts"`
	TotalBytesStored       int64            `json:"total_bytes_stored"`
	EstimatedCost          float64          `json:"estimated_cost"`
	LastUpdated            time.Time        `json:"last_updated"`
}

// AvgLatency returns the mean of the latency window
func (s BackendStats) AvgLatency() time.Duration {
	return time.Duration(s.AvgLatencySeconds * float64(time.Second))
}

// LatencyFactor maps an average latency onto [0, 1], 1 being instant.
func LatencyFactor(avg time.Duration) float64 {
	return clamp01(1 - avg.Seconds()/LatencyCeiling.Seconds())
}

// HealthScore blends availability, success rate and latency into [0, 1].
func HealthScore(availabilityPct, successRate float64, avgLatency time.Duration) float64 {
	return 0.4*(availabilityPct/100.0) + 0.4*successRate + 0.2*LatencyFactor(avgLatency)
}

// BackendStatsTracker keeps rolling per-backend operation statistics.
type BackendStatsTracker struct {
	mu       sync.Mutex
	backends map[string]*backendRecord
	now      func() time.Time
	logger   *common.SafeLogger
}

// NewBackendStatsTracker creates an empty tracker
func NewBackendStatsTracker() *BackendStatsTracker {
	return &BackendStatsTracker{
		backends: make(map[string]*backendRecord),
		now:      time.Now,
		logger:   common.RouterLogger,
	}
}

// Register creates zeroed statistics for a backend. Registering an existing
// backend logs a warning and leaves its statistics untouched.
func (t *BackendStatsTracker) Register(backend string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.backends[backend]; exists {
		t.logger.Warn("backend %s already registered in stats tracker", backend)
		return false
	}
	t.backends[backend] = newBackendRecord(t.now())
	return true
}

// Unregister drops all statistics for a backend
func (t *BackendStatsTracker) Unregister(backend string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.backends, backend)
}

// ensure returns the record for backend, creating it if needed. Caller holds mu.
func (t *BackendStatsTracker) ensure(backend string) *backendRecord {
	rec, ok := t.backends[backend]
	if !ok {
		t.logger.Debug("auto-registering backend %s in stats tracker", backend)
		rec = newBackendRecord(t.now())
		t.backends[backend] = rec
	}
	return rec
}

// RecordOperation folds one completed operation into the backend's statistics.
// Unknown backends are registered on the fly.
func (t *BackendStatsTracker) RecordOperation(op OperationRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.ensure(op.Backend)
	rec.total++
	outcome := "failure"
	if op.Success {
		rec.successful++
		outcome = "success"
	} else {
		rec.failed++
	}

	if op.Latency > 0 {
		rec.latencies = append(rec.latencies, op.Latency)
		if len(rec.latencies) > LatencyWindowSize {
			rec.latencies = rec.latencies[len(rec.latencies)-LatencyWindowSize:]
		}
	}

	if op.ContentType != "" {
		rec.contentTypeCounts[op.ContentType]++
	}
	operation := op.Operation
	if operation == "" {
		operation = "unknown"
	}
	rec.operationCounts[operation+":"+outcome]++

	if op.Success && op.SizeBytes > 0 {
		rec.totalBytes += op.SizeBytes
	}
	rec.lastUpdated = t.now()
}

// UpdateAvailability records an availability report and prunes reports older
// than AvailabilityRetention.
func (t *BackendStatsTracker) UpdateAvailability(backend string, available bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec := t.ensure(backend)
	rec.availability = append(rec.availability, availabilitySample{at: now, available: available})
	rec.available = available

	cutoff := now.Add(-AvailabilityRetention)
	keep := rec.availability[:0]
	for _, s := range rec.availability {
		if !s.at.Before(cutoff) {
			keep = append(keep, s)
		}
	}
	rec.availability = keep
	rec.lastUpdated = now
}

// SetEstimatedCost stores an externally computed cost estimate
func (t *BackendStatsTracker) SetEstimatedCost(backend string, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensure(backend).estimatedCost = cost
}

// IsAvailable reports the latest availability status. Unknown backends count as available.
func (t *BackendStatsTracker) IsAvailable(backend string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.backends[backend]; ok {
		return rec.available
	}
	return true
}

// Get returns a snapshot for one backend
func (t *BackendStatsTracker) Get(backend string) (BackendStats, bool) {
	return t.GetWindow(backend, AvailabilityRetention)
}

// GetWindow returns a snapshot whose availability percentage covers the given window
func (t *BackendStatsTracker) GetWindow(backend string, window time.Duration) (BackendStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.backends[backend]
	if !ok {
		return BackendStats{}, false
	}
	return t.snapshot(backend, rec, window), true
}

// All returns snapshots for every tracked backend, sorted by name
func (t *BackendStatsTracker) All() []BackendStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.backends))
	for name := range t.backends {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]BackendStats, 0, len(names))
	for _, name := range names {
		out = append(out, t.snapshot(name, t.backends[name], AvailabilityRetention))
	}
	return out
}

// Backends returns the tracked backend names, sorted
func (t *BackendStatsTracker) Backends() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.backends))
	for name := range t.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *BackendStatsTracker) snapshot(name string, rec *backendRecord, window time.Duration) BackendStats {
	avg := rec.avgLatency()
	availability := rec.availabilityPercentage(t.now(), window)
	success := rec.successRate()

	contentCounts := make(map[string]int64, len(rec.contentTypeCounts))
	for k, v := range rec.contentTypeCounts {
		contentCounts[k] = v
	}
	opCounts := make(map[string]int64, len(rec.operationCounts))
	for k, v := range rec.operationCounts {
		opCounts[k] = v
	}

	return BackendStats{
		Backend:                name,
		TotalOperations:        rec.total,
		SuccessfulOperations:   rec.successful,
		FailedOperations:       rec.failed,
		SuccessRate:            success,
		AvgLatencySeconds:      avg.Seconds(),
		LatencySamples:         len(rec.latencies),
		AvailabilityStatus:     rec.available,
		AvailabilityPercentage: availability,
		HealthScore:            HealthScore(availability, success, avg),
		ContentTypeCounts:      contentCounts,
		OperationCounts:        opCounts,
		TotalBytesStored:       rec.totalBytes,
		EstimatedCost:          rec.estimatedCost,
		LastUpdated:            rec.lastUpdated,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
