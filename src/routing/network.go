package routing

import (
	"math"
	"sort"
	"sync"
	"time"
)

// NetworkHistorySize bounds the per-backend sample history.
const NetworkHistorySize = 20

// NetworkQuality is a coarse bucket over bandwidth, latency and packet loss.
type NetworkQuality string

const (
	QualityExcellent NetworkQuality = "excellent"
	QualityGood      NetworkQuality = "good"
	QualityFair      NetworkQuality = "fair"
	QualityPoor      NetworkQuality = "poor"
	QualityUnusable  NetworkQuality = "unusable"
	QualityUnknown   NetworkQuality = "unknown"
)

type qualityThreshold struct {
	quality       NetworkQuality
	minBandwidth  float64
	maxLatency    float64
	maxPacketLoss float64
}

// Evaluated best first; the first bucket whose limits are all met wins.
var qualityThresholds = []qualityThreshold{
	{QualityExcellent, 50, 50, 0.1},
	{QualityGood, 10, 100, 1},
	{QualityFair, 1, 300, 3},
	{QualityPoor, 0.1, 1000, 10},
}

// Score maps a quality bucket onto [0, 1]. Unknown quality is neutral.
func (q NetworkQuality) Score() float64 {
	switch q {
	case QualityExcellent:
		return 1.0
	case QualityGood:
		return 0.8
	case QualityFair:
		return 0.6
	case QualityPoor:
		return 0.3
	case QualityUnusable:
		return 0.0
	default:
		return 0.5
	}
}

// NetworkSample is one archived measurement
type NetworkSample struct {
	LatencyMs         float64   `json:"latency_ms"`
	BandwidthMbps     float64   `json:"bandwidth_mbps"`
	PacketLossPercent float64   `json:"packet_loss_percent"`
	JitterMs          float64   `json:"jitter_ms"`
	Timestamp         time.Time `json:"timestamp"`
}

// NetworkMetrics is the current network view of one backend plus its recent history.
type NetworkMetrics struct {
	Backend           string          `json:"backend"`
	LatencyMs         float64         `json:"latency_ms"`
	BandwidthMbps     float64         `json:"bandwidth_mbps"`
	PacketLossPercent float64         `json:"packet_loss_percent"`
	JitterMs          float64         `json:"jitter_ms"`
	LastUpdated       time.Time       `json:"last_updated"`
	BandwidthMeasured bool            `json:"bandwidth_measured"`
	Quality           NetworkQuality  `json:"quality"`
	History           []NetworkSample `json:"history,omitempty"`
}

// classify buckets the current metrics using the fixed threshold table.
// Until a bandwidth sample exists the quality is unknown.
func (m NetworkMetrics) classify() NetworkQuality {
	if !m.BandwidthMeasured {
		return QualityUnknown
	}
	return ClassifyNetwork(m.BandwidthMbps, m.LatencyMs, m.PacketLossPercent)
}

// ClassifyNetwork buckets raw measurements into a NetworkQuality.
func ClassifyNetwork(bandwidthMbps, latencyMs, packetLossPercent float64) NetworkQuality {
	for _, th := range qualityThresholds {
		if bandwidthMbps >= th.minBandwidth && latencyMs <= th.maxLatency && packetLossPercent <= th.maxPacketLoss {
			return th.quality
		}
	}
	return QualityUnusable
}

// TransferTimeEstimate returns the expected transfer duration in seconds for a
// payload, inflated by packet loss and latency. Without bandwidth it is +Inf.
func (m NetworkMetrics) TransferTimeEstimate(sizeBytes int64) float64 {
	return EstimateTransferSeconds(sizeBytes, m.BandwidthMbps, m.PacketLossPercent, m.LatencyMs)
}

// EstimateTransferSeconds computes (bits / bps) * (1 + loss/100) * (1 + latency/1000).
func EstimateTransferSeconds(sizeBytes int64, bandwidthMbps, packetLossPercent, latencyMs float64) float64 {
	if bandwidthMbps <= 0 {
		return math.Inf(1)
	}
	bits := float64(sizeBytes) * 8
	bps := bandwidthMbps * 1_000_000
	return (bits / bps) * (1 + packetLossPercent/100) * (1 + latencyMs/1000)
}

// NetworkUpdate is a partial measurement; nil fields keep their previous value.
type NetworkUpdate struct {
	LatencyMs         *float64 `json:"latency_ms,omitempty"`
	BandwidthMbps     *float64 `json:"bandwidth_mbps,omitempty"`
	PacketLossPercent *float64 `json:"packet_loss_percent,omitempty"`
	JitterMs          *float64 `json:"jitter_ms,omitempty"`
}

// Metric returns a pointer for building NetworkUpdate literals
func Metric(v float64) *float64 {
	return &v
}

// Empty reports whether the update carries no values
func (u NetworkUpdate) Empty() bool {
	return u.LatencyMs == nil && u.BandwidthMbps == nil && u.PacketLossPercent == nil && u.JitterMs == nil
}

type networkRecord struct {
	current           NetworkSample
	history           []NetworkSample
	bandwidthMeasured bool
}

// NetworkMetricsTracker holds per-backend network measurements.
type NetworkMetricsTracker struct {
	mu       sync.RWMutex
	backends map[string]*networkRecord
	now      func() time.Time
}

// NewNetworkMetricsTracker creates an empty tracker
func NewNetworkMetricsTracker() *NetworkMetricsTracker {
	return &NetworkMetricsTracker{
		backends: make(map[string]*networkRecord),
		now:      time.Now,
	}
}

// Update applies a partial measurement. The previous values of a known backend
// are archived into its bounded history before being overwritten.
func (t *NetworkMetricsTracker) Update(backend string, update NetworkUpdate) {
	if update.Empty() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.backends[backend]
	if !ok {
		rec = &networkRecord{}
		t.backends[backend] = rec
	} else {
		rec.history = append(rec.history, rec.current)
		if len(rec.history) > NetworkHistorySize {
			rec.history = rec.history[len(rec.history)-NetworkHistorySize:]
		}
	}

	if update.LatencyMs != nil {
		rec.current.LatencyMs = *update.LatencyMs
	}
	if update.BandwidthMbps != nil {
		rec.current.BandwidthMbps = *update.BandwidthMbps
		rec.bandwidthMeasured = true
	}
	if update.PacketLossPercent != nil {
		rec.current.PacketLossPercent = *update.PacketLossPercent
	}
	if update.JitterMs != nil {
		rec.current.JitterMs = *update.JitterMs
	}
	rec.current.Timestamp = t.now()
}

// Get returns the current metrics for a backend
func (t *NetworkMetricsTracker) Get(backend string) (NetworkMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.backends[backend]
	if !ok {
		return NetworkMetrics{}, false
	}
	return toMetrics(backend, rec), true
}

// All returns metrics for every measured backend, sorted by name
func (t *NetworkMetricsTracker) All() []NetworkMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]NetworkMetrics, 0, len(t.backends))
	for name, rec := range t.backends {
		out = append(out, toMetrics(name, rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

// Quality returns the quality bucket, or QualityUnknown for unmeasured backends
func (t *NetworkMetricsTracker) Quality(backend string) NetworkQuality {
	m, ok := t.Get(backend)
	if !ok {
		return QualityUnknown
	}
	return m.Quality
}

// TransferTimeEstimate returns the estimated transfer seconds, +Inf when unmeasured
func (t *NetworkMetricsTracker) TransferTimeEstimate(backend string, sizeBytes int64) float64 {
	m, ok := t.Get(backend)
	if !ok {
		return math.Inf(1)
	}
	return m.TransferTimeEstimate(sizeBytes)
}

// Remove forgets a backend's measurements
func (t *NetworkMetricsTracker) Remove(backend string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.backends, backend)
}

func toMetrics(name string, rec *networkRecord) NetworkMetrics {
	history := make([]NetworkSample, len(rec.history))
	copy(history, rec.history)
	m := NetworkMetrics{
		Backend:           name,
		LatencyMs:         rec.current.LatencyMs,
		BandwidthMbps:     rec.current.BandwidthMbps,
		PacketLossPercent: rec.current.PacketLossPercent,
		JitterMs:          rec.current.JitterMs,
		LastUpdated:       rec.current.Timestamp,
		BandwidthMeasured: rec.bandwidthMeasured,
		History:           history,
	}
	m.Quality = m.classify()
	return m
}
