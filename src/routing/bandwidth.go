package routing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMeasurementInterval is the cadence of the network measurement loop.
const DefaultMeasurementInterval = 300 * time.Second

// BandwidthAwareRouter adds network-metric based selection on top of an
// Engine and owns the loop that keeps those metrics fresh.
type BandwidthAwareRouter struct {
	engine   *Engine
	prober   NetworkProber
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBandwidthAwareRouter wraps an engine. A nil prober disables measurements.
func NewBandwidthAwareRouter(engine *Engine, prober NetworkProber, interval time.Duration) *BandwidthAwareRouter {
	if interval <= 0 {
		interval = DefaultMeasurementInterval
	}
	return &BandwidthAwareRouter{engine: engine, prober: prober, interval: interval}
}

// Engine returns the wrapped engine
func (r *BandwidthAwareRouter) Engine() *Engine {
	return r.engine
}

// SelectLowestLatencyBackend picks the measured backend with the lowest latency.
func (r *BandwidthAwareRouter) SelectLowestLatencyBackend(info ContentInfo) (string, error) {
	return r.selectByMetric(info, networkSelection{
		strategy: StrategyLowestLatency,
		value:    func(m NetworkMetrics) float64 { return m.LatencyMs },
		reason:   "lowest latency %.1f ms",
	})
}

// SelectHighestBandwidthBackend picks the measured backend with the most bandwidth.
func (r *BandwidthAwareRouter) SelectHighestBandwidthBackend(info ContentInfo) (string, error) {
	return r.selectByMetric(info, networkSelection{
		strategy:       StrategyHighestBandwidth,
		value:          func(m NetworkMetrics) float64 { return m.BandwidthMbps },
		higherIsBetter: true,
		needsBandwidth: true,
		reason:         "highest bandwidth %.1f Mbps",
	})
}

// SelectFastestTransferBackend picks the measured backend with the shortest
// estimated transfer time for the content's size.
func (r *BandwidthAwareRouter) SelectFastestTransferBackend(info ContentInfo) (string, error) {
	return r.selectByMetric(info, networkSelection{
		strategy:       StrategyFastestTransfer,
		value:          func(m NetworkMetrics) float64 { return m.TransferTimeEstimate(info.SizeBytes) },
		needsBandwidth: true,
		reason:         "fastest estimated transfer %.3fs",
	})
}

type networkSelection struct {
	strategy       Strategy
	value          func(NetworkMetrics) float64
	higherIsBetter bool
	needsBandwidth bool
	reason         string
}

// selectByMetric returns the best registered backend among those with the
// required measurements, registration order breaking ties, and records the
// decision. Without measurements it defers to the engine's default selection.
func (r *BandwidthAwareRouter) selectByMetric(info ContentInfo, sel networkSelection) (string, error) {
	e := r.engine
	var candidates []string
	scores := make(map[string]float64)
	best := ""
	bestValue := 0.0
	for _, b := range e.Backends() {
		m, ok := e.NetworkMetrics(b)
		if !ok || (sel.needsBandwidth && !m.BandwidthMeasured) {
			continue
		}
		v := sel.value(m)
		candidates = append(candidates, b)
		if !math.IsInf(v, 0) && !math.IsNaN(v) {
			scores[b] = v
		}
		better := v < bestValue
		if sel.higherIsBetter {
			better = v > bestValue
		}
		if best == "" || better {
			best, bestValue = b, v
		}
	}
	if best == "" {
		e.logger.Debug("no network metrics for %s yet, using default selection", sel.strategy)
		return e.SelectBackend(info, SelectOptions{})
	}

	e.recordDecision(RoutingDecision{
		ID:              uuid.NewString(),
		Timestamp:       e.now(),
		ContentInfo:     info,
		Strategy:        sel.strategy,
		Priority:        PriorityBalanced,
		SelectedBackend: best,
		Reason:          fmt.Sprintf(sel.reason, bestValue),
		Category:        ClassifyWithSize(info),
		SizeBytes:       info.SizeBytes,
		Region:          e.CurrentRegion(),
		Candidates:      candidates,
		Scores:          scores,
	})
	return best, nil
}

// StartMeasurements launches the measurement loop. Starting a running loop is a no-op.
func (r *BandwidthAwareRouter) StartMeasurements(ctx context.Context) bool {
	if r.prober == nil {
		r.engine.logger.Warn("network measurements requested without a prober")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.measureLoop(loopCtx, r.done)
	r.engine.logger.Info("network measurements started (every %s)", r.interval)
	return true
}

// StopMeasurements stops the loop and waits for the current round to finish.
// Stopping a stopped loop is a no-op.
func (r *BandwidthAwareRouter) StopMeasurements() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done
	r.engine.logger.Info("network measurements stopped")
}

// MeasurementsRunning reports whether the loop is active
func (r *BandwidthAwareRouter) MeasurementsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *BandwidthAwareRouter) measureLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	r.MeasureOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.MeasureOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// MeasureOnce probes every registered backend once and returns how many
// measurements were recorded. Probe failures are logged and skipped.
func (r *BandwidthAwareRouter) MeasureOnce(ctx context.Context) int {
	if r.prober == nil {
		return 0
	}
	recorded := 0
	for _, b := range r.engine.Backends() {
		if ctx.Err() != nil {
			return recorded
		}
		update, err := r.prober.Probe(ctx, b)
		if err != nil {
			r.engine.logger.Warn("network probe for %s failed: %v", b, err)
			if update.Empty() {
				continue
			}
		}
		if update.Empty() {
			continue
		}
		r.engine.UpdateNetworkMetrics(b, update)
		recorded++
	}
	return recorded
}
