package routing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	routererrors "content-router/src/internal/errors"
)

// Strategy names the algorithm used to pick a backend for one request.
type Strategy string

const (
	StrategyRandom       Strategy = "random"
	StrategyRoundRobin   Strategy = "round_robin"
	StrategyContentType  Strategy = "content_type"
	StrategyCost         Strategy = "cost"
	StrategyPerformance  Strategy = "performance"
	StrategyAvailability Strategy = "availability"
	StrategyGeographic   Strategy = "geographic"
	StrategyHybrid       Strategy = "hybrid"
	StrategyCustom       Strategy = "custom"
	StrategyAdaptive     Strategy = "adaptive"
)

// Network selections made by BandwidthAwareRouter. They appear in the
// decision log but cannot be requested through SelectOptions.
const (
	StrategyLowestLatency    Strategy = "lowest_latency"
	StrategyHighestBandwidth Strategy = "highest_bandwidth"
	StrategyFastestTransfer  Strategy = "fastest_transfer"
)

var allStrategies = []Strategy{
	StrategyRandom, StrategyRoundRobin, StrategyContentType, StrategyCost, StrategyPerformance,
	StrategyAvailability, StrategyGeographic, StrategyHybrid, StrategyCustom, StrategyAdaptive,
}

// AllStrategies lists every strategy
func AllStrategies() []Strategy {
	out := make([]Strategy, len(allStrategies))
	copy(out, allStrategies)
	return out
}

// ParseStrategy accepts a strategy name in any case, with '-' or '_'.
func ParseStrategy(name string) (Strategy, error) {
	normalized := Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
	for _, s := range allStrategies {
		if s == normalized {
			return s, nil
		}
	}
	return "", routererrors.NewValidationError("strategy", fmt.Sprintf("unknown strategy %q", name))
}

// skipsAvailabilityFilter reports strategies that select over every candidate
// regardless of availability status.
func (s Strategy) skipsAvailabilityFilter() bool {
	return s == StrategyRandom || s == StrategyRoundRobin || s == StrategyCustom
}

// RoutingDecision is the audit record of one selection.
type RoutingDecision struct {
	ID              string                      `json:"id"`
	Timestamp       time.Time                   `json:"timestamp"`
	ContentInfo     ContentInfo                 `json:"content_info"`
	Strategy        Strategy                    `json:"strategy"`
	Priority        Priority                    `json:"priority,omitempty"`
	SelectedBackend string                      `json:"selected_backend"`
	Reason          string                      `json:"reason"`
	Category        ContentCategory             `json:"content_category,omitempty"`
	SizeBytes       int64                       `json:"size_bytes,omitempty"`
	Region          string                      `json:"region,omitempty"`
	Candidates      []string                    `json:"candidates,omitempty"`
	Scores          map[string]float64          `json:"scores,omitempty"`
	FactorVotes     map[OptimizationFactor]bool `json:"factor_votes,omitempty"`
}

// DefaultDecisionLogSize bounds the in-memory decision log.
const DefaultDecisionLogSize = 1000

// DecisionLog is a bounded, append-only ring of recent decisions.
type DecisionLog struct {
	mu        sync.RWMutex
	capacity  int
	decisions []RoutingDecision
	next      int
	full      bool
	total     int64
}

// NewDecisionLog creates a log holding at most capacity decisions
func NewDecisionLog(capacity int) *DecisionLog {
	if capacity <= 0 {
		capacity = DefaultDecisionLogSize
	}
	return &DecisionLog{
		capacity:  capacity,
		decisions: make([]RoutingDecision, 0, capacity),
	}
}

// Append adds a decision, evicting the oldest when full
func (l *DecisionLog) Append(d RoutingDecision) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	if !l.full && len(l.decisions) < l.capacity {
		l.decisions = append(l.decisions, d)
		if len(l.decisions) == l.capacity {
			l.full = true
		}
		return
	}
	l.decisions[l.next] = d
	l.next = (l.next + 1) % l.capacity
}

// Len returns the number of retained decisions
func (l *DecisionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.decisions)
}

// Total returns the number of decisions ever appended
func (l *DecisionLog) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Recent returns up to n decisions, newest first. n <= 0 returns all.
func (l *DecisionLog) Recent(n int) []RoutingDecision {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := len(l.decisions)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]RoutingDecision, 0, n)
	for i := 0; i < n; i++ {
		idx := l.indexFromNewestLocked(i)
		out = append(out, l.decisions[idx])
	}
	return out
}

// Find returns a retained decision by ID
func (l *DecisionLog) Find(id string) (RoutingDecision, bool) {
	if id == "" {
		return RoutingDecision{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := 0; i < len(l.decisions); i++ {
		d := l.decisions[l.indexFromNewestLocked(i)]
		if d.ID == id {
			return d, true
		}
	}
	return RoutingDecision{}, false
}

func (l *DecisionLog) indexFromNewestLocked(i int) int {
	size := len(l.decisions)
	if !l.full {
		return size - 1 - i
	}
	return ((l.next-1-i)%size + size) % size
}

// RoutingInsights summarizes the decision log and learning state.
type RoutingInsights struct {
	TotalDecisions    int64                          `json:"total_decisions"`
	RetainedDecisions int                            `json:"retained_decisions"`
	StrategyCounts    map[Strategy]int               `json:"strategy_counts"`
	BackendCounts     map[string]int                 `json:"backend_counts"`
	CategoryCounts    map[ContentCategory]int        `json:"category_counts"`
	BackendHealth     map[string]float64             `json:"backend_health"`
	LoadDistribution  map[string]float64             `json:"load_distribution"`
	AdaptiveWeights   map[OptimizationFactor]float64 `json:"adaptive_weights"`
	WeightUpdates     int64                          `json:"weight_updates"`
	PreferredBackends map[ContentCategory][]string   `json:"preferred_backends,omitempty"`
	RecentDecisions   []RoutingDecision              `json:"recent_decisions"`
	Capabilities      []Capability                   `json:"capabilities"`
	NetworkQuality    map[string]NetworkQuality      `json:"network_quality,omitempty"`
}
