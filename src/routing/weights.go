package routing

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	routererrors "content-router/src/internal/errors"
)

// OptimizationFactor is one dimension of backend scoring.
type OptimizationFactor string

const (
	FactorContentMatch      OptimizationFactor = "content_match"
	FactorCostEfficiency    OptimizationFactor = "cost_efficiency"
	FactorPerformance       OptimizationFactor = "performance"
	FactorNetworkQuality    OptimizationFactor = "network_quality"
	FactorAvailability      OptimizationFactor = "availability"
	FactorGeographic        OptimizationFactor = "geographic"
	FactorHistoricalSuccess OptimizationFactor = "historical_success"
)

var allFactors = []OptimizationFactor{
	FactorContentMatch, FactorCostEfficiency, FactorPerformance, FactorNetworkQuality,
	FactorAvailability, FactorGeographic, FactorHistoricalSuccess,
}

// AllFactors returns every optimization factor in a stable order
func AllFactors() []OptimizationFactor {
	out := make([]OptimizationFactor, len(allFactors))
	copy(out, allFactors)
	return out
}

// DefaultFactorWeights are the initial adaptive weights.
func DefaultFactorWeights() map[OptimizationFactor]float64 {
	return map[OptimizationFactor]float64{
		FactorContentMatch:      0.20,
		FactorCostEfficiency:    0.15,
		FactorPerformance:       0.15,
		FactorNetworkQuality:    0.15,
		FactorAvailability:      0.15,
		FactorGeographic:        0.10,
		FactorHistoricalSuccess: 0.10,
	}
}

// Priority reweights scoring factors for a single request.
type Priority string

const (
	PriorityBalanced    Priority = "balanced"
	PriorityPerformance Priority = "performance"
	PriorityCost        Priority = "cost"
	PriorityReliability Priority = "reliability"
	PriorityLocality    Priority = "locality"
)

var priorityMultipliers = map[Priority]map[OptimizationFactor]float64{
	PriorityBalanced: {},
	PriorityPerformance: {
		FactorPerformance:    1.5,
		FactorNetworkQuality: 1.5,
	},
	PriorityCost: {
		FactorCostEfficiency: 2.0,
	},
	PriorityReliability: {
		FactorAvailability:      1.5,
		FactorHistoricalSuccess: 1.5,
	},
	PriorityLocality: {
		FactorGeographic:     2.0,
		FactorNetworkQuality: 1.2,
	},
}

// ParsePriority accepts a priority name in any case; empty means balanced.
func ParsePriority(name string) (Priority, error) {
	normalized := Priority(strings.ToLower(strings.TrimSpace(name)))
	if normalized == "" {
		return PriorityBalanced, nil
	}
	if _, ok := priorityMultipliers[normalized]; ok {
		return normalized, nil
	}
	return "", routererrors.NewValidationError("priority", fmt.Sprintf("unknown priority %q", name))
}

// PriorityMultipliers returns the boost table for a priority
func PriorityMultipliers(p Priority) map[OptimizationFactor]float64 {
	out := make(map[OptimizationFactor]float64)
	for f, m := range priorityMultipliers[p] {
		out[f] = m
	}
	return out
}

const (
	// DefaultLearningRate is the relative nudge applied per factor vote.
	DefaultLearningRate = 0.02
	// DefaultWeightFloor keeps every factor in play.
	DefaultWeightFloor = 0.01
)

// AdaptiveWeights is a distribution over optimization factors that drifts
// toward factors whose preferences led to successful outcomes.
type AdaptiveWeights struct {
	mu           sync.RWMutex
	weights      map[OptimizationFactor]float64
	learningRate float64
	floor        float64
	updates      int64
	lastUpdated  time.Time
}

// NewAdaptiveWeights creates weights at their defaults. Non-positive learning
// rate or floor fall back to the package defaults.
func NewAdaptiveWeights(learningRate, floor float64) *AdaptiveWeights {
	if learningRate <= 0 {
		learningRate = DefaultLearningRate
	}
	if floor <= 0 {
		floor = DefaultWeightFloor
	}
	return &AdaptiveWeights{
		weights:      DefaultFactorWeights(),
		learningRate: learningRate,
		floor:        floor,
		lastUpdated:  time.Now(),
	}
}

// Weight returns the current weight of one factor
func (w *AdaptiveWeights) Weight(f OptimizationFactor) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.weights[f]
}

// Weights returns a copy of all factor weights
func (w *AdaptiveWeights) Weights() map[OptimizationFactor]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return copyFactorWeights(w.weights)
}

// Updates returns how many times UpdateWeights has applied a change
func (w *AdaptiveWeights) Updates() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.updates
}

// UpdateWeights nudges each listed factor up (true) or down (false) by the
// learning rate, clamps to the floor and renormalizes. A single call moves any
// weight by a bounded amount.
func (w *AdaptiveWeights) UpdateWeights(outcomes map[OptimizationFactor]bool) {
	if len(outcomes) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for f, correct := range outcomes {
		current, ok := w.weights[f]
		if !ok {
			continue
		}
		if correct {
			current *= 1 + w.learningRate
		} else {
			current *= 1 - w.learningRate
		}
		w.weights[f] = math.Max(current, w.floor)
	}
	w.weights = normalizeFactorWeights(w.weights)
	w.updates++
	w.lastUpdated = time.Now()
}

// AdjustForPriority applies the priority's boost table to the stored weights
// and renormalizes.
func (w *AdaptiveWeights) AdjustForPriority(p Priority) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.weights = applyPriority(w.weights, p)
	w.lastUpdated = time.Now()
}

// Adjusted returns the weights as they would be after AdjustForPriority,
// without changing the stored weights.
func (w *AdaptiveWeights) Adjusted(p Priority) map[OptimizationFactor]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return applyPriority(w.weights, p)
}

// SetWeights replaces all factor weights. Unknown factors and negative values are rejected.
func (w *AdaptiveWeights) SetWeights(weights map[OptimizationFactor]float64) error {
	if err := ValidateFactorWeights(weights); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	next := make(map[OptimizationFactor]float64, len(allFactors))
	for _, f := range allFactors {
		next[f] = weights[f]
	}
	w.weights = normalizeFactorWeights(next)
	w.lastUpdated = time.Now()
	return nil
}

// Reset restores the default weights
func (w *AdaptiveWeights) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.weights = DefaultFactorWeights()
	w.updates = 0
	w.lastUpdated = time.Now()
}

// ValidateFactorWeights checks a factor weight table without applying it
func ValidateFactorWeights(weights map[OptimizationFactor]float64) error {
	var sum float64
	for f, v := range weights {
		if !isKnownFactor(f) {
			return routererrors.NewValidationError("adaptive_weights", fmt.Sprintf("unknown factor %q", f))
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return routererrors.NewValidationError("adaptive_weights", fmt.Sprintf("weight for %s must be a finite non-negative number", f))
		}
		sum += v
	}
	if sum <= 0 {
		return routererrors.NewValidationError("adaptive_weights", "weights must sum to a positive value")
	}
	return nil
}

func isKnownFactor(f OptimizationFactor) bool {
	for _, known := range allFactors {
		if known == f {
			return true
		}
	}
	return false
}

func applyPriority(weights map[OptimizationFactor]float64, p Priority) map[OptimizationFactor]float64 {
	out := copyFactorWeights(weights)
	for f, m := range priorityMultipliers[p] {
		if _, ok := out[f]; ok {
			out[f] *= m
		}
	}
	return normalizeFactorWeights(out)
}

func normalizeFactorWeights(weights map[OptimizationFactor]float64) map[OptimizationFactor]float64 {
	var sum float64
	for _, v := range weights {
		sum += v
	}
	out := make(map[OptimizationFactor]float64, len(weights))
	if sum <= 0 {
		share := 1.0 / float64(len(weights))
		for f := range weights {
			out[f] = share
		}
		return out
	}
	for f, v := range weights {
		out[f] = v / sum
	}
	return out
}

func copyFactorWeights(weights map[OptimizationFactor]float64) map[OptimizationFactor]float64 {
	out := make(map[OptimizationFactor]float64, len(weights))
	for f, v := range weights {
		out[f] = v
	}
	return out
}
