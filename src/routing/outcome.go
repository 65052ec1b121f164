package routing

import (
	"time"
)

// Outcome reports how a storage operation against a backend went. It may
// refer to a decision made by this engine or to an operation initiated elsewhere.
type Outcome struct {
	Backend     string          `json:"backend"`
	Operation   string          `json:"operation,omitempty"`
	Success     bool            `json:"success"`
	SizeBytes   int64           `json:"size_bytes,omitempty"`
	Category    ContentCategory `json:"content_category,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	Latency     time.Duration   `json:"-"`
	DecisionID  string          `json:"decision_id,omitempty"`
}

// DefaultOperation is recorded when an outcome names no operation.
const DefaultOperation = "store"

// OutcomeForDecision builds the outcome of carrying out a decision
func OutcomeForDecision(d RoutingDecision, success bool, latency time.Duration) Outcome {
	return Outcome{
		Backend:     d.SelectedBackend,
		Operation:   DefaultOperation,
		Success:     success,
		SizeBytes:   d.SizeBytes,
		Category:    d.Category,
		ContentType: d.ContentInfo.ContentType,
		Latency:     latency,
		DecisionID:  d.ID,
	}
}

// RecordOutcome feeds an operation result into statistics, access and usage
// patterns and, in batches, the adaptive weights. Unknown backends are
// registered on the fly. It never fails: an outcome without a backend is
// logged and dropped.
func (e *Engine) RecordOutcome(o Outcome) {
	if o.Backend == "" {
		e.logger.Warn("dropping outcome without backend")
		return
	}
	if o.Operation == "" {
		o.Operation = DefaultOperation
	}
	e.ensureRegistered(o.Backend)

	decision, hasDecision := e.decisions.Find(o.DecisionID)
	if o.Category == "" {
		if hasDecision {
			o.Category = decision.Category
		} else {
			o.Category = ClassifyWithSize(ContentInfo{ContentType: o.ContentType, SizeBytes: o.SizeBytes})
		}
	}
	if o.SizeBytes == 0 && hasDecision {
		o.SizeBytes = decision.SizeBytes
	}

	e.stats.RecordOperation(OperationRecord{
		Backend:     o.Backend,
		Operation:   o.Operation,
		Success:     o.Success,
		SizeBytes:   o.SizeBytes,
		ContentType: string(o.Category),
		Latency:     o.Latency,
	})
	if e.HasCapability(CapabilityAccessPatterns) {
		e.access.RecordAccess(o.Backend, o.Category, o.Success, o.SizeBytes)
	}
	e.usage.RecordUsage(o.Backend, o.SizeBytes)

	if hasDecision && decision.SelectedBackend == o.Backend && len(decision.FactorVotes) > 0 &&
		e.HasCapability(CapabilityAdaptiveWeights) {
		e.accumulateVotes(decision.FactorVotes, o.Success)
	}

	e.notifyOutcome(o)
}

// RecordDecisionOutcome is RecordOutcome for a decision returned by Select
func (e *Engine) RecordDecisionOutcome(d RoutingDecision, success bool, latency time.Duration) {
	e.RecordOutcome(OutcomeForDecision(d, success, latency))
}

// accumulateVotes tallies whether each factor's preference agreed with the
// outcome. Every batchSize outcomes the per-factor majority is applied to the
// adaptive weights; factors with a tied tally are left alone.
func (e *Engine) accumulateVotes(votes map[OptimizationFactor]bool, success bool) {
	e.batchMu.Lock()
	for f, voted := range votes {
		tally := e.pending[f]
		if tally == nil {
			tally = &voteTally{}
			e.pending[f] = tally
		}
		if voted == success {
			tally.correct++
		} else {
			tally.incorrect++
		}
	}
	e.pendingN++
	if e.pendingN < e.batchSize {
		e.batchMu.Unlock()
		return
	}

	outcomes := make(map[OptimizationFactor]bool, len(e.pending))
	for f, tally := range e.pending {
		if tally.correct != tally.incorrect {
			outcomes[f] = tally.correct > tally.incorrect
		}
	}
	e.pending = make(map[OptimizationFactor]*voteTally)
	e.pendingN = 0
	e.batchMu.Unlock()

	e.weights.UpdateWeights(outcomes)
	e.logger.Debug("applied weight batch over %d factors", len(outcomes))
}

// PendingVotes returns how many voted outcomes are waiting for the next weight batch
func (e *Engine) PendingVotes() int {
	e.batchMu.Lock()
	defer e.batchMu.Unlock()
	return e.pendingN
}

// SuggestBackendWeights derives a distribution per category from backend
// health, boosted by up to 50% for backends that have specialized in that
// category. Categories where every score is zero get a uniform distribution.
func (e *Engine) SuggestBackendWeights() map[ContentCategory]map[string]float64 {
	backends := e.Backends()
	snapshots := make(map[string]BackendStats, len(backends))
	for _, b := range backends {
		snapshots[b] = e.statsFor(b)
	}

	out := make(map[ContentCategory]map[string]float64, len(allCategories))
	for _, category := range allCategories {
		out[category] = suggestForCategory(category, backends, snapshots)
	}
	return out
}

// SuggestCategoryWeights is SuggestBackendWeights for a single category
func (e *Engine) SuggestCategoryWeights(category ContentCategory) map[string]float64 {
	backends := e.Backends()
	snapshots := make(map[string]BackendStats, len(backends))
	for _, b := range backends {
		snapshots[b] = e.statsFor(b)
	}
	return suggestForCategory(category, backends, snapshots)
}

func suggestForCategory(category ContentCategory, backends []string, snapshots map[string]BackendStats) map[string]float64 {
	scores := make(map[string]float64, len(backends))
	var total float64
	for _, b := range backends {
		st := snapshots[b]
		var specialization float64
		if st.TotalOperations > 0 {
			specialization = float64(st.ContentTypeCounts[string(category)]) / float64(st.TotalOperations)
		}
		score := st.HealthScore * (1 + 0.5*specialization)
		scores[b] = score
		total += score
	}
	if total <= 0 {
		return uniformWeights(backends)
	}
	for b := range scores {
		scores[b] /= total
	}
	return scores
}

// UpdateRouteMappings blends every category's mapping toward its suggestion by
// the configured blend factor. It is what one background tick does.
func (e *Engine) UpdateRouteMappings() {
	e.updateRouteMappingsAt(e.now())
}

// UpdateRouteMappingsIfDue runs UpdateRouteMappings when at least one update
// interval has passed since the last run, allowing a small scheduling slack.
func (e *Engine) UpdateRouteMappingsIfDue(now time.Time) bool {
	e.mu.Lock()
	last, interval := e.lastUpdate, e.updateInterval
	e.mu.Unlock()

	if !last.IsZero() && now.Sub(last)+interval/20 < interval {
		return false
	}
	e.updateRouteMappingsAt(now)
	return true
}

// LastMappingUpdate returns when mappings were last refreshed
func (e *Engine) LastMappingUpdate() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUpdate
}

func (e *Engine) updateRouteMappingsAt(now time.Time) {
	e.mu.Lock()
	e.lastUpdate = now
	factor := e.blendFactor
	registered := len(e.backends)
	e.mu.Unlock()

	if registered == 0 {
		return
	}

	suggestions := e.SuggestBackendWeights()
	changed := make([]RouteMapping, 0, len(allCategories))
	for _, category := range allCategories {
		changed = append(changed, e.mappings.Blend(category, suggestions[category], factor))
	}
	e.logger.Debug("refreshed %d route mappings (blend %.2f)", len(changed), factor)
	for _, m := range changed {
		e.notifyMapping(m)
	}
}
