package routing

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	routererrors "content-router/src/internal/errors"
)

// SelectOptions carries the per-request routing parameters. Zero values mean
// the engine default strategy, balanced priority, the engine's current region
// and every registered backend.
type SelectOptions struct {
	Strategy          Strategy `json:"strategy,omitempty"`
	Priority          Priority `json:"priority,omitempty"`
	ClientLocation    string   `json:"client_location,omitempty"`
	AvailableBackends []string `json:"available_backends,omitempty"`
}

const (
	scoreEpsilon = 1e-9
	// costReference is the cost at which the cost score is 0.5.
	costReference = 0.01
	// geoMismatchScore is the geographic score of a backend outside the request region.
	geoMismatchScore = 0.3
	// sizeMismatchPenalty scales the content score when the payload size is unusual for the backend.
	sizeMismatchPenalty = 0.5
)

// hybridWeights are the fixed component weights of the hybrid strategy.
var hybridWeights = map[OptimizationFactor]float64{
	FactorContentMatch:   0.25,
	FactorCostEfficiency: 0.20,
	FactorPerformance:    0.25,
	FactorAvailability:   0.15,
	FactorGeographic:     0.15,
}

// SelectBackend chooses a backend for the content and returns its name.
func (e *Engine) SelectBackend(info ContentInfo, opts SelectOptions) (string, error) {
	decision, err := e.Select(info, opts)
	if err != nil {
		return "", err
	}
	return decision.SelectedBackend, nil
}

// Select chooses a backend and returns the full decision, which is also
// appended to the decision log and published to observers.
func (e *Engine) Select(info ContentInfo, opts SelectOptions) (RoutingDecision, error) {
	if opts.Strategy != "" {
		s, err := ParseStrategy(string(opts.Strategy))
		if err != nil {
			return RoutingDecision{}, err
		}
		opts.Strategy = s
	}
	priority, err := ParsePriority(string(opts.Priority))
	if err != nil {
		return RoutingDecision{}, err
	}
	opts.Priority = priority

	e.mu.Lock()
	decision, err := e.selectLocked(info, opts)
	e.mu.Unlock()
	if err != nil {
		e.logger.Warn("selection failed: %v", err)
		return RoutingDecision{}, err
	}

	e.recordDecision(decision)
	return decision, nil
}

// recordDecision appends a decision to the log and publishes it to observers.
// The engine lock must not be held.
func (e *Engine) recordDecision(d RoutingDecision) {
	e.decisions.Append(d)
	e.logger.Debug("selected %s for %s via %s: %s", d.SelectedBackend, d.Category, d.Strategy, d.Reason)
	e.notifyDecision(d)
}

func (e *Engine) selectLocked(info ContentInfo, opts SelectOptions) (RoutingDecision, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = e.defaultStrategy
	}
	region := opts.ClientLocation
	if region == "" {
		region = e.currentRegion
	}

	base := e.candidateBaseLocked(opts.AvailableBackends)
	if len(base) == 0 {
		return RoutingDecision{}, routererrors.NewNoBackendsAvailableError(string(strategy), opts.AvailableBackends)
	}

	d := RoutingDecision{
		ID:          uuid.NewString(),
		Timestamp:   e.now(),
		ContentInfo: info,
		Strategy:    strategy,
		Priority:    opts.Priority,
		Category:    ClassifyWithSize(info),
		SizeBytes:   info.SizeBytes,
		Region:      region,
	}

	if info.RoutingKey != "" {
		if target, ok := e.customRoutes[info.RoutingKey]; ok {
			if contains(base, target) {
				d.SelectedBackend = target
				d.Candidates = base
				d.Reason = fmt.Sprintf("custom route for key %s", info.RoutingKey)
				return d, nil
			}
			e.logger.Debug("custom route %s -> %s ignored: backend not a candidate", info.RoutingKey, target)
		}
	}

	effective := strategy
	reasonPrefix := ""
	if strategy == StrategyCustom {
		effective = StrategyHybrid
		reasonPrefix = "no custom route, "
	}

	candidates := base
	if !effective.skipsAvailabilityFilter() {
		candidates = e.availableLocked(base)
	}
	d.Candidates = candidates

	switch effective {
	case StrategyRandom:
		d.SelectedBackend = candidates[e.rng.IntN(len(candidates))]
		d.Reason = "random selection"
	case StrategyRoundRobin:
		d.SelectedBackend = candidates[e.roundRobinIndex%len(candidates)]
		e.roundRobinIndex++
		d.Reason = "round robin rotation"
	case StrategyContentType:
		d.SelectedBackend = e.weightedLocked(d.Category, candidates)
		d.Reason = fmt.Sprintf("weighted draw from %s mapping", d.Category)
	case StrategyCost:
		d.SelectedBackend, d.Scores = e.cheapestLocked(candidates, info.SizeBytes)
		d.Reason = fmt.Sprintf("lowest cost for %d bytes", info.SizeBytes)
	case StrategyPerformance:
		d.Scores = e.scoreEachLocked(candidates, e.performanceScore)
		d.SelectedBackend = argmax(candidates, d.Scores)
		d.Reason = "best latency and success rate"
	case StrategyAvailability:
		d.Scores = e.scoreEachLocked(candidates, e.availabilityStrategyScore)
		d.SelectedBackend = argmax(candidates, d.Scores)
		d.Reason = "best availability and success rate"
	case StrategyGeographic:
		d.SelectedBackend, d.Reason = e.geographicLocked(d.Category, candidates, region)
	case StrategyHybrid:
		factors := e.factorScoresLocked(candidates, d.Category, info.SizeBytes, region)
		weights := applyPriority(hybridWeights, opts.Priority)
		d.Scores = weightedSum(candidates, factors, weights, nil)
		d.SelectedBackend = argmax(candidates, d.Scores)
		d.Reason = reasonPrefix + fmt.Sprintf("highest hybrid score %.3f", d.Scores[d.SelectedBackend])
		d.FactorVotes = e.factorVotesLocked(candidates, factors, d.SelectedBackend)
	case StrategyAdaptive:
		factors := e.factorScoresLocked(candidates, d.Category, info.SizeBytes, region)
		weights := e.weights.Adjusted(opts.Priority)
		d.Scores = weightedSum(candidates, factors, weights, e.usage.LoadDistribution())
		d.SelectedBackend = argmax(candidates, d.Scores)
		d.Reason = fmt.Sprintf("highest adaptive score %.3f (%s priority)", d.Scores[d.SelectedBackend], opts.Priority)
		d.FactorVotes = e.factorVotesLocked(candidates, factors, d.SelectedBackend)
	default:
		return RoutingDecision{}, routererrors.NewValidationError("strategy", fmt.Sprintf("unsupported strategy %q", strategy))
	}
	return d, nil
}

// candidateBaseLocked intersects the registered backends with the requested
// subset, keeping registration order.
func (e *Engine) candidateBaseLocked(requested []string) []string {
	if requested == nil {
		return append([]string(nil), e.backends...)
	}
	allowed := make(map[string]bool, len(requested))
	for _, b := range requested {
		allowed[b] = true
	}
	var out []string
	for _, b := range e.backends {
		if allowed[b] {
			out = append(out, b)
		}
	}
	return out
}

// availableLocked keeps the candidates whose last availability report was
// positive. When none remain the full set is returned.
func (e *Engine) availableLocked(candidates []string) []string {
	var out []string
	for _, b := range candidates {
		if e.stats.IsAvailable(b) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		e.logger.Debug("no candidate reported available, widening to %d backends", len(candidates))
		return candidates
	}
	return out
}

func (e *Engine) weightedLocked(category ContentCategory, candidates []string) string {
	backend, ok := e.mappings.WeightedSelect(category, candidates, e.rng.Float64())
	if !ok {
		return candidates[0]
	}
	return backend
}

func (e *Engine) cheapestLocked(candidates []string, sizeBytes int64) (string, map[string]float64) {
	costs := make(map[string]float64, len(candidates))
	best := ""
	bestCost := math.Inf(1)
	for _, b := range candidates {
		c := e.costModelLocked(b).Cost(sizeBytes)
		costs[b] = c
		if c < bestCost {
			best, bestCost = b, c
		}
	}
	return best, costs
}

func (e *Engine) geographicLocked(category ContentCategory, candidates []string, region string) (string, string) {
	if geo, ok := e.regions[region]; ok {
		var local []string
		for _, b := range candidates {
			if geo.serves(b) {
				local = append(local, b)
			}
		}
		if len(local) > 0 {
			return e.weightedLocked(category, local), fmt.Sprintf("weighted draw among %s backends", region)
		}
	}
	return e.weightedLocked(category, candidates), fmt.Sprintf("no candidate serves region %q, weighted draw over all", region)
}

func (e *Engine) scoreEachLocked(candidates []string, score func(BackendStats) float64) map[string]float64 {
	out := make(map[string]float64, len(candidates))
	for _, b := range candidates {
		out[b] = score(e.statsFor(b))
	}
	return out
}

// statsFor returns a backend's snapshot, or the optimistic defaults of a fresh backend.
func (e *Engine) statsFor(backend string) BackendStats {
	if st, ok := e.stats.Get(backend); ok {
		return st
	}
	return BackendStats{
		Backend:                backend,
		SuccessRate:            1.0,
		AvailabilityStatus:     true,
		AvailabilityPercentage: 100,
		HealthScore:            HealthScore(100, 1.0, 0),
	}
}

func (e *Engine) performanceScore(st BackendStats) float64 {
	return 0.7*LatencyFactor(st.AvgLatency()) + 0.3*st.SuccessRate
}

func (e *Engine) availabilityStrategyScore(st BackendStats) float64 {
	return 0.6*(st.AvailabilityPercentage/100.0) + 0.4*st.SuccessRate
}

// factorScoresLocked scores every candidate on every optimization factor, each in [0, 1].
func (e *Engine) factorScoresLocked(candidates []string, category ContentCategory, sizeBytes int64, region string) map[string]map[OptimizationFactor]float64 {
	mapping := e.mappings.Mapping(category).BackendMappings
	var maxWeight float64
	for _, b := range candidates {
		maxWeight = math.Max(maxWeight, mapping[b])
	}

	usePatterns := e.HasCapability(CapabilityAccessPatterns)
	useNetwork := e.HasCapability(CapabilityNetworkAwareness)
	geo, regionKnown := e.regions[region]

	out := make(map[string]map[OptimizationFactor]float64, len(candidates))
	for _, b := range candidates {
		st := e.statsFor(b)

		var weightShare float64
		if maxWeight > 0 {
			weightShare = mapping[b] / maxWeight
		}
		categorySuccess := NeutralSuccessRate
		if usePatterns {
			categorySuccess = e.access.SuccessRate(b, category)
		}
		content := 0.6*weightShare + 0.4*categorySuccess
		if usePatterns && !e.access.IsSizeAppropriate(b, category, sizeBytes) {
			content *= sizeMismatchPenalty
		}

		network := QualityUnknown.Score()
		if useNetwork {
			network = e.network.Quality(b).Score()
		}

		geoScore := 1.0
		if regionKnown && !geo.serves(b) {
			geoScore = geoMismatchScore
		}

		historical := st.SuccessRate
		if usePatterns {
			historical = categorySuccess
		}

		out[b] = map[OptimizationFactor]float64{
			FactorContentMatch:      content,
			FactorCostEfficiency:    costScore(e.costModelLocked(b).Cost(sizeBytes)),
			FactorPerformance:       e.performanceScore(st),
			FactorNetworkQuality:    network,
			FactorAvailability:      st.AvailabilityPercentage / 100.0,
			FactorGeographic:        geoScore,
			FactorHistoricalSuccess: historical,
		}
	}
	return out
}

// factorVotesLocked records, per factor, whether the chosen backend was also
// that factor's favourite. Single-candidate decisions carry no signal.
func (e *Engine) factorVotesLocked(candidates []string, factors map[string]map[OptimizationFactor]float64, chosen string) map[OptimizationFactor]bool {
	if !e.HasCapability(CapabilityAdaptiveWeights) || len(candidates) < 2 {
		return nil
	}
	votes := make(map[OptimizationFactor]bool, len(allFactors))
	for _, f := range allFactors {
		best := math.Inf(-1)
		for _, b := range candidates {
			best = math.Max(best, factors[b][f])
		}
		votes[f] = factors[chosen][f] >= best-scoreEpsilon
	}
	return votes
}

// costScore maps a cost onto (0, 1) with a logistic curve centred on costReference.
func costScore(cost float64) float64 {
	return 1 / (1 + math.Exp(cost-costReference))
}

func weightedSum(candidates []string, factors map[string]map[OptimizationFactor]float64, weights map[OptimizationFactor]float64, load map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(candidates))
	for _, b := range candidates {
		var score float64
		for _, f := range allFactors {
			score += weights[f] * factors[b][f]
		}
		score -= LoadPenalty * load[b]
		out[b] = score
	}
	return out
}

// argmax returns the highest scoring candidate; the earliest wins ties.
func argmax(candidates []string, scores map[string]float64) string {
	best := candidates[0]
	bestScore := scores[best]
	for _, b := range candidates[1:] {
		if scores[b] > bestScore {
			best, bestScore = b, scores[b]
		}
	}
	return best
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
