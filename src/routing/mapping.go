package routing

import (
	"math"
	"strings"
	"sync"
	"time"

	routererrors "content-router/src/internal/errors"
)

const (
	// NewBackendSeedWeight is the weight a newly added backend receives in
	// every existing mapping before renormalization.
	NewBackendSeedWeight = 0.1
	// normalizationTolerance is how far a mapping may drift from 1.0 before it is renormalized.
	normalizationTolerance = 0.001
)

// RouteMapping is a probability distribution over backends for one category.
type RouteMapping struct {
	Category        ContentCategory    `json:"category"`
	BackendMappings map[string]float64 `json:"backend_mappings"`
	LastUpdated     time.Time          `json:"last_updated"`
}

// Sum returns the total weight of the mapping
func (m RouteMapping) Sum() float64 {
	var sum float64
	for _, w := range m.BackendMappings {
		sum += w
	}
	return sum
}

type mappingEntry struct {
	weights     map[string]float64
	lastUpdated time.Time
}

// RouteMappingStore owns the per-category backend distributions.
// Backend order follows registration order and drives selection scans.
type RouteMappingStore struct {
	mu       sync.RWMutex
	backends []string
	mappings map[ContentCategory]*mappingEntry
	// cumulative distributions keyed by category and candidate set
	cache map[ContentCategory]map[string]cumulativeDist
	now   func() time.Time
}

type cumulativeDist struct {
	backends   []string
	cumulative []float64
	total      float64
}

// NewRouteMappingStore creates a store over an initial ordered backend set
func NewRouteMappingStore(backends ...string) *RouteMappingStore {
	s := &RouteMappingStore{
		mappings: make(map[ContentCategory]*mappingEntry),
		cache:    make(map[ContentCategory]map[string]cumulativeDist),
		now:      time.Now,
	}
	for _, b := range backends {
		if !s.hasBackend(b) {
			s.backends = append(s.backends, b)
		}
	}
	return s
}

func (s *RouteMappingStore) hasBackend(backend string) bool {
	for _, b := range s.backends {
		if b == backend {
			return true
		}
	}
	return false
}

// Backends returns the registered backends in order
func (s *RouteMappingStore) Backends() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.backends))
	copy(out, s.backends)
	return out
}

// Mapping returns the distribution for a category, creating a uniform one
// over the current backends on first use.
func (s *RouteMappingStore) Mapping(category ContentCategory) RouteMapping {
	s.mu.RLock()
	entry, ok := s.mappings[category]
	if ok {
		m := toRouteMapping(category, entry)
		s.mu.RUnlock()
		return m
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return toRouteMapping(category, s.ensureLocked(category))
}

// Has reports whether a mapping for the category has been materialized
func (s *RouteMappingStore) Has(category ContentCategory) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.mappings[category]
	return ok
}

// All returns every materialized mapping
func (s *RouteMappingStore) All() map[ContentCategory]RouteMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ContentCategory]RouteMapping, len(s.mappings))
	for category, entry := range s.mappings {
		out[category] = toRouteMapping(category, entry)
	}
	return out
}

func (s *RouteMappingStore) ensureLocked(category ContentCategory) *mappingEntry {
	if entry, ok := s.mappings[category]; ok {
		return entry
	}
	entry := &mappingEntry{weights: uniformWeights(s.backends), lastUpdated: s.now()}
	if len(entry.weights) > 0 {
		s.mappings[category] = entry
	}
	return entry
}

// SetMapping replaces the distribution for a category. Every key must be a
// registered backend and weights must be non-negative with a positive sum.
// Nothing is changed when validation fails.
func (s *RouteMappingStore) SetMapping(category ContentCategory, weights map[string]float64) (RouteMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateLocked(category, weights); err != nil {
		return RouteMapping{}, err
	}

	entry := &mappingEntry{weights: normalizeWeights(weights), lastUpdated: s.now()}
	s.mappings[category] = entry
	s.invalidateLocked(category)
	return toRouteMapping(category, entry), nil
}

// Validate checks a candidate mapping without applying it
func (s *RouteMappingStore) Validate(category ContentCategory, weights map[string]float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validateLocked(category, weights)
}

func (s *RouteMappingStore) validateLocked(category ContentCategory, weights map[string]float64) error {
	if len(weights) == 0 {
		return routererrors.NewValidationError("backend_mappings", "mapping for "+string(category)+" is empty")
	}
	var sum float64
	for backend, w := range weights {
		if !s.hasBackend(backend) {
			return routererrors.NewUnknownBackendError(backend, "route mapping for "+string(category))
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return routererrors.NewValidationError("backend_mappings", "weight for "+backend+" must be a finite non-negative number")
		}
		sum += w
	}
	if sum <= 0 {
		return routererrors.NewValidationError("backend_mappings", "weights for "+string(category)+" must sum to a positive value")
	}
	return nil
}

// AddBackend inserts a backend into every existing mapping at the seed weight
// and renormalizes. Adding a known backend is a no-op.
func (s *RouteMappingStore) AddBackend(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasBackend(backend) {
		return
	}
	s.backends = append(s.backends, backend)

	now := s.now()
	for _, entry := range s.mappings {
		entry.weights[backend] = NewBackendSeedWeight
		entry.weights = normalizeWeights(entry.weights)
		entry.lastUpdated = now
	}
	s.invalidateAllLocked()
}

// RemoveBackend drops a backend and hands its weight to the survivors in
// proportion to their current weights. A mapping left empty is deleted.
func (s *RouteMappingStore) RemoveBackend(backend string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.backends[:0]
	for _, b := range s.backends {
		if b != backend {
			kept = append(kept, b)
		}
	}
	s.backends = kept

	now := s.now()
	for category, entry := range s.mappings {
		if _, ok := entry.weights[backend]; !ok {
			continue
		}
		delete(entry.weights, backend)
		if len(entry.weights) == 0 {
			delete(s.mappings, category)
			continue
		}
		entry.weights = normalizeWeights(entry.weights)
		entry.lastUpdated = now
	}
	s.invalidateAllLocked()
}

// Blend moves the category's distribution a fraction of the way toward target
// and renormalizes. Target keys that are not registered are ignored.
func (s *RouteMappingStore) Blend(category ContentCategory, target map[string]float64, factor float64) RouteMapping {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.ensureLocked(category)
	factor = clamp01(factor)
	blended := make(map[string]float64, len(s.backends))
	for _, b := range s.backends {
		current := entry.weights[b]
		blended[b] = current + factor*(target[b]-current)
	}
	entry.weights = normalizeWeights(blended)
	entry.lastUpdated = s.now()
	s.invalidateLocked(category)
	return toRouteMapping(category, entry)
}

// Replace swaps the full backend order and mapping set in one step. It is used
// when a routing document is imported and expects pre-validated input.
func (s *RouteMappingStore) Replace(backends []string, mappings map[ContentCategory]map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.backends = append([]string(nil), backends...)
	s.mappings = make(map[ContentCategory]*mappingEntry, len(mappings))
	now := s.now()
	for category, weights := range mappings {
		if len(weights) == 0 {
			continue
		}
		s.mappings[category] = &mappingEntry{weights: normalizeWeights(weights), lastUpdated: now}
	}
	s.invalidateAllLocked()
}

// WeightedSelect draws one backend from the category's distribution restricted
// to candidates, using a single uniform draw r in [0, 1).
//
// Candidates absent from the mapping are ignored. If none of them are mapped
// the first candidate is returned. If every mapped candidate has zero weight
// the draw is uniform over them.
func (s *RouteMappingStore) WeightedSelect(category ContentCategory, candidates []string, r float64) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	key := candidateKey(candidates)
	s.mu.RLock()
	dist, cached := s.cache[category][key]
	s.mu.RUnlock()

	if !cached {
		s.mu.Lock()
		entry := s.ensureLocked(category)
		dist = buildCumulative(entry.weights, candidates)
		if s.cache[category] == nil {
			s.cache[category] = make(map[string]cumulativeDist)
		}
		s.cache[category][key] = dist
		s.mu.Unlock()
	}

	if len(dist.backends) == 0 {
		return candidates[0], true
	}
	if r < 0 {
		r = 0
	}
	if r >= 1 {
		r = math.Nextafter(1, 0)
	}
	if dist.total <= 0 {
		return dist.backends[int(r*float64(len(dist.backends)))], true
	}

	target := r * dist.total
	for i, c := range dist.cumulative {
		if target < c {
			return dist.backends[i], true
		}
	}
	return dist.backends[len(dist.backends)-1], true
}

func (s *RouteMappingStore) invalidateLocked(category ContentCategory) {
	delete(s.cache, category)
}

func (s *RouteMappingStore) invalidateAllLocked() {
	s.cache = make(map[ContentCategory]map[string]cumulativeDist)
}

func buildCumulative(weights map[string]float64, candidates []string) cumulativeDist {
	var dist cumulativeDist
	var running float64
	for _, c := range candidates {
		w, ok := weights[c]
		if !ok {
			continue
		}
		running += w
		dist.backends = append(dist.backends, c)
		dist.cumulative = append(dist.cumulative, running)
	}
	dist.total = running
	return dist
}

func candidateKey(candidates []string) string {
	return strings.Join(candidates, "\x00")
}

func toRouteMapping(category ContentCategory, entry *mappingEntry) RouteMapping {
	weights := make(map[string]float64, len(entry.weights))
	for k, v := range entry.weights {
		weights[k] = v
	}
	return RouteMapping{Category: category, BackendMappings: weights, LastUpdated: entry.lastUpdated}
}

func uniformWeights(backends []string) map[string]float64 {
	weights := make(map[string]float64, len(backends))
	if len(backends) == 0 {
		return weights
	}
	share := 1.0 / float64(len(backends))
	for _, b := range backends {
		weights[b] = share
	}
	return weights
}

// normalizeWeights rescales weights to sum to 1. Distributions already within
// tolerance are returned unchanged; all-zero distributions become uniform.
func normalizeWeights(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	var sum float64
	for k, w := range weights {
		if w < 0 {
			w = 0
		}
		out[k] = w
		sum += w
	}
	if len(out) == 0 {
		return out
	}
	if sum <= 0 {
		share := 1.0 / float64(len(out))
		for k := range out {
			out[k] = share
		}
		return out
	}
	if math.Abs(sum-1.0) <= normalizationTolerance {
		return out
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}
