package routing

import (
	"fmt"
	"math"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"

	routererrors "content-router/src/internal/errors"
	"content-router/src/internal/version"
)

// RoutingConfigDocument is the portable form of an engine's routing state.
type RoutingConfigDocument struct {
	Version               string                                 `json:"version" yaml:"version"`
	ExportedAt            time.Time                              `json:"exported_at" yaml:"exported_at"`
	DefaultStrategy       Strategy                               `json:"default_strategy,omitempty" yaml:"default_strategy,omitempty"`
	CurrentRegion         string                                 `json:"current_region,omitempty" yaml:"current_region,omitempty"`
	UpdateIntervalSeconds int64                                  `json:"update_interval_seconds,omitempty" yaml:"update_interval_seconds,omitempty"`
	Backends              []string                               `json:"backends" yaml:"backends"`
	RouteMappings         map[ContentCategory]map[string]float64 `json:"route_mappings" yaml:"route_mappings"`
	CustomRoutes          map[string]string                      `json:"custom_routes,omitempty" yaml:"custom_routes,omitempty"`
	BackendCosts          map[string]CostModel                   `json:"backend_costs,omitempty" yaml:"backend_costs,omitempty"`
	GeoRegions            map[string]GeoRegion                   `json:"geo_regions,omitempty" yaml:"geo_regions,omitempty"`
	AdaptiveWeights       map[OptimizationFactor]float64         `json:"adaptive_weights,omitempty" yaml:"adaptive_weights,omitempty"`
}

// CheckDocumentVersion verifies a document version is importable by this build.
// An empty version is read as 1.0, the format before versions were written.
func CheckDocumentVersion(v string) error {
	if strings.TrimSpace(v) == "" {
		v = "1.0"
	}
	parsed, err := goversion.NewVersion(v)
	if err != nil {
		return routererrors.NewIncompatibleVersionError(v, version.DocumentFormatConstraint, err)
	}
	constraint, err := goversion.NewConstraint(version.DocumentFormatConstraint)
	if err != nil {
		return fmt.Errorf("invalid document constraint %q: %w", version.DocumentFormatConstraint, err)
	}
	if !constraint.Check(parsed) {
		return routererrors.NewIncompatibleVersionError(v, version.DocumentFormatConstraint, nil)
	}
	return nil
}

// ExportRoutingConfig snapshots the routing state into a document
func (e *Engine) ExportRoutingConfig() RoutingConfigDocument {
	e.mu.Lock()
	doc := RoutingConfigDocument{
		Version:               version.DocumentFormatVersion,
		ExportedAt:            e.now().UTC(),
		DefaultStrategy:       e.defaultStrategy,
		CurrentRegion:         e.currentRegion,
		UpdateIntervalSeconds: int64(e.updateInterval / time.Second),
		Backends:              append([]string(nil), e.backends...),
		CustomRoutes:          make(map[string]string, len(e.customRoutes)),
		BackendCosts:          make(map[string]CostModel, len(e.costs)),
		GeoRegions:            e.regionsCopyLocked(),
	}
	for k, v := range e.customRoutes {
		doc.CustomRoutes[k] = v
	}
	for k, v := range e.costs {
		doc.BackendCosts[k] = v
	}
	e.mu.Unlock()

	doc.RouteMappings = make(map[ContentCategory]map[string]float64)
	for category, m := range e.mappings.All() {
		doc.RouteMappings[category] = m.BackendMappings
	}
	doc.AdaptiveWeights = e.weights.Weights()
	return doc
}

// ValidateRoutingConfig checks a document against this engine without applying it
func (e *Engine) ValidateRoutingConfig(doc RoutingConfigDocument) error {
	if err := CheckDocumentVersion(doc.Version); err != nil {
		return err
	}
	if doc.DefaultStrategy != "" {
		if _, err := ParseStrategy(string(doc.DefaultStrategy)); err != nil {
			return err
		}
	}
	if doc.UpdateIntervalSeconds < 0 {
		return routererrors.NewValidationError("update_interval_seconds", "interval cannot be negative")
	}

	known := make(map[string]bool)
	for _, b := range e.Backends() {
		known[b] = true
	}
	seen := make(map[string]bool, len(doc.Backends))
	for _, b := range doc.Backends {
		if strings.TrimSpace(b) == "" {
			return routererrors.NewValidationError("backends", "backend name cannot be empty")
		}
		if seen[b] {
			return routererrors.NewValidationError("backends", "duplicate backend "+b)
		}
		seen[b] = true
		known[b] = true
	}

	for category, weights := range doc.RouteMappings {
		if _, ok := ParseCategory(string(category)); !ok {
			return routererrors.NewValidationError("route_mappings", fmt.Sprintf("unknown category %q", category))
		}
		if err := validateMappingWeights(category, weights, known); err != nil {
			return err
		}
	}
	for key, target := range doc.CustomRoutes {
		if strings.TrimSpace(key) == "" {
			return routererrors.NewValidationError("custom_routes", "routing key cannot be empty")
		}
		if !known[target] {
			return routererrors.NewUnknownBackendError(target, "custom route "+key)
		}
	}
	for name, model := range doc.BackendCosts {
		if err := model.validate(name); err != nil {
			return err
		}
	}
	if len(doc.AdaptiveWeights) > 0 {
		if err := ValidateFactorWeights(doc.AdaptiveWeights); err != nil {
			return err
		}
	}
	return nil
}

// ImportRoutingConfig validates a document in full and then applies it.
// Backends it names are registered; mappings, custom routes, costs, regions
// and weights it carries replace the current ones. Categories it does not
// mention keep their current mapping. On error nothing is changed.
func (e *Engine) ImportRoutingConfig(doc RoutingConfigDocument) error {
	if err := e.ValidateRoutingConfig(doc); err != nil {
		return err
	}

	e.mu.Lock()
	for _, b := range doc.Backends {
		e.registerLocked(b)
	}
	if doc.DefaultStrategy != "" {
		s, _ := ParseStrategy(string(doc.DefaultStrategy))
		e.defaultStrategy = s
	}
	if doc.CurrentRegion != "" {
		e.currentRegion = doc.CurrentRegion
	}
	if doc.UpdateIntervalSeconds > 0 {
		e.updateInterval = e.clampUpdateInterval(time.Duration(doc.UpdateIntervalSeconds) * time.Second)
	}
	if doc.CustomRoutes != nil {
		e.customRoutes = make(map[string]string, len(doc.CustomRoutes))
		for k, v := range doc.CustomRoutes {
			e.customRoutes[k] = v
		}
	}
	if doc.BackendCosts != nil {
		e.costs = make(map[string]CostModel, len(doc.BackendCosts))
		for k, v := range doc.BackendCosts {
			e.costs[k] = v
		}
	}
	if doc.GeoRegions != nil {
		e.regions = make(map[string]GeoRegion, len(doc.GeoRegions))
		for k, v := range doc.GeoRegions {
			e.regions[k] = GeoRegion{Backends: append([]string(nil), v.Backends...)}
		}
	}
	estimates := make(map[string]float64)
	for name, model := range e.costs {
		if e.isRegisteredLocked(name) {
			estimates[name] = model.Cost(bytesPerGB)
		}
	}
	e.mu.Unlock()

	for name, cost := range estimates {
		e.stats.SetEstimatedCost(name, cost)
	}
	for _, category := range allCategories {
		weights, ok := doc.RouteMappings[category]
		if !ok {
			continue
		}
		if _, err := e.mappings.SetMapping(category, weights); err != nil {
			return fmt.Errorf("apply mapping for %s: %w", category, err)
		}
	}
	if len(doc.AdaptiveWeights) > 0 {
		if err := e.weights.SetWeights(doc.AdaptiveWeights); err != nil {
			return err
		}
	}

	e.logger.Info("imported routing config v%s: %d backends, %d mappings, %d custom routes",
		doc.Version, len(doc.Backends), len(doc.RouteMappings), len(doc.CustomRoutes))
	e.notifyAllMappings()
	return nil
}

func validateMappingWeights(category ContentCategory, weights map[string]float64, known map[string]bool) error {
	if len(weights) == 0 {
		return routererrors.NewValidationError("route_mappings", "mapping for "+string(category)+" is empty")
	}
	var sum float64
	for backend, w := range weights {
		if !known[backend] {
			return routererrors.NewUnknownBackendError(backend, "route mapping for "+string(category))
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return routererrors.NewValidationError("route_mappings", "weight for "+backend+" must be a finite non-negative number")
		}
		sum += w
	}
	if sum <= 0 {
		return routererrors.NewValidationError("route_mappings", "weights for "+string(category)+" must sum to a positive value")
	}
	return nil
}
