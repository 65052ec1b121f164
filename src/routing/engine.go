// Package routing implements the adaptive content routing core: content
// classification, per-backend statistics, category route mappings, adaptive
// factor weights and the engine that combines them into routing decisions.
package routing

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"content-router/src/internal/common"
	routererrors "content-router/src/internal/errors"
)

// Capability gates an optional engine feature.
type Capability string

const (
	CapabilityNetworkAwareness  Capability = "network_awareness"
	CapabilityAdaptiveWeights   Capability = "adaptive_weights"
	CapabilityAccessPatterns    Capability = "access_patterns"
	CapabilityBackgroundUpdates Capability = "background_updates"
)

var allCapabilities = []Capability{
	CapabilityNetworkAwareness, CapabilityAdaptiveWeights, CapabilityAccessPatterns, CapabilityBackgroundUpdates,
}

// AllCapabilities returns every known capability
func AllCapabilities() []Capability {
	out := make([]Capability, len(allCapabilities))
	copy(out, allCapabilities)
	return out
}

// ParseCapability validates a capability name
func ParseCapability(name string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range allCapabilities {
		if c == known {
			return c, nil
		}
	}
	return "", routererrors.NewValidationError("capabilities", fmt.Sprintf("unknown capability %q", name))
}

// CostModel prices storing and moving content on one backend.
type CostModel struct {
	StorageCostPerGB      float64 `json:"storage_cost_per_gb" yaml:"storage_cost_per_gb"`
	FixedCostPerOperation float64 `json:"fixed_cost_per_operation" yaml:"fixed_cost_per_operation"`
	BandwidthCostPerGB    float64 `json:"bandwidth_cost_per_gb" yaml:"bandwidth_cost_per_gb"`
}

// DefaultCostKey names the cost model applied to backends without their own.
const DefaultCostKey = "default"

const bytesPerGB = 1 << 30

// Cost returns storage + fixed + bandwidth cost for a payload
func (c CostModel) Cost(sizeBytes int64) float64 {
	gb := float64(sizeBytes) / bytesPerGB
	return c.StorageCostPerGB*gb + c.FixedCostPerOperation + c.BandwidthCostPerGB*gb
}

func (c CostModel) validate(backend string) error {
	for _, v := range []float64{c.StorageCostPerGB, c.FixedCostPerOperation, c.BandwidthCostPerGB} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return routererrors.NewValidationError("backend_costs", "cost model for "+backend+" must be finite and non-negative")
		}
	}
	return nil
}

// GeoRegion lists the backends that serve a region.
type GeoRegion struct {
	Backends []string `json:"backends" yaml:"backends"`
}

func (g GeoRegion) serves(backend string) bool {
	for _, b := range g.Backends {
		if b == backend {
			return true
		}
	}
	return false
}

const (
	// DefaultUpdateInterval is the background mapping refresh cadence.
	DefaultUpdateInterval = 300 * time.Second
	// MinUpdateInterval is the lowest cadence accepted from configuration,
	// routing documents and SetUpdateInterval.
	MinUpdateInterval = 60 * time.Second
	// DefaultBlendFactor is how far each refresh moves a mapping toward its suggestion.
	DefaultBlendFactor = 0.3
	// DefaultWeightBatchSize is the number of voted outcomes folded into one weight update.
	DefaultWeightBatchSize = 10
	// LoadPenalty scales the adaptive strategy's penalty for currently hot backends.
	LoadPenalty = 0.1
)

// EngineConfig configures a new Engine.
type EngineConfig struct {
	DefaultStrategy  Strategy
	UpdateInterval   time.Duration
	BlendFactor      float64
	LearningRate     float64
	WeightFloor      float64
	WeightBatchSize  int
	DecisionLogSize  int
	UsageWindow      time.Duration
	CurrentRegion    string
	BackendCosts     map[string]CostModel
	GeoRegions       map[string]GeoRegion
	CustomRoutes     map[string]string
	Capabilities     []Capability
	AutoStartUpdates bool
	// Seed fixes the random source; zero seeds from the clock.
	Seed uint64
}

// DefaultEngineConfig returns the stock configuration with every capability enabled
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultStrategy: StrategyHybrid,
		UpdateInterval:  DefaultUpdateInterval,
		BlendFactor:     DefaultBlendFactor,
		LearningRate:    DefaultLearningRate,
		WeightFloor:     DefaultWeightFloor,
		WeightBatchSize: DefaultWeightBatchSize,
		DecisionLogSize: DefaultDecisionLogSize,
		UsageWindow:     DefaultUsageWindow,
		Capabilities:    AllCapabilities(),
	}
}

// Engine owns every tracker and turns content plus a strategy into a backend choice.
type Engine struct {
	mu              sync.Mutex
	backends        []string
	costs           map[string]CostModel
	regions         map[string]GeoRegion
	customRoutes    map[string]string
	currentRegion   string
	defaultStrategy Strategy
	updateInterval  time.Duration
	blendFactor     float64
	roundRobinIndex int
	lastUpdate      time.Time
	rng             *rand.Rand

	stats     *BackendStatsTracker
	network   *NetworkMetricsTracker
	mappings  *RouteMappingStore
	weights   *AdaptiveWeights
	access    *AccessPattern
	usage     *UsagePattern
	decisions *DecisionLog

	capabilities map[Capability]bool

	batchMu   sync.Mutex
	batchSize int
	pending   map[OptimizationFactor]*voteTally
	pendingN  int

	observersMu sync.RWMutex
	observers   []Observer

	updater *Updater
	logger  *common.SafeLogger
	now     func() time.Time
}

type voteTally struct {
	correct   int
	incorrect int
}

// NewEngine builds an engine over an initial ordered set of backends.
func NewEngine(cfg EngineConfig, backends ...string) (*Engine, error) {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = StrategyHybrid
	}
	if _, err := ParseStrategy(string(cfg.DefaultStrategy)); err != nil {
		return nil, err
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	if cfg.BlendFactor <= 0 || cfg.BlendFactor > 1 {
		cfg.BlendFactor = DefaultBlendFactor
	}
	if cfg.WeightBatchSize <= 0 {
		cfg.WeightBatchSize = DefaultWeightBatchSize
	}
	for name, model := range cfg.BackendCosts {
		if err := model.validate(name); err != nil {
			return nil, err
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	e := &Engine{
		costs:           make(map[string]CostModel),
		regions:         make(map[string]GeoRegion),
		customRoutes:    make(map[string]string),
		currentRegion:   cfg.CurrentRegion,
		defaultStrategy: cfg.DefaultStrategy,
		updateInterval:  cfg.UpdateInterval,
		blendFactor:     cfg.BlendFactor,
		rng:             rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		stats:           NewBackendStatsTracker(),
		network:         NewNetworkMetricsTracker(),
		mappings:        NewRouteMappingStore(),
		weights:         NewAdaptiveWeights(cfg.LearningRate, cfg.WeightFloor),
		access:          NewAccessPattern(),
		usage:           NewUsagePattern(cfg.UsageWindow),
		decisions:       NewDecisionLog(cfg.DecisionLogSize),
		capabilities:    make(map[Capability]bool),
		batchSize:       cfg.WeightBatchSize,
		pending:         make(map[OptimizationFactor]*voteTally),
		logger:          common.RouterLogger,
		now:             time.Now,
	}
	for _, c := range cfg.Capabilities {
		e.capabilities[c] = true
	}
	for name, model := range cfg.BackendCosts {
		e.costs[name] = model
	}
	for name, region := range cfg.GeoRegions {
		e.regions[name] = GeoRegion{Backends: append([]string(nil), region.Backends...)}
	}
	for _, b := range backends {
		if strings.TrimSpace(b) == "" {
			return nil, routererrors.NewValidationError("backends", "backend name cannot be empty")
		}
		e.registerLocked(b)
	}
	for key, target := range cfg.CustomRoutes {
		if err := e.AddCustomRoute(key, target); err != nil {
			return nil, err
		}
	}

	e.updater = NewUpdater(e)
	if cfg.AutoStartUpdates {
		e.StartBackgroundUpdates()
	}
	return e, nil
}

// HasCapability reports whether an optional feature is enabled
func (e *Engine) HasCapability(c Capability) bool {
	return e.capabilities[c]
}

// Capabilities returns the enabled capabilities in a stable order
func (e *Engine) Capabilities() []Capability {
	var out []Capability
	for _, c := range allCapabilities {
		if e.capabilities[c] {
			out = append(out, c)
		}
	}
	return out
}

// RegisterBackend adds a backend. Registering an existing backend logs a
// warning and changes nothing.
func (e *Engine) RegisterBackend(backend string) error {
	if strings.TrimSpace(backend) == "" {
		return routererrors.NewValidationError("backend", "backend name cannot be empty")
	}

	e.mu.Lock()
	added := e.registerLocked(backend)
	e.mu.Unlock()

	if !added {
		e.logger.Warn("backend %s is already registered", backend)
		return nil
	}
	e.logger.Info("registered backend %s", backend)
	e.notifyAllMappings()
	return nil
}

func (e *Engine) registerLocked(backend string) bool {
	if e.isRegisteredLocked(backend) {
		return false
	}
	e.backends = append(e.backends, backend)
	e.stats.Register(backend)
	if model, ok := e.costs[backend]; ok {
		e.stats.SetEstimatedCost(backend, model.Cost(bytesPerGB))
	}
	e.mappings.AddBackend(backend)
	return true
}

// ensureRegistered registers a backend seen for the first time on the feedback path.
func (e *Engine) ensureRegistered(backend string) {
	e.mu.Lock()
	added := e.registerLocked(backend)
	e.mu.Unlock()
	if added {
		e.logger.Info("auto-registered backend %s", backend)
		e.notifyAllMappings()
	}
}

// UnregisterBackend removes a backend with its statistics, measurements,
// patterns and custom routes. Its mapping weight goes to the survivors.
func (e *Engine) UnregisterBackend(backend string) error {
	e.mu.Lock()
	if !e.isRegisteredLocked(backend) {
		e.mu.Unlock()
		return routererrors.NewUnknownBackendError(backend, "unregister")
	}

	kept := make([]string, 0, len(e.backends)-1)
	for _, b := range e.backends {
		if b != backend {
			kept = append(kept, b)
		}
	}
	e.backends = kept
	for key, target := range e.customRoutes {
		if target == backend {
			delete(e.customRoutes, key)
			e.logger.Info("dropped custom route %s -> %s", key, backend)
		}
	}
	e.stats.Unregister(backend)
	e.mappings.RemoveBackend(backend)
	e.network.Remove(backend)
	e.access.Forget(backend)
	e.usage.Forget(backend)
	e.mu.Unlock()

	e.logger.Info("unregistered backend %s", backend)
	e.notifyAllMappings()
	return nil
}

// Backends returns the registered backends in registration order
func (e *Engine) Backends() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.backends...)
}

// IsRegistered reports whether a backend is registered
func (e *Engine) IsRegistered(backend string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isRegisteredLocked(backend)
}

func (e *Engine) isRegisteredLocked(backend string) bool {
	for _, b := range e.backends {
		if b == backend {
			return true
		}
	}
	return false
}

// UpdateBackendAvailability records an availability report, registering the backend if needed.
func (e *Engine) UpdateBackendAvailability(backend string, available bool) {
	e.ensureRegistered(backend)
	e.stats.UpdateAvailability(backend, available)
	if !available {
		e.logger.Warn("backend %s reported unavailable", backend)
	}
}

// UpdateNetworkMetrics records a partial network measurement for a backend
func (e *Engine) UpdateNetworkMetrics(backend string, update NetworkUpdate) {
	e.network.Update(backend, update)
}

// NetworkMetrics returns the measurements for a backend
func (e *Engine) NetworkMetrics(backend string) (NetworkMetrics, bool) {
	return e.network.Get(backend)
}

// SetBackendCost sets the cost model of a backend, or the fallback model under DefaultCostKey
func (e *Engine) SetBackendCost(backend string, model CostModel) error {
	if err := model.validate(backend); err != nil {
		return err
	}
	e.mu.Lock()
	e.costs[backend] = model
	registered := e.isRegisteredLocked(backend)
	e.mu.Unlock()
	if registered {
		e.stats.SetEstimatedCost(backend, model.Cost(bytesPerGB))
	}
	return nil
}

// BackendCosts returns a copy of the configured cost models
func (e *Engine) BackendCosts() map[string]CostModel {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]CostModel, len(e.costs))
	for k, v := range e.costs {
		out[k] = v
	}
	return out
}

func (e *Engine) costModelLocked(backend string) CostModel {
	if model, ok := e.costs[backend]; ok {
		return model
	}
	return e.costs[DefaultCostKey]
}

// SetGeoRegion sets the backends serving a region
func (e *Engine) SetGeoRegion(region string, geo GeoRegion) error {
	if strings.TrimSpace(region) == "" {
		return routererrors.NewValidationError("region", "region name cannot be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.regions[region] = GeoRegion{Backends: append([]string(nil), geo.Backends...)}
	return nil
}

// RemoveGeoRegion deletes a region
func (e *Engine) RemoveGeoRegion(region string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.regions, region)
}

// GeoRegions returns a copy of the region table
func (e *Engine) GeoRegions() map[string]GeoRegion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regionsCopyLocked()
}

func (e *Engine) regionsCopyLocked() map[string]GeoRegion {
	out := make(map[string]GeoRegion, len(e.regions))
	for k, v := range e.regions {
		out[k] = GeoRegion{Backends: append([]string(nil), v.Backends...)}
	}
	return out
}

// SetCurrentRegion sets the region used when a request carries no client location
func (e *Engine) SetCurrentRegion(region string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentRegion = region
}

// CurrentRegion returns the default region
func (e *Engine) CurrentRegion() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentRegion
}

// SetDefaultStrategy changes the strategy used when a request names none
func (e *Engine) SetDefaultStrategy(s Strategy) error {
	if _, err := ParseStrategy(string(s)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaultStrategy = s
	return nil
}

// DefaultStrategy returns the strategy used when a request names none
func (e *Engine) DefaultStrategy() Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.defaultStrategy
}

// UpdateInterval returns the background refresh cadence
func (e *Engine) UpdateInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updateInterval
}

// SetUpdateInterval changes the background refresh cadence for subsequent
// starts. Intervals below MinUpdateInterval are raised to it.
func (e *Engine) SetUpdateInterval(d time.Duration) error {
	if d <= 0 {
		return routererrors.NewValidationError("update_interval", "interval must be positive")
	}
	d = e.clampUpdateInterval(d)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updateInterval = d
	return nil
}

func (e *Engine) clampUpdateInterval(d time.Duration) time.Duration {
	if d < MinUpdateInterval {
		e.logger.Warn("update interval %s is below the %s minimum, using %s", d, MinUpdateInterval, MinUpdateInterval)
		return MinUpdateInterval
	}
	return d
}

// AddCustomRoute pins a routing key to a registered backend
func (e *Engine) AddCustomRoute(routingKey, backend string) error {
	if strings.TrimSpace(routingKey) == "" {
		return routererrors.NewValidationError("routing_key", "routing key cannot be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isRegisteredLocked(backend) {
		return routererrors.NewUnknownBackendError(backend, "custom route "+routingKey)
	}
	e.customRoutes[routingKey] = backend
	return nil
}

// RemoveCustomRoute deletes a routing key override
func (e *Engine) RemoveCustomRoute(routingKey string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.customRoutes[routingKey]; !ok {
		return false
	}
	delete(e.customRoutes, routingKey)
	return true
}

// CustomRoutes returns a copy of the routing key overrides
func (e *Engine) CustomRoutes() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.customRoutes))
	for k, v := range e.customRoutes {
		out[k] = v
	}
	return out
}

// SetRouteMapping replaces a category's backend distribution
func (e *Engine) SetRouteMapping(category ContentCategory, weights map[string]float64) (RouteMapping, error) {
	if _, ok := ParseCategory(string(category)); !ok {
		return RouteMapping{}, routererrors.NewValidationError("category", fmt.Sprintf("unknown category %q", category))
	}
	mapping, err := e.mappings.SetMapping(category, weights)
	if err != nil {
		return RouteMapping{}, err
	}
	e.notifyMapping(mapping)
	return mapping, nil
}

// RouteMapping returns a category's distribution, creating it on first use
func (e *Engine) RouteMapping(category ContentCategory) RouteMapping {
	return e.mappings.Mapping(category)
}

// RouteMappings returns every materialized mapping
func (e *Engine) RouteMappings() map[ContentCategory]RouteMapping {
	return e.mappings.All()
}

// BackendStats returns the statistics snapshot of one backend
func (e *Engine) BackendStats(backend string) (BackendStats, error) {
	st, ok := e.stats.Get(backend)
	if !ok {
		return BackendStats{}, routererrors.NewUnknownBackendError(backend, "stats lookup")
	}
	return st, nil
}

// AllBackendStats returns snapshots of every backend, sorted by name
func (e *Engine) AllBackendStats() []BackendStats {
	return e.stats.All()
}

// AdaptiveWeights returns the current learned factor weights
func (e *Engine) AdaptiveWeights() map[OptimizationFactor]float64 {
	return e.weights.Weights()
}

// Weights exposes the adaptive weight tracker
func (e *Engine) Weights() *AdaptiveWeights {
	return e.weights
}

// AccessPatterns exposes the access pattern tracker
func (e *Engine) AccessPatterns() *AccessPattern {
	return e.access
}

// Usage exposes the usage pattern tracker
func (e *Engine) Usage() *UsagePattern {
	return e.usage
}

// Network exposes the network metrics tracker
func (e *Engine) Network() *NetworkMetricsTracker {
	return e.network
}

// Decisions exposes the bounded decision log
func (e *Engine) Decisions() *DecisionLog {
	return e.decisions
}

// RoutingInsights summarizes recent decisions and learning state. recent
// bounds how many decisions are included verbatim.
func (e *Engine) RoutingInsights(recent int) RoutingInsights {
	all := e.decisions.Recent(0)
	insights := RoutingInsights{
		TotalDecisions:    e.decisions.Total(),
		RetainedDecisions: len(all),
		StrategyCounts:    make(map[Strategy]int),
		BackendCounts:     make(map[string]int),
		CategoryCounts:    make(map[ContentCategory]int),
		BackendHealth:     make(map[string]float64),
		LoadDistribution:  e.usage.LoadDistribution(),
		AdaptiveWeights:   e.weights.Weights(),
		WeightUpdates:     e.weights.Updates(),
		Capabilities:      e.Capabilities(),
	}
	for _, d := range all {
		insights.StrategyCounts[d.Strategy]++
		insights.BackendCounts[d.SelectedBackend]++
		insights.CategoryCounts[d.Category]++
	}
	for _, st := range e.stats.All() {
		insights.BackendHealth[st.Backend] = st.HealthScore
	}
	if e.HasCapability(CapabilityAccessPatterns) {
		insights.PreferredBackends = make(map[ContentCategory][]string)
		for category := range e.access.CategoryAccessCounts() {
			if preferred := e.access.PreferredBackends(category, 0.8); len(preferred) > 0 {
				insights.PreferredBackends[category] = preferred
			}
		}
	}
	if e.HasCapability(CapabilityNetworkAwareness) {
		insights.NetworkQuality = make(map[string]NetworkQuality)
		for _, m := range e.network.All() {
			insights.NetworkQuality[m.Backend] = m.Quality
		}
	}
	if recent > 0 && recent < len(all) {
		all = all[:recent]
	}
	insights.RecentDecisions = all
	return insights
}

// StartBackgroundUpdates starts the periodic mapping refresh. It returns false
// when the loop is already running or the capability is disabled.
func (e *Engine) StartBackgroundUpdates() bool {
	if !e.HasCapability(CapabilityBackgroundUpdates) {
		e.logger.Warn("background updates requested but capability %s is disabled", CapabilityBackgroundUpdates)
		return false
	}
	return e.updater.Start(e.UpdateInterval())
}

// RestartBackgroundUpdates restarts a running refresh loop so it picks up the
// current update interval. A stopped loop stays stopped.
func (e *Engine) RestartBackgroundUpdates() bool {
	if !e.updater.Running() {
		return false
	}
	e.updater.Stop()
	return e.StartBackgroundUpdates()
}

// StopBackgroundUpdates stops the periodic mapping refresh and waits for it to exit
func (e *Engine) StopBackgroundUpdates() {
	e.updater.Stop()
}

// BackgroundUpdatesRunning reports whether the refresh loop is active
func (e *Engine) BackgroundUpdatesRunning() bool {
	return e.updater.Running()
}

// Close stops background work
func (e *Engine) Close() error {
	e.updater.Stop()
	return nil
}
