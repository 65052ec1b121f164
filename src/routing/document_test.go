package routing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	routererrors "content-router/src/internal/errors"
	"content-router/src/internal/version"
)

func configuredEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultEngineConfig()
	cfg.Seed = 21
	cfg.DefaultStrategy = StrategyAdaptive
	cfg.CurrentRegion = "eu"
	cfg.UpdateInterval = 120 * time.Second
	cfg.BackendCosts = map[string]CostModel{
		"s3":           {StorageCostPerGB: 0.023, BandwidthCostPerGB: 0.09},
		DefaultCostKey: {FixedCostPerOperation: 0.001},
	}
	cfg.GeoRegions = map[string]GeoRegion{"eu": {Backends: []string{"gcs"}}}
	e, err := NewEngine(cfg, "ipfs", "s3", "gcs")
	require.NoError(t, err)

	_, err = e.SetRouteMapping(CategoryDocument, map[string]float64{"ipfs": 0.6, "s3": 0.3, "gcs": 0.1})
	require.NoError(t, err)
	_, err = e.SetRouteMapping(CategoryVideo, map[string]float64{"s3": 1})
	require.NoError(t, err)
	require.NoError(t, e.AddCustomRoute("tenant-a", "gcs"))
	e.Weights().UpdateWeights(map[OptimizationFactor]bool{FactorPerformance: true, FactorCostEfficiency: false})
	return e
}

func TestExportImportRoundTrip(t *testing.T) {
	src := configuredEngine(t)
	doc := src.ExportRoutingConfig()

	assert.Equal(t, version.DocumentFormatVersion, doc.Version)
	assert.Equal(t, []string{"ipfs", "s3", "gcs"}, doc.Backends)
	assert.EqualValues(t, 120, doc.UpdateIntervalSeconds)

	dst := newTestEngine(t)
	require.NoError(t, dst.ImportRoutingConfig(doc))

	assert.Equal(t, src.Backends(), dst.Backends())
	assert.Equal(t, src.DefaultStrategy(), dst.DefaultStrategy())
	assert.Equal(t, src.CurrentRegion(), dst.CurrentRegion())
	assert.Equal(t, src.UpdateInterval(), dst.UpdateInterval())
	assert.Equal(t, src.CustomRoutes(), dst.CustomRoutes())
	assert.Equal(t, src.BackendCosts(), dst.BackendCosts())
	assert.Equal(t, src.GeoRegions(), dst.GeoRegions())
	for category, m := range src.RouteMappings() {
		for backend, w := range m.BackendMappings {
			assert.InDelta(t, w, dst.RouteMapping(category).BackendMappings[backend], 1e-9, "%s/%s", category, backend)
		}
	}
	for f, w := range src.AdaptiveWeights() {
		assert.InDelta(t, w, dst.AdaptiveWeights()[f], 1e-9, f)
	}

	again := dst.ExportRoutingConfig()
	again.ExportedAt = doc.ExportedAt
	assert.Equal(t, doc.Backends, again.Backends)
	assert.Equal(t, len(doc.RouteMappings), len(again.RouteMappings))
}

func TestRoundTripThroughSerializedForms(t *testing.T) {
	doc := configuredEngine(t).ExportRoutingConfig()

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var fromJSON RoutingConfigDocument
	require.NoError(t, json.Unmarshal(raw, &fromJSON))

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	var fromYAML RoutingConfigDocument
	require.NoError(t, yaml.Unmarshal(out, &fromYAML))

	for _, parsed := range []RoutingConfigDocument{fromJSON, fromYAML} {
		e := newTestEngine(t)
		require.NoError(t, e.ImportRoutingConfig(parsed))
		assert.InDelta(t, 0.6, e.RouteMapping(CategoryDocument).BackendMappings["ipfs"], 1e-9)
		assert.Equal(t, "gcs", e.CustomRoutes()["tenant-a"])
	}
}

func TestImportRejectsInvalidDocumentsWithoutChanges(t *testing.T) {
	base := func() RoutingConfigDocument {
		return RoutingConfigDocument{
			Version:       version.DocumentFormatVersion,
			Backends:      []string{"ipfs", "s3"},
			RouteMappings: map[ContentCategory]map[string]float64{CategoryImage: {"ipfs": 1}},
			CustomRoutes:  map[string]string{"k": "s3"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*RoutingConfigDocument)
		check  func(error) bool
	}{
		{"mapping references unknown backend", func(d *RoutingConfigDocument) {
			d.RouteMappings[CategoryVideo] = map[string]float64{"gcs": 1}
		}, routererrors.IsUnknownBackendError},
		{"custom route references unknown backend", func(d *RoutingConfigDocument) {
			d.CustomRoutes["x"] = "gcs"
		}, routererrors.IsUnknownBackendError},
		{"negative weight", func(d *RoutingConfigDocument) {
			d.RouteMappings[CategoryImage] = map[string]float64{"ipfs": -1, "s3": 2}
		}, routererrors.IsValidationError},
		{"unknown category", func(d *RoutingConfigDocument) {
			d.RouteMappings["hologram"] = map[string]float64{"ipfs": 1}
		}, routererrors.IsValidationError},
		{"unknown strategy", func(d *RoutingConfigDocument) {
			d.DefaultStrategy = "telepathy"
		}, routererrors.IsValidationError},
		{"negative cost", func(d *RoutingConfigDocument) {
			d.BackendCosts = map[string]CostModel{"s3": {FixedCostPerOperation: -1}}
		}, routererrors.IsValidationError},
		{"duplicate backend", func(d *RoutingConfigDocument) {
			d.Backends = append(d.Backends, "ipfs")
		}, routererrors.IsValidationError},
		{"unknown factor", func(d *RoutingConfigDocument) {
			d.AdaptiveWeights = map[OptimizationFactor]float64{"luck": 1}
		}, routererrors.IsValidationError},
		{"future major version", func(d *RoutingConfigDocument) {
			d.Version = "2.0.0"
		}, routererrors.IsIncompatibleVersionError},
		{"malformed version", func(d *RoutingConfigDocument) {
			d.Version = "latest"
		}, routererrors.IsIncompatibleVersionError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, "ipfs")
			before := e.ExportRoutingConfig()

			doc := base()
			tt.mutate(&doc)
			err := e.ImportRoutingConfig(doc)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())

			after := e.ExportRoutingConfig()
			after.ExportedAt = before.ExportedAt
			assert.Equal(t, before, after)
		})
	}
}

func TestImportKeepsUnmentionedMappings(t *testing.T) {
	e := newTestEngine(t, "ipfs", "s3")
	_, err := e.SetRouteMapping(CategoryAudio, map[string]float64{"ipfs": 0.25, "s3": 0.75})
	require.NoError(t, err)

	require.NoError(t, e.ImportRoutingConfig(RoutingConfigDocument{
		Version:       "1.0",
		RouteMappings: map[ContentCategory]map[string]float64{CategoryImage: {"s3": 1}},
	}))

	assert.InDelta(t, 0.75, e.RouteMapping(CategoryAudio).BackendMappings["s3"], 1e-9)
	assert.InDelta(t, 1.0, e.RouteMapping(CategoryImage).BackendMappings["s3"], 1e-9)
}

func TestUpdateIntervalFloor(t *testing.T) {
	e := newTestEngine(t, "ipfs")

	require.NoError(t, e.ImportRoutingConfig(RoutingConfigDocument{Version: "1.1.0", UpdateIntervalSeconds: 1}))
	assert.Equal(t, MinUpdateInterval, e.UpdateInterval())
	assert.EqualValues(t, 60, e.ExportRoutingConfig().UpdateIntervalSeconds)

	require.NoError(t, e.ImportRoutingConfig(RoutingConfigDocument{Version: "1.1.0", UpdateIntervalSeconds: 600}))
	assert.Equal(t, 10*time.Minute, e.UpdateInterval())

	require.NoError(t, e.SetUpdateInterval(time.Second))
	assert.Equal(t, MinUpdateInterval, e.UpdateInterval())
	require.NoError(t, e.SetUpdateInterval(2*time.Minute))
	assert.Equal(t, 2*time.Minute, e.UpdateInterval())
	assert.Error(t, e.SetUpdateInterval(0))
}

func TestCheckDocumentVersion(t *testing.T) {
	tests := []struct {
		version string
		ok      bool
	}{
		{"", true},
		{"1.0", true},
		{"1.1.0", true},
		{"1.9.3", true},
		{"0.9", false},
		{"2.0.0", false},
		{"v1.2.0", true},
		{"banana", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := CheckDocumentVersion(tt.version)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, routererrors.IsIncompatibleVersionError(err))
			}
		})
	}
}
