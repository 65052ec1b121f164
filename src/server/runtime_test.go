package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-router/src/config"
	"content-router/src/routing"
	"content-router/src/storage"
)

func testRuntimeConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.LogLevel = "error"
	cfg.Server.Port = 0
	cfg.Router.Seed = 11
	cfg.SQLite.Enabled = true
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "state", "router.db")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRuntimeLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := testRuntimeConfig(t)

	rt, err := NewRuntime(ctx, cfg, "")
	require.NoError(t, err)
	require.NoError(t, rt.Start(ctx))
	assert.True(t, rt.Bandwidth.MeasurementsRunning())

	resp, err := http.Get("http://" + rt.Server.Address() + "/health")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, health["persistence"])
	assert.Contains(t, health, "decision_archive")

	_, err = rt.Engine.SetRouteMapping(routing.CategoryVideo, map[string]float64{"s3": 1})
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Stop(stopCtx))
	assert.False(t, rt.Bandwidth.MeasurementsRunning())

	state, err := storage.NewSQLiteStore(cfg.SQLite.Path)
	require.NoError(t, err)
	doc, ok, err := state.LoadRoutingConfig(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, doc.RouteMappings[routing.CategoryVideo]["s3"])
	require.NoError(t, state.Close())

	restarted, err := NewRuntime(ctx, cfg, "")
	require.NoError(t, err)
	assert.Equal(t, 1.0, restarted.Engine.RouteMapping(routing.CategoryVideo).BackendMappings["s3"])
	require.NoError(t, restarted.Stop(stopCtx))
}

func TestRuntimeRejectsBadEventSink(t *testing.T) {
	cfg := testRuntimeConfig(t)
	cfg.Events.SinkURL = "://not a url"
	_, err := NewRuntime(context.Background(), cfg, "")
	assert.Error(t, err)
}

func TestRuntimeApplyConfig(t *testing.T) {
	cfg := testRuntimeConfig(t)
	cfg.SQLite.Enabled = false
	rt, err := NewRuntime(context.Background(), cfg, "")
	require.NoError(t, err)
	t.Cleanup(func() { rt.Stop(context.Background()) })

	next := config.GetDefaultConfig()
	next.LogLevel = "error"
	next.Router.DefaultStrategy = string(routing.StrategyCost)
	next.Router.Backends = []string{"ipfs", "gcs"}
	next.Router.CustomRoutes = map[string]string{"tenant-b": "gcs"}
	next.Router.GeoRegions = map[string]routing.GeoRegion{"apac": {Backends: []string{"gcs"}}}
	require.NoError(t, next.Validate())

	rt.ApplyConfig(next)

	e := rt.Engine
	assert.Equal(t, routing.StrategyCost, e.DefaultStrategy())
	assert.Equal(t, []string{"ipfs", "filecoin", "s3", "storacha", "gcs"}, e.Backends())
	assert.Equal(t, "gcs", e.CustomRoutes()["tenant-b"])
	assert.Contains(t, e.GeoRegions(), "apac")
	assert.Same(t, next, rt.Config)
}

func TestRuntimeApplyConfigRestartsUpdates(t *testing.T) {
	cfg := testRuntimeConfig(t)
	cfg.SQLite.Enabled = false
	rt, err := NewRuntime(context.Background(), cfg, "")
	require.NoError(t, err)
	t.Cleanup(func() { rt.Stop(context.Background()) })

	e := rt.Engine
	require.True(t, e.StartBackgroundUpdates())
	assert.Equal(t, 5*time.Minute, e.Updater().Interval())

	next := *cfg
	next.Router.UpdateIntervalSeconds = 120
	rt.ApplyConfig(&next)
	assert.True(t, e.BackgroundUpdatesRunning())
	assert.Equal(t, 2*time.Minute, e.Updater().Interval())

	rt.ApplyConfig(&next)
	assert.Equal(t, 2*time.Minute, e.Updater().Interval())

	e.StopBackgroundUpdates()
	next.Router.UpdateIntervalSeconds = 600
	rt.ApplyConfig(&next)
	assert.False(t, e.BackgroundUpdatesRunning())
	assert.Equal(t, 10*time.Minute, e.UpdateInterval())
}

func TestRuntimeHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := testRuntimeConfig(t)
	cfg.SQLite.Enabled = false
	cfg.Network.Prober = config.ProberNone
	require.NoError(t, config.SaveConfig(cfg, path))

	ctx := context.Background()
	rt, err := NewRuntime(ctx, cfg, path)
	require.NoError(t, err)
	require.NoError(t, rt.Start(ctx))
	t.Cleanup(func() { rt.Stop(context.Background()) })
	assert.False(t, rt.Bandwidth.MeasurementsRunning())

	edited := *cfg
	edited.Router.DefaultStrategy = string(routing.StrategyPerformance)
	require.NoError(t, config.SaveConfig(&edited, path))

	assert.Eventually(t, func() bool {
		return rt.Engine.DefaultStrategy() == routing.StrategyPerformance
	}, 5*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, rt.healthDetails()["config_reloads"], 1)
}
