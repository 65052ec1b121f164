package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"content-router/src/routing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "hybrid", cfg.Router.DefaultStrategy)
	assert.Equal(t, 300, cfg.Router.UpdateIntervalSeconds)
	assert.Len(t, cfg.Router.Capabilities, len(routing.AllCapabilities()))
	assert.Equal(t, ProberSynthetic, cfg.Network.Prober)
	assert.Equal(t, "127.0.0.1:8090", cfg.Server.Address())
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := GetDefaultConfig()
	cfg.Router.DefaultStrategy = "cost"
	cfg.Router.CurrentRegion = "eu"
	cfg.Router.GeoRegions = map[string]routing.GeoRegion{"eu": {Backends: []string{"s3"}}}
	cfg.Router.CustomRoutes = map[string]string{"hot-user": "ipfs"}
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "cost", loaded.Router.DefaultStrategy)
	assert.Equal(t, "eu", loaded.Router.CurrentRegion)
	assert.Equal(t, []string{"s3"}, loaded.Router.GeoRegions["eu"].Backends)
	assert.Equal(t, "ipfs", loaded.Router.CustomRoutes["hot-user"])
	assert.InDelta(t, 0.002, loaded.Router.BackendCosts["filecoin"].StorageCostPerGB, 1e-12)
}

func TestLoadConfigLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router:\n  default_strategy: adaptive\n  backends: [a, b]\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "adaptive", cfg.Router.DefaultStrategy)
	assert.Equal(t, []string{"a", "b"}, cfg.Router.Backends)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, routing.DefaultBlendFactor, cfg.Router.BlendFactor)
}

func TestLoadConfigExpandsHomePaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sqlite:\n  enabled: true\n  path: ~/state/router.db\ngeoip:\n  db_path: ~/GeoLite2-Country.mmdb\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "state", "router.db"), cfg.SQLite.Path)
	assert.Equal(t, filepath.Join(home, "GeoLite2-Country.mmdb"), cfg.GeoIP.DBPath)
	assert.Equal(t, filepath.Join(home, ".content-router", "config.yaml"), GetDefaultConfigPath())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router: [unclosed"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ROUTER_STRATEGY", "geographic")
	t.Setenv("ROUTER_BACKENDS", "ipfs, s3 ,,gcs")
	t.Setenv("ROUTER_PORT", "9999")
	t.Setenv("ROUTER_REGION", "us")
	t.Setenv("ROUTER_SQLITE_PATH", filepath.Join(t.TempDir(), "r.db"))
	t.Setenv("ROUTER_REDIS_ADDRESS", "redis:6379")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "geographic", cfg.Router.DefaultStrategy)
	assert.Equal(t, []string{"ipfs", "s3", "gcs"}, cfg.Router.Backends)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "us", cfg.Router.CurrentRegion)
	assert.True(t, cfg.SQLite.Enabled)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown strategy", func(c *Config) { c.Router.DefaultStrategy = "fastest" }, true},
		{"blend factor above one", func(c *Config) { c.Router.BlendFactor = 1.5 }, true},
		{"learning rate of one", func(c *Config) { c.Router.LearningRate = 1 }, true},
		{"unknown capability", func(c *Config) { c.Router.Capabilities = []string{"telepathy"} }, true},
		{"duplicate backend", func(c *Config) { c.Router.Backends = []string{"a", "a"} }, true},
		{"empty backend", func(c *Config) { c.Router.Backends = []string{" "} }, true},
		{"custom route to unknown backend", func(c *Config) { c.Router.CustomRoutes = map[string]string{"k": "zzz"} }, true},
		{"negative cost", func(c *Config) {
			c.Router.BackendCosts = map[string]routing.CostModel{"s3": {StorageCostPerGB: -1}}
		}, true},
		{"unknown prober", func(c *Config) { c.Network.Prober = "ping" }, true},
		{"http prober without endpoints", func(c *Config) { c.Network.Prober = ProberHTTP }, true},
		{"http prober with endpoints", func(c *Config) {
			c.Network.Prober = ProberHTTP
			c.Network.Endpoints = map[string]string{"s3": "http://localhost"}
		}, false},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"sqlite without path", func(c *Config) { c.SQLite = SQLiteConfig{Enabled: true} }, true},
		{"mongo without database", func(c *Config) { c.MongoDB.Enabled = true; c.MongoDB.Database = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateClampsUpdateInterval(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Router.UpdateIntervalSeconds = 5
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60, cfg.Router.UpdateIntervalSeconds)
	assert.Equal(t, time.Minute, cfg.UpdateInterval())

	cfg.Router.UpdateIntervalSeconds = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300, cfg.Router.UpdateIntervalSeconds)
}

func TestToEngineConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Router.DefaultStrategy = "Round-Robin"
	cfg.Router.Capabilities = []string{"network_awareness"}
	cfg.Router.Seed = 7
	cfg.Router.WeightBatchSize = 0

	ec, err := cfg.ToEngineConfig()
	require.NoError(t, err)
	assert.Equal(t, routing.StrategyRoundRobin, ec.DefaultStrategy)
	assert.Equal(t, []routing.Capability{routing.CapabilityNetworkAwareness}, ec.Capabilities)
	assert.Equal(t, uint64(7), ec.Seed)
	assert.Equal(t, routing.DefaultWeightBatchSize, ec.WeightBatchSize)
	assert.Equal(t, 5*time.Minute, ec.UpdateInterval)

	engine, err := cfg.NewEngine()
	require.NoError(t, err)
	defer engine.Close()
	assert.ElementsMatch(t, cfg.Router.Backends, engine.Backends())
	assert.False(t, engine.HasCapability(routing.CapabilityAdaptiveWeights))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveConfig(GetDefaultConfig(), path))

	var mu sync.Mutex
	var got []*Config
	w, err := NewWatcher(path, func(c *Config) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, c)
	})
	require.NoError(t, err)
	w.SetDebounceDelay(20 * time.Millisecond)
	w.Start()
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("router:\n  default_strategy: cost\n  backends: [x]\n"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Router.DefaultStrategy == "cost"
	}, 3*time.Second, 10*time.Millisecond)

	before := w.Reloads()
	require.NoError(t, os.WriteFile(path, []byte("router:\n  default_strategy: nope\n"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, w.Reloads())
}
