package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"content-router/src/internal/common"
	"content-router/src/routing"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Prober kinds accepted by network.prober
const (
	ProberNone      = "none"
	ProberSynthetic = "synthetic"
	ProberHTTP      = "http"
)

// Config is the complete router configuration file
type Config struct {
	LogLevel string        `yaml:"log_level,omitempty"`
	Router   RouterConfig  `yaml:"router"`
	Network  NetworkConfig `yaml:"network"`
	Server   ServerConfig  `yaml:"server"`
	GeoIP    GeoIPConfig   `yaml:"geoip"`
	Redis    RedisConfig   `yaml:"redis"`
	MongoDB  MongoDBConfig `yaml:"mongodb"`
	SQLite   SQLiteConfig  `yaml:"sqlite"`
	Events   EventsConfig  `yaml:"events"`
}

// RouterConfig configures the routing engine
type RouterConfig struct {
	DefaultStrategy       string                       `yaml:"default_strategy"`
	UpdateIntervalSeconds int                          `yaml:"update_interval_seconds"`
	BlendFactor           float64                      `yaml:"blend_factor"`
	LearningRate          float64                      `yaml:"learning_rate"`
	WeightBatchSize       int                          `yaml:"weight_batch_size"`
	DecisionLogSize       int                          `yaml:"decision_log_size"`
	CurrentRegion         string                       `yaml:"current_region,omitempty"`
	AutoStartUpdates      bool                         `yaml:"auto_start_updates"`
	Capabilities          []string                     `yaml:"capabilities,omitempty"`
	Backends              []string                     `yaml:"backends"`
	BackendCosts          map[string]routing.CostModel `yaml:"backend_costs,omitempty"`
	GeoRegions            map[string]routing.GeoRegion `yaml:"geo_regions,omitempty"`
	CustomRoutes          map[string]string            `yaml:"custom_routes,omitempty"`
	Seed                  uint64                       `yaml:"seed,omitempty"`
}

// NetworkConfig configures backend network measurement
type NetworkConfig struct {
	MeasurementIntervalSeconds int               `yaml:"measurement_interval_seconds"`
	Prober                     string            `yaml:"prober"`
	ProbeTimeoutSeconds        int               `yaml:"probe_timeout_seconds"`
	Endpoints                  map[string]string `yaml:"endpoints,omitempty"`
	DownloadURLs               map[string]string `yaml:"download_urls,omitempty"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host                   string   `yaml:"host"`
	Port                   int      `yaml:"port"`
	AllowedOrigins         []string `yaml:"allowed_origins,omitempty"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GeoIPConfig configures client region resolution. CountryRegions maps ISO
// country codes onto router region names.
type GeoIPConfig struct {
	DBPath         string            `yaml:"db_path,omitempty"`
	CountryRegions map[string]string `yaml:"country_regions,omitempty"`
}

type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	Password   string `yaml:"password,omitempty"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type MongoDBConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URI            string `yaml:"uri"`
	Database       string `yaml:"database"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type SQLiteConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EventsConfig configures CloudEvents publishing. An empty sink disables delivery.
type EventsConfig struct {
	SinkURL string `yaml:"sink_url,omitempty"`
	Source  string `yaml:"source"`
}

// LoadConfig loads configuration from a YAML file layered over the defaults,
// then applies .env and ROUTER_* environment overrides. An empty path skips
// the file.
func LoadConfig(path string) (*Config, error) {
	cfg := GetDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		common.CLILogger.Debug("Skipping .env: %v", err)
	}
	applyEnv(cfg)
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// expandPaths resolves ~ in file paths
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.SQLite.Path, &c.GeoIP.DBPath} {
		expanded, err := common.ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateDefaultConfig generates a default configuration file
func GenerateDefaultConfig(path string) error {
	return SaveConfig(GetDefaultConfig(), path)
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() string {
	return common.DataPath("config.yaml")
}

// GetDefaultConfig returns a configuration with a small illustrative backend set
func GetDefaultConfig() *Config {
	capabilities := make([]string, 0, len(routing.AllCapabilities()))
	for _, c := range routing.AllCapabilities() {
		capabilities = append(capabilities, string(c))
	}

	return &Config{
		LogLevel: "info",
		Router: RouterConfig{
			DefaultStrategy:       string(routing.StrategyHybrid),
			UpdateIntervalSeconds: int(routing.DefaultUpdateInterval / time.Second),
			BlendFactor:           routing.DefaultBlendFactor,
			LearningRate:          routing.DefaultLearningRate,
			WeightBatchSize:       routing.DefaultWeightBatchSize,
			DecisionLogSize:       routing.DefaultDecisionLogSize,
			Capabilities:          capabilities,
			Backends:              []string{"ipfs", "filecoin", "s3", "storacha"},
			BackendCosts: map[string]routing.CostModel{
				routing.DefaultCostKey: {StorageCostPerGB: 0.02, FixedCostPerOperation: 0.0001, BandwidthCostPerGB: 0.05},
				"filecoin":             {StorageCostPerGB: 0.002, FixedCostPerOperation: 0.001, BandwidthCostPerGB: 0.01},
				"s3":                   {StorageCostPerGB: 0.023, FixedCostPerOperation: 0.000005, BandwidthCostPerGB: 0.09},
			},
		},
		Network: NetworkConfig{
			MeasurementIntervalSeconds: int(routing.DefaultMeasurementInterval / time.Second),
			Prober:                     ProberSynthetic,
			ProbeTimeoutSeconds:        10,
		},
		Server: ServerConfig{
			Host:                   "127.0.0.1",
			Port:                   8090,
			AllowedOrigins:         []string{"*"},
			ShutdownTimeoutSeconds: 30,
		},
		Redis: RedisConfig{
			Address:    "localhost:6379",
			KeyPrefix:  "content-router:",
			TTLSeconds: 3600,
		},
		MongoDB: MongoDBConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "content_router",
			TimeoutSeconds: 10,
		},
		SQLite: SQLiteConfig{
			Path: common.DataPath("router.db"),
		},
		Events: EventsConfig{
			Source: "content-router",
		},
	}
}

// Validate checks the configuration and normalizes soft problems. An update
// interval below the one minute floor is raised to it with a warning.
func (c *Config) Validate() error {
	r := &c.Router
	if _, err := routing.ParseStrategy(r.DefaultStrategy); err != nil {
		return err
	}
	if r.UpdateIntervalSeconds <= 0 {
		r.UpdateIntervalSeconds = int(routing.DefaultUpdateInterval / time.Second)
	}
	if minimum := int(routing.MinUpdateInterval / time.Second); r.UpdateIntervalSeconds < minimum {
		common.CLILogger.Warn("update_interval_seconds %d is below the %ds minimum, using %ds",
			r.UpdateIntervalSeconds, minimum, minimum)
		r.UpdateIntervalSeconds = minimum
	}
	if r.BlendFactor < 0 || r.BlendFactor > 1 || math.IsNaN(r.BlendFactor) {
		return fmt.Errorf("blend_factor must be within [0, 1], got %v", r.BlendFactor)
	}
	if r.LearningRate < 0 || r.LearningRate >= 1 || math.IsNaN(r.LearningRate) {
		return fmt.Errorf("learning_rate must be within [0, 1), got %v", r.LearningRate)
	}
	if r.WeightBatchSize < 0 || r.DecisionLogSize < 0 {
		return fmt.Errorf("weight_batch_size and decision_log_size must not be negative")
	}
	for _, name := range r.Capabilities {
		if _, err := routing.ParseCapability(name); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(r.Backends))
	for _, b := range r.Backends {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("backend names must not be empty")
		}
		if seen[b] {
			return fmt.Errorf("backend %s is listed twice", b)
		}
		seen[b] = true
	}
	for key, backend := range r.CustomRoutes {
		if !seen[backend] {
			return fmt.Errorf("custom route %s targets unknown backend %s", key, backend)
		}
	}
	for name, model := range r.BackendCosts {
		for _, v := range []float64{model.StorageCostPerGB, model.FixedCostPerOperation, model.BandwidthCostPerGB} {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("cost model for %s must be finite and non-negative", name)
			}
		}
	}

	switch c.Network.Prober {
	case "", ProberNone, ProberSynthetic:
	case ProberHTTP:
		if len(c.Network.Endpoints) == 0 {
			return fmt.Errorf("network.prober http requires network.endpoints")
		}
	default:
		return fmt.Errorf("unknown network.prober %q", c.Network.Prober)
	}
	if c.Network.MeasurementIntervalSeconds < 0 {
		return fmt.Errorf("measurement_interval_seconds must not be negative")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.SQLite.Enabled && c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required when sqlite is enabled")
	}
	if c.MongoDB.Enabled && (c.MongoDB.URI == "" || c.MongoDB.Database == "") {
		return fmt.Errorf("mongodb.uri and mongodb.database are required when mongodb is enabled")
	}
	return nil
}

// UpdateInterval returns the router update cadence as a duration
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.Router.UpdateIntervalSeconds) * time.Second
}

// MeasurementInterval returns the network probe cadence
func (c *Config) MeasurementInterval() time.Duration {
	return time.Duration(c.Network.MeasurementIntervalSeconds) * time.Second
}

// ToEngineConfig converts the router section into an engine configuration
func (c *Config) ToEngineConfig() (routing.EngineConfig, error) {
	r := c.Router
	strategy, err := routing.ParseStrategy(r.DefaultStrategy)
	if err != nil {
		return routing.EngineConfig{}, err
	}

	ec := routing.DefaultEngineConfig()
	ec.DefaultStrategy = strategy
	ec.UpdateInterval = c.UpdateInterval()
	ec.BlendFactor = r.BlendFactor
	ec.LearningRate = r.LearningRate
	if r.WeightBatchSize > 0 {
		ec.WeightBatchSize = r.WeightBatchSize
	}
	if r.DecisionLogSize > 0 {
		ec.DecisionLogSize = r.DecisionLogSize
	}
	ec.CurrentRegion = r.CurrentRegion
	ec.AutoStartUpdates = r.AutoStartUpdates
	ec.Seed = r.Seed
	ec.BackendCosts = r.BackendCosts
	ec.GeoRegions = r.GeoRegions
	ec.CustomRoutes = r.CustomRoutes

	if r.Capabilities != nil {
		ec.Capabilities = make([]routing.Capability, 0, len(r.Capabilities))
		for _, name := range r.Capabilities {
			capability, err := routing.ParseCapability(name)
			if err != nil {
				return routing.EngineConfig{}, err
			}
			ec.Capabilities = append(ec.Capabilities, capability)
		}
	}
	return ec, nil
}

// NewEngine builds an engine over the configured backends
func (c *Config) NewEngine() (*routing.Engine, error) {
	ec, err := c.ToEngineConfig()
	if err != nil {
		return nil, err
	}
	return routing.NewEngine(ec, c.Router.Backends...)
}

func applyEnv(cfg *Config) {
	if val := os.Getenv("ROUTER_LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := os.Getenv("ROUTER_STRATEGY"); val != "" {
		cfg.Router.DefaultStrategy = val
	}
	if val := os.Getenv("ROUTER_UPDATE_INTERVAL"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Router.UpdateIntervalSeconds = p
		}
	}
	if val := os.Getenv("ROUTER_REGION"); val != "" {
		cfg.Router.CurrentRegion = val
	}
	if val := os.Getenv("ROUTER_BACKENDS"); val != "" {
		cfg.Router.Backends = splitList(val)
	}
	if val := os.Getenv("ROUTER_AUTO_START_UPDATES"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Router.AutoStartUpdates = b
		}
	}

	if val := os.Getenv("ROUTER_PROBER"); val != "" {
		cfg.Network.Prober = val
	}

	if val := os.Getenv("ROUTER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("ROUTER_PORT"); val != "" {
		if p, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = p
		}
	}

	if val := os.Getenv("ROUTER_GEOIP_DB"); val != "" {
		cfg.GeoIP.DBPath = val
	}

	if val := os.Getenv("ROUTER_REDIS_ADDRESS"); val != "" {
		cfg.Redis.Address = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("ROUTER_REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}

	if val := os.Getenv("ROUTER_MONGO_URI"); val != "" {
		cfg.MongoDB.URI = val
		cfg.MongoDB.Enabled = true
	}
	if val := os.Getenv("ROUTER_MONGO_DATABASE"); val != "" {
		cfg.MongoDB.Database = val
	}

	if val := os.Getenv("ROUTER_SQLITE_PATH"); val != "" {
		cfg.SQLite.Path = val
		cfg.SQLite.Enabled = true
	}

	if val := os.Getenv("ROUTER_EVENTS_SINK"); val != "" {
		cfg.Events.SinkURL = val
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
