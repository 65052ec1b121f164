package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"content-router/src/config"
	"content-router/src/events"
	"content-router/src/geo"
	"content-router/src/internal/common"
	"content-router/src/routing"
	"content-router/src/storage"
)

const cacheHealthInterval = 30 * time.Second

// Runtime owns every long-lived component behind `content-router serve`:
// the engine, its observers, persistence, network measurements, the config
// watcher and the HTTP server.
type Runtime struct {
	Config    *config.Config
	Engine    *routing.Engine
	Bandwidth *routing.BandwidthAwareRouter
	Server    *Server

	stores     *storage.Stores
	recorder   *storage.DecisionRecorder
	publisher  *events.Publisher
	geo        *geo.Resolver
	watcher    *config.Watcher
	configPath string
	prober     routing.NetworkProber
	logger     *common.SafeLogger
}

// NewRuntime assembles the router from configuration. configPath, when it
// names an existing file, is watched for changes once the runtime starts.
func NewRuntime(ctx context.Context, cfg *config.Config, configPath string) (*Runtime, error) {
	if cfg.LogLevel != "" {
		common.SetGlobalLevel(cfg.LogLevel)
	}

	engine, err := cfg.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create routing engine: %w", err)
	}
	rt := &Runtime{Config: cfg, Engine: engine, configPath: configPath, logger: common.ServerLogger}

	stores, err := storage.Open(ctx, cfg)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	rt.stores = stores

	if restored, err := storage.Restore(ctx, stores.State, engine); err != nil {
		rt.logger.Warn("Could not restore saved routing config: %v", err)
	} else if restored {
		rt.logger.Info("Routing state restored from storage")
	}

	if stores.Archive != nil {
		rt.recorder = storage.NewDecisionRecorder(stores.Archive, 0, 0)
		engine.AddObserver(rt.recorder)
	}
	if stores.Cache != nil {
		for _, m := range engine.RouteMappings() {
			stores.Cache.MappingChanged(m)
		}
		engine.AddObserver(stores.Cache)
		stores.Cache.StartHealthCheck(cacheHealthInterval)
	}
	if cfg.Events.SinkURL != "" {
		publisher, err := events.NewPublisher(cfg.Events.SinkURL, cfg.Events.Source)
		if err != nil {
			rt.abort()
			return nil, err
		}
		rt.publisher = publisher
		engine.AddObserver(publisher)
	}

	rt.prober = newProber(cfg)
	rt.Bandwidth = routing.NewBandwidthAwareRouter(engine, rt.prober, cfg.MeasurementInterval())

	if cfg.GeoIP.DBPath != "" {
		rt.geo = geo.NewResolver(cfg.GeoIP.DBPath, cfg.GeoIP.CountryRegions)
	}

	opts := Options{
		Engine:         engine,
		Bandwidth:      rt.Bandwidth,
		State:          stores.State,
		Archive:        stores.Archive,
		Cache:          stores.Cache,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		HealthDetails:  rt.healthDetails,
	}
	if rt.geo != nil {
		opts.Geo = rt.geo
	}
	srv, err := NewServer(cfg.Server.Address(), opts)
	if err != nil {
		rt.abort()
		return nil, err
	}
	rt.Server = srv
	return rt, nil
}

func newProber(cfg *config.Config) routing.NetworkProber {
	switch cfg.Network.Prober {
	case config.ProberSynthetic:
		return routing.NewSyntheticProber(cfg.Router.Seed)
	case config.ProberHTTP:
		timeout := time.Duration(cfg.Network.ProbeTimeoutSeconds) * time.Second
		return routing.NewHTTPProber(cfg.Network.Endpoints, cfg.Network.DownloadURLs, timeout)
	default:
		return nil
	}
}

// Start serves HTTP and launches background work
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.Server.Start(); err != nil {
		return err
	}
	if rt.Config.Router.AutoStartUpdates && !rt.Engine.BackgroundUpdatesRunning() {
		rt.Engine.StartBackgroundUpdates()
	}
	if rt.prober != nil {
		rt.Bandwidth.StartMeasurements(ctx)
	}
	if rt.configPath != "" {
		if _, err := os.Stat(rt.configPath); err == nil {
			watcher, err := config.NewWatcher(rt.configPath, rt.ApplyConfig)
			if err != nil {
				rt.logger.Warn("Config hot reload disabled: %v", err)
			} else {
				rt.watcher = watcher
				watcher.Start()
				rt.logger.Info("Watching %s for changes", rt.configPath)
			}
		}
	}
	return nil
}

// Stop shuts everything down in reverse order of startup. The routing
// configuration is snapshotted before storage closes.
func (rt *Runtime) Stop(ctx context.Context) error {
	var errs []error
	if rt.watcher != nil {
		rt.watcher.Stop()
		rt.watcher = nil
	}
	if err := rt.Server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	rt.Bandwidth.StopMeasurements()
	rt.Engine.StopBackgroundUpdates()

	if err := storage.Snapshot(ctx, rt.stores.State, rt.Engine); err != nil {
		errs = append(errs, fmt.Errorf("snapshot routing config: %w", err))
	}
	if rt.recorder != nil {
		if err := rt.recorder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.publisher != nil {
		if err := rt.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := rt.closeStores(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.geo.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.Engine.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// abort releases what NewRuntime opened before failing
func (rt *Runtime) abort() {
	if rt.recorder != nil {
		rt.recorder.Close()
	}
	if rt.publisher != nil {
		rt.publisher.Close()
	}
	rt.closeStores()
	rt.Engine.Close()
}

func (rt *Runtime) closeStores() error {
	if rt.stores == nil {
		return nil
	}
	return rt.stores.Close()
}

// ApplyConfig pushes a reloaded configuration into the live engine. Backends
// are only ever added; removing one takes an explicit unregister.
func (rt *Runtime) ApplyConfig(cfg *config.Config) {
	e := rt.Engine
	if cfg.LogLevel != "" {
		common.SetGlobalLevel(cfg.LogLevel)
	}
	if strategy, err := routing.ParseStrategy(cfg.Router.DefaultStrategy); err == nil {
		if err := e.SetDefaultStrategy(strategy); err != nil {
			rt.logger.Warn("Config reload: %v", err)
		}
	}
	previousInterval := e.UpdateInterval()
	if err := e.SetUpdateInterval(cfg.UpdateInterval()); err != nil {
		rt.logger.Warn("Config reload: %v", err)
	} else if interval := e.UpdateInterval(); interval != previousInterval && e.RestartBackgroundUpdates() {
		rt.logger.Info("Background update interval changed from %s to %s", previousInterval, interval)
	}
	e.SetCurrentRegion(cfg.Router.CurrentRegion)

	for _, b := range cfg.Router.Backends {
		if !e.IsRegistered(b) {
			if err := e.RegisterBackend(b); err != nil {
				rt.logger.Warn("Config reload: %v", err)
			}
		}
	}
	for name, model := range cfg.Router.BackendCosts {
		if err := e.SetBackendCost(name, model); err != nil {
			rt.logger.Warn("Config reload: %v", err)
		}
	}
	for name, region := range cfg.Router.GeoRegions {
		if err := e.SetGeoRegion(name, region); err != nil {
			rt.logger.Warn("Config reload: %v", err)
		}
	}
	for key, backend := range cfg.Router.CustomRoutes {
		if err := e.AddCustomRoute(key, backend); err != nil {
			rt.logger.Warn("Config reload: %v", err)
		}
	}

	rt.Config = cfg
	rt.logger.Info("Applied reloaded configuration (strategy=%s, %d backends)", e.DefaultStrategy(), len(e.Backends()))
}

func (rt *Runtime) healthDetails() map[string]interface{} {
	details := map[string]interface{}{}
	if rt.recorder != nil {
		archived, dropped, failures := rt.recorder.Stats()
		details["decision_archive"] = map[string]int64{"archived": archived, "dropped": dropped, "failures": failures}
	}
	if rt.publisher != nil {
		sent, failed, dropped := rt.publisher.Stats()
		details["events"] = map[string]int64{"sent": sent, "failed": failed, "dropped": dropped}
	}
	if rt.watcher != nil {
		details["config_reloads"] = rt.watcher.Reloads()
	}
	return details
}
