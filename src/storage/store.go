// Package storage persists routing state and decision history and caches
// route mapping snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"content-router/src/config"
	"content-router/src/internal/common"
	routererrors "content-router/src/internal/errors"
	"content-router/src/routing"
)

// StateStore keeps the latest exported routing configuration
type StateStore interface {
	SaveRoutingConfig(ctx context.Context, doc routing.RoutingConfigDocument) error
	// LoadRoutingConfig returns false when nothing has been saved yet.
	LoadRoutingConfig(ctx context.Context) (routing.RoutingConfigDocument, bool, error)
	Close() error
}

// DecisionArchive keeps routing decisions beyond the engine's in-memory log
type DecisionArchive interface {
	ArchiveDecisions(ctx context.Context, decisions []routing.RoutingDecision) error
	// RecentDecisions returns up to limit decisions, newest first.
	RecentDecisions(ctx context.Context, limit int) ([]routing.RoutingDecision, error)
	BackendDecisionCounts(ctx context.Context, since time.Time) (map[string]int64, error)
}

// Stores bundles the persistence backends enabled by configuration. Any field
// may be nil.
type Stores struct {
	State   StateStore
	Archive DecisionArchive
	Cache   *RedisMappingCache

	closers []func() error
}

// Open connects every enabled store. SQLite takes precedence over MongoDB for
// routing state and decision history when both are enabled.
func Open(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{}

	if cfg.SQLite.Enabled {
		db, err := NewSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		s.State, s.Archive = db, db
		s.closers = append(s.closers, db.Close)
	}

	if cfg.MongoDB.Enabled {
		timeout := time.Duration(cfg.MongoDB.TimeoutSeconds) * time.Second
		mongoStore, err := NewMongoStore(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database, timeout)
		if err != nil {
			s.Close()
			return nil, err
		}
		if s.State == nil {
			s.State, s.Archive = mongoStore, mongoStore
		}
		s.closers = append(s.closers, mongoStore.Close)
	}

	if cfg.Redis.Enabled {
		s.Cache = NewRedisMappingCache(RedisCacheOptions{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		})
		s.closers = append(s.closers, s.Cache.Close)
	}

	return s, nil
}

// Close closes every opened store, returning the combined error
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Restore imports the saved routing configuration into the engine. It
// reports whether a saved configuration was applied.
func Restore(ctx context.Context, store StateStore, engine *routing.Engine) (bool, error) {
	if store == nil {
		return false, nil
	}
	doc, ok, err := store.LoadRoutingConfig(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := engine.ImportRoutingConfig(doc); err != nil {
		return false, fmt.Errorf("restore saved routing config: %w", err)
	}
	common.StorageLogger.Info("Restored routing config exported at %s (%d backends)",
		doc.ExportedAt.Format(time.RFC3339), len(doc.Backends))
	return true, nil
}

// Snapshot exports the engine's routing configuration into the store
func Snapshot(ctx context.Context, store StateStore, engine *routing.Engine) error {
	if store == nil {
		return nil
	}
	return store.SaveRoutingConfig(ctx, engine.ExportRoutingConfig())
}

func persistenceError(store, op string, err error) error {
	if err == nil {
		return nil
	}
	return routererrors.NewPersistenceError(store, op, err)
}
