package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"content-router/src/internal/common"
	"content-router/src/routing"

	"github.com/redis/go-redis/v9"
)

// CacheMode indicates which cache backend is active
type CacheMode string

const (
	CacheModeRedis    CacheMode = "redis"
	CacheModeInMemory CacheMode = "in-memory"
)

const (
	defaultMappingTTL    = time.Hour
	defaultHealthCheck   = 30 * time.Second
	redisOperationBudget = 2 * time.Second
	// defaultWriteQueue bounds the redis writes waiting behind a slow server.
	defaultWriteQueue = 64
)

// RedisCacheOptions configures a RedisMappingCache
type RedisCacheOptions struct {
	Address     string
	Password    string
	DB          int
	KeyPrefix   string
	TTL         time.Duration
	DialTimeout time.Duration
	WriteQueue  int
}

type cacheItem struct {
	mapping   routing.RouteMapping
	expiresAt time.Time
}

// RedisMappingCache publishes route mapping snapshots so other processes can
// read the router's current distributions. It observes the engine and falls
// back to an in-memory store whenever redis is unreachable.
//
// MappingChanged updates the in-memory copy and hands the redis write to a
// background writer through a bounded queue; writes arriving while the queue
// is full are dropped and counted.
type RedisMappingCache struct {
	routing.BaseObserver

	opts   RedisCacheOptions
	client *redis.Client

	modeMu sync.RWMutex
	mode   CacheMode

	inMemory sync.Map // category -> *cacheItem

	writes      chan routing.RouteMapping
	writerCtx   context.Context
	stopWriter  context.CancelFunc
	writerDone  chan struct{}
	written     atomic.Int64
	dropped     atomic.Int64
	writeErrors atomic.Int64

	stopOnce sync.Once
	stopChan chan struct{}
	logger   *common.SafeLogger
}

// NewRedisMappingCache connects to redis. Connection failures leave the cache
// in in-memory mode; an empty address never attempts a connection.
func NewRedisMappingCache(opts RedisCacheOptions) *RedisMappingCache {
	if opts.TTL <= 0 {
		opts.TTL = defaultMappingTTL
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.WriteQueue <= 0 {
		opts.WriteQueue = defaultWriteQueue
	}
	c := &RedisMappingCache{
		opts:       opts,
		mode:       CacheModeInMemory,
		writes:     make(chan routing.RouteMapping, opts.WriteQueue),
		writerDone: make(chan struct{}),
		stopChan:   make(chan struct{}),
		logger:     common.StorageLogger,
	}
	c.writerCtx, c.stopWriter = context.WithCancel(context.Background())
	go c.writeLoop()

	if opts.Address == "" {
		c.logger.Info("Redis address not configured, caching mappings in memory")
		return c
	}

	c.client = redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  redisOperationBudget,
		WriteTimeout: redisOperationBudget,
		MaxRetries:   1,

		ContextTimeoutEnabled: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Warn("Redis connection to %s failed: %v; caching mappings in memory", opts.Address, err)
		return c
	}
	c.logger.Info("Redis connected at %s", opts.Address)
	c.setMode(CacheModeRedis)
	return c
}

func (c *RedisMappingCache) setMode(mode CacheMode) {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()
	c.mode = mode
}

// Mode returns the active backend
func (c *RedisMappingCache) Mode() CacheMode {
	c.modeMu.RLock()
	defer c.modeMu.RUnlock()
	return c.mode
}

func (c *RedisMappingCache) key(category routing.ContentCategory) string {
	return c.opts.KeyPrefix + "mapping:" + string(category)
}

// MappingChanged records the new snapshot in memory and queues the redis
// write. It never waits on redis.
func (c *RedisMappingCache) MappingChanged(m routing.RouteMapping) {
	c.storeInMemory(m)
	if c.Mode() != CacheModeRedis {
		return
	}
	select {
	case <-c.stopChan:
		return
	default:
	}
	select {
	case c.writes <- m:
	default:
		c.dropped.Add(1)
		c.logger.Debug("Redis write queue full, %s kept in memory only", c.key(m.Category))
	}
}

func (c *RedisMappingCache) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case m := <-c.writes:
			if c.Mode() != CacheModeRedis {
				continue
			}
			if err := c.setRedis(c.writerCtx, m, c.opts.TTL); err != nil {
				c.writeErrors.Add(1)
				c.logger.Warn("Redis SET failed for %s: %v (kept in memory)", c.key(m.Category), err)
				continue
			}
			c.written.Add(1)
		case <-c.writerCtx.Done():
			return
		}
	}
}

// WriteStats returns queued writes that reached redis, writes dropped on a
// full queue, and failed writes
func (c *RedisMappingCache) WriteStats() (written, dropped, failed int64) {
	return c.written.Load(), c.dropped.Load(), c.writeErrors.Load()
}

func (c *RedisMappingCache) storeInMemory(m routing.RouteMapping) {
	c.inMemory.Store(m.Category, &cacheItem{mapping: m, expiresAt: time.Now().Add(c.opts.TTL)})
}

// Store writes a mapping snapshot synchronously, bounded by ctx and the redis
// operation budget. A failed redis write lands in memory instead.
func (c *RedisMappingCache) Store(ctx context.Context, m routing.RouteMapping) {
	c.storeInMemory(m)

	if c.Mode() != CacheModeRedis {
		return
	}
	if err := c.setRedis(ctx, m, c.opts.TTL); err != nil {
		c.logger.Warn("Redis SET failed for %s: %v (kept in memory)", c.key(m.Category), err)
	}
}

// Snapshot reads a mapping snapshot, preferring redis when it is active
func (c *RedisMappingCache) Snapshot(ctx context.Context, category routing.ContentCategory) (routing.RouteMapping, bool) {
	if c.Mode() == CacheModeRedis {
		m, found, err := c.getRedis(ctx, category)
		if err == nil {
			return m, found
		}
		c.logger.Debug("Redis GET failed for %s: %v", c.key(category), err)
	}

	val, ok := c.inMemory.Load(category)
	if !ok {
		return routing.RouteMapping{}, false
	}
	item := val.(*cacheItem)
	if time.Now().After(item.expiresAt) {
		return routing.RouteMapping{}, false
	}
	return item.mapping, true
}

func (c *RedisMappingCache) setRedis(ctx context.Context, m routing.RouteMapping, ttl time.Duration) error {
	if c.client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, redisOperationBudget)
	defer cancel()
	return c.client.Set(ctx, c.key(m.Category), data, ttl).Err()
}

func (c *RedisMappingCache) getRedis(ctx context.Context, category routing.ContentCategory) (routing.RouteMapping, bool, error) {
	if c.client == nil {
		return routing.RouteMapping{}, false, fmt.Errorf("redis client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, redisOperationBudget)
	defer cancel()

	data, err := c.client.Get(ctx, c.key(category)).Bytes()
	if errors.Is(err, redis.Nil) {
		return routing.RouteMapping{}, false, nil
	}
	if err != nil {
		return routing.RouteMapping{}, false, err
	}
	var m routing.RouteMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return routing.RouteMapping{}, false, err
	}
	return m, true, nil
}

// CheckHealth pings redis and switches modes. Coming back online pushes the
// in-memory snapshots to redis.
func (c *RedisMappingCache) CheckHealth(ctx context.Context) {
	if c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, redisOperationBudget)
	defer cancel()
	err := c.client.Ping(ctx).Err()

	switch mode := c.Mode(); {
	case mode == CacheModeRedis && err != nil:
		c.logger.Warn("Redis health check failed: %v; switching to in-memory mode", err)
		c.setMode(CacheModeInMemory)
	case mode == CacheModeInMemory && err == nil:
		c.logger.Info("Redis reachable again, switching back to redis mode")
		c.syncInMemoryToRedis(ctx)
		c.setMode(CacheModeRedis)
	}
}

func (c *RedisMappingCache) syncInMemoryToRedis(ctx context.Context) {
	synced := 0
	c.inMemory.Range(func(_, value interface{}) bool {
		item := value.(*cacheItem)
		if ttl := time.Until(item.expiresAt); ttl > 0 {
			if err := c.setRedis(ctx, item.mapping, ttl); err == nil {
				synced++
			}
		}
		return true
	})
	c.logger.Info("Synced %d mapping snapshots to redis", synced)
}

// StartHealthCheck runs CheckHealth on an interval until Close
func (c *RedisMappingCache) StartHealthCheck(interval time.Duration) {
	if c.client == nil {
		return
	}
	if interval <= 0 {
		interval = defaultHealthCheck
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.CheckHealth(context.Background())
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Close stops the health loop, abandons queued writes and closes the redis client
func (c *RedisMappingCache) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.stopWriter()
		if c.client != nil {
			err = c.client.Close()
		}
		<-c.writerDone
	})
	return err
}
