/*
Copyright 2023 The TenantCore Authors
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package inmemory

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dapr/kit/logger"
	lru "github.com/hashicorp/golang-lru/v2"
	jsoniter "github.com/json-iterator/go"
	"k8s.io/utils/clock"

	"github.com/tenantcore/components/cache"
)

// inMemoryCacheService is an in-memory cache.Service. Each named cache is an
// LRU bounded at its configured element count, so the bound holds under any
// interleaving of stores; TTL expiry is lazy on reads plus a background
// reaper between Start and Stop.
type inMemoryCacheService struct {
	mu         sync.RWMutex
	caches     map[string]*namedCache
	defaultCfg *cache.Configuration

	log     logger.Logger
	clock   clock.WithTicker
	json    jsoniter.API
	closeCh chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// NewInMemoryCacheService builds a cache service from the declared
// configurations. When defaultCfg is nil, referencing an undeclared cache
// name fails with ErrCacheNotConfigured; otherwise the named cache is
// created lazily from the default configuration.
func NewInMemoryCacheService(log logger.Logger, configurations []cache.Configuration, defaultCfg *cache.Configuration) (cache.Service, error) {
	return newCacheService(log, configurations, defaultCfg)
}

func newCacheService(log logger.Logger, configurations []cache.Configuration, defaultCfg *cache.Configuration) (*inMemoryCacheService, error) {
	svc := &inMemoryCacheService{
		caches:     make(map[string]*namedCache, len(configurations)),
		defaultCfg: defaultCfg,
		log:        log,
		clock:      clock.RealClock{},
		json:       jsoniter.ConfigCompatibleWithStandardLibrary,
		closeCh:    make(chan struct{}),
	}

	if defaultCfg != nil && defaultCfg.MaxElementsInMemory <= 0 {
		return nil, fmt.Errorf("default cache configuration must have a positive element bound")
	}

	for _, cfg := range configurations {
		if cfg.Name == "" {
			return nil, fmt.Errorf("cache configuration without a name")
		}
		if _, ok := svc.caches[cfg.Name]; ok {
			return nil, fmt.Errorf("cache %s is configured twice", cfg.Name)
		}
		c, err := svc.newNamedCache(cfg)
		if err != nil {
			return nil, err
		}
		svc.caches[cfg.Name] = c
	}

	return svc, nil
}

// Start launches the background reaper for expired entries.
func (svc *inMemoryCacheService) Start() error {
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		svc.reapExpired()
	}()
	return nil
}

// Stop halts the reaper and drops all entries.
func (svc *inMemoryCacheService) Stop() error {
	if svc.closed.CompareAndSwap(false, true) {
		close(svc.closeCh)
	}
	svc.wg.Wait()

	return svc.ClearAll()
}

func (svc *inMemoryCacheService) Store(cacheName, key string, value any) error {
	c, err := svc.resolve(cacheName)
	if err != nil {
		return err
	}

	return c.store(key, value)
}

func (svc *inMemoryCacheService) Get(cacheName, key string) (any, error) {
	c, err := svc.resolve(cacheName)
	if err != nil {
		return nil, err
	}

	return c.get(key)
}

func (svc *inMemoryCacheService) Clear(cacheName string) error {
	c, err := svc.resolve(cacheName)
	if err != nil {
		return err
	}

	c.clear()
	return nil
}

func (svc *inMemoryCacheService) ClearAll() error {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	for _, c := range svc.caches {
		c.clear()
	}
	return nil
}

func (svc *inMemoryCacheService) CacheSize(cacheName string) (int, error) {
	c, err := svc.resolve(cacheName)
	if err != nil {
		return 0, err
	}

	return c.size(), nil
}

func (svc *inMemoryCacheService) Keys(cacheName string) ([]string, error) {
	c, err := svc.resolve(cacheName)
	if err != nil {
		return nil, err
	}

	return c.keys(), nil
}

// resolve returns the named cache, creating it from the default
// configuration when one was supplied, and failing fast otherwise.
func (svc *inMemoryCacheService) resolve(cacheName string) (*namedCache, error) {
	svc.mu.RLock()
	c, ok := svc.caches[cacheName]
	svc.mu.RUnlock()
	if ok {
		return c, nil
	}

	if svc.defaultCfg == nil {
		return nil, &cache.Error{Cache: cacheName, Err: cache.ErrCacheNotConfigured}
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if c, ok = svc.caches[cacheName]; ok {
		return c, nil
	}

	cfg := *svc.defaultCfg
	cfg.Name = cacheName
	c, err := svc.newNamedCache(cfg)
	if err != nil {
		return nil, err
	}
	svc.caches[cacheName] = c

	return c, nil
}

func (svc *inMemoryCacheService) reapExpired() {
	t := svc.clock.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C():
			svc.mu.RLock()
			for _, c := range svc.caches {
				c.removeExpired()
			}
			svc.mu.RUnlock()
		case <-svc.closeCh:
			return
		}
	}
}

// namedCache is one independently configured cache. A single mutex guards
// the compound read-check-remove paths so the element bound and TTL checks
// never race.
type namedCache struct {
	cfg   cache.Configuration
	mu    sync.Mutex
	items *lru.Cache[string, *entry]
	json  jsoniter.API
	clock clock.WithTicker
}

// entry keeps either the caller's reference or, for copy-on-write caches,
// only the serialized snapshot taken at store time.
type entry struct {
	value  any
	data   []byte
	expire time.Time
}

func (svc *inMemoryCacheService) newNamedCache(cfg cache.Configuration) (*namedCache, error) {
	if cfg.MaxElementsInMemory <= 0 {
		return nil, fmt.Errorf("cache %s must have a positive element bound, got %d", cfg.Name, cfg.MaxElementsInMemory)
	}

	store, err := lru.New[string, *entry](cfg.MaxElementsInMemory)
	if err != nil {
		return nil, fmt.Errorf("could not initialize lru cache for %s: %w", cfg.Name, err)
	}

	return &namedCache{
		cfg:   cfg,
		items: store,
		json:  svc.json,
		clock: svc.clock,
	}, nil
}

func (c *namedCache) store(key string, value any) error {
	e := &entry{}

	if c.cfg.CopyOnWrite || c.cfg.CopyOnRead {
		// Both policies need a serializable value; copy-on-write keeps only
		// the snapshot so later mutation of the caller's object cannot be
		// observed through the cache.
		data, err := c.json.Marshal(value)
		if err != nil {
			return &cache.Error{Cache: c.cfg.Name, Err: fmt.Errorf("%w: %v", cache.ErrValueNotSerializable, err)}
		}
		if c.cfg.CopyOnWrite {
			e.data = data
		}
	}
	if e.data == nil {
		e.value = value
	}

	if !c.cfg.Eternal && c.cfg.TimeToLive > 0 {
		e.expire = c.clock.Now().Add(c.cfg.TimeToLive)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Add(key, e)
	return nil
}

func (c *namedCache) get(key string) (any, error) {
	c.mu.Lock()
	e, ok := c.items.Get(key)
	if ok && c.isExpired(e) {
		c.items.Remove(key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}

	switch {
	case c.cfg.CopyOnWrite:
		return c.copyFrom(e.data)
	case c.cfg.CopyOnRead:
		data, err := c.json.Marshal(e.value)
		if err != nil {
			return nil, &cache.Error{Cache: c.cfg.Name, Err: fmt.Errorf("%w: %v", cache.ErrValueNotSerializable, err)}
		}
		return c.copyFrom(data)
	default:
		return e.value, nil
	}
}

func (c *namedCache) copyFrom(data []byte) (any, error) {
	var value any
	if err := c.json.Unmarshal(data, &value); err != nil {
		return nil, &cache.Error{Cache: c.cfg.Name, Err: fmt.Errorf("%w: %v", cache.ErrValueNotSerializable, err)}
	}
	return value, nil
}

func (c *namedCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Purge()
}

func (c *namedCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

func (c *namedCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.items.Len())
	for _, key := range c.items.Keys() {
		if e, ok := c.items.Peek(key); ok && !c.isExpired(e) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *namedCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.items.Keys() {
		if e, ok := c.items.Peek(key); ok && c.isExpired(e) {
			c.items.Remove(key)
		}
	}
}

// isExpired treats an entry at exactly its time to live as expired.
func (c *namedCache) isExpired(e *entry) bool {
	return !e.expire.IsZero() && !c.clock.Now().Before(e.expire)
}
