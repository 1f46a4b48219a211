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

// Package sequence issues globally-unique, monotonically increasing IDs per
// entity class per tenant, backed by a shared counter store. Allocation is
// amortized by reserving contiguous ranges: the common case is a lock-free
// in-memory take, and only an exhausted range reaches the store, under a
// distributed lock shared by all processes of the cluster.
package sequence

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dapr/kit/logger"
	kitmd "github.com/dapr/kit/metadata"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/tenantcore/components/internal/retry"
	"github.com/tenantcore/components/lock"
	"github.com/tenantcore/components/metadata"
)

// Manager is the entry point of the sequence allocator.
type Manager interface {
	io.Closer

	// NextID returns the next ID for an entity class of a tenant.
	NextID(ctx context.Context, entityName string, tenantID int64) (int64, error)

	// Reset drops all cached per-tenant state, forcing fresh counter reads.
	Reset()

	// Clear drops all cached per-tenant state.
	Clear()

	// ClearTenant drops the cached state of one tenant, typically when the
	// tenant is paused or stopped.
	ClearTenant(tenantID int64)
}

// Config carries the collaborators and tuning of a Manager.
type Config struct {
	// Store is the shared counter store.
	Store RangeStore
	// Locks serializes counter refills across processes.
	Locks lock.Store
	// Mappings declare which entity classes share which sequence.
	Mappings []Mapping
	// DefaultRangeSize is used by mappings without an explicit range size.
	DefaultRangeSize int64
	// Retries is the attempt budget for transient store failures per refill.
	Retries int64
	// Delay is the initial backoff delay between refill attempts.
	Delay time.Duration
	// DelayFactor multiplies the delay after each failed attempt.
	DelayFactor float64
	// LockTimeout bounds the wait for the distributed lock.
	LockTimeout time.Duration
	// LockExpiry is the lifetime of an acquired lock, letting the cluster
	// recover from a crashed holder.
	LockExpiry time.Duration
}

const (
	defaultRangeSize   = 1000
	defaultRetries     = 5
	defaultDelay       = 100 * time.Millisecond
	defaultDelayFactor = 2
	defaultLockTimeout = 10 * time.Second
	defaultLockExpiry  = 60 * time.Second
)

// retryConfig maps the refill tuning onto a backoff policy: Retries is the
// attempt budget, Delay the initial interval and DelayFactor the multiplier.
func (c Config) retryConfig() retry.Config {
	return retry.Config{
		Policy:          retry.PolicyExponential,
		InitialInterval: c.Delay,
		Multiplier:      float32(c.DelayFactor),
		MaxInterval:     maxRetryInterval,
		MaxRetries:      c.Retries,
	}
}

// managerMetadata mirrors the tunable Config fields for decoding from
// component properties.
type managerMetadata struct {
	DefaultRangeSize int64
	Retries          int64
	Delay            time.Duration
	DelayFactor      float64
	LockTimeout      time.Duration
	LockExpiry       time.Duration
}

type manager struct {
	cfg      Config
	retryCfg retry.Config
	mappings *MappingRegistry
	tenants  *xsync.MapOf[int64, *tenantManager]
	log      logger.Logger
}

// NewManager validates the configuration and builds a Manager. The store and
// lock store must already be initialized; the manager does not own them.
func NewManager(cfg Config, log logger.Logger) (Manager, error) {
	return newManager(cfg, log)
}

// NewManagerFromMetadata builds a Manager with its tuning decoded from
// component metadata, the way the stores decode theirs. Plain properties
// (defaultRangeSize, retries, delay, delayFactor, lockTimeout, lockExpiry)
// override the corresponding Config fields; properties under the
// sequenceBackOff prefix (sequenceBackOffPolicy, sequenceBackOffDuration,
// sequenceBackOffMaxRetries, ...) override the refill backoff policy
// directly.
func NewManagerFromMetadata(cfg Config, md metadata.Base, log logger.Logger) (Manager, error) {
	meta := managerMetadata{
		DefaultRangeSize: cfg.DefaultRangeSize,
		Retries:          cfg.Retries,
		Delay:            cfg.Delay,
		DelayFactor:      cfg.DelayFactor,
		LockTimeout:      cfg.LockTimeout,
		LockExpiry:       cfg.LockExpiry,
	}
	err := kitmd.DecodeMetadata(md.Properties, &meta)
	if err != nil {
		return nil, err
	}
	cfg.DefaultRangeSize = meta.DefaultRangeSize
	cfg.Retries = meta.Retries
	cfg.Delay = meta.Delay
	cfg.DelayFactor = meta.DelayFactor
	cfg.LockTimeout = meta.LockTimeout
	cfg.LockExpiry = meta.LockExpiry

	m, err := newManager(cfg, log)
	if err != nil {
		return nil, err
	}

	err = retry.DecodeConfigWithPrefix(&m.retryCfg, md.Properties, "sequenceBackOff")
	if err != nil {
		return nil, err
	}

	return m, nil
}

func newManager(cfg Config, log logger.Logger) (*manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("a range store is required")
	}
	if cfg.Locks == nil {
		return nil, errors.New("a lock store is required")
	}
	if cfg.DefaultRangeSize == 0 {
		cfg.DefaultRangeSize = defaultRangeSize
	}
	if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.Delay == 0 {
		cfg.Delay = defaultDelay
	}
	if cfg.DelayFactor == 0 {
		cfg.DelayFactor = defaultDelayFactor
	}
	if cfg.DelayFactor < 1 {
		return nil, errors.New("delay factor must be at least 1")
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.LockExpiry == 0 {
		cfg.LockExpiry = defaultLockExpiry
	}

	mappings, err := NewMappingRegistry(cfg.Mappings, cfg.DefaultRangeSize)
	if err != nil {
		return nil, err
	}

	return &manager{
		cfg:      cfg,
		retryCfg: cfg.retryConfig(),
		mappings: mappings,
		tenants:  xsync.NewMapOf[int64, *tenantManager](),
		log:      log,
	}, nil
}

func (m *manager) NextID(ctx context.Context, entityName string, tenantID int64) (int64, error) {
	tenant, _ := m.tenants.LoadOrCompute(tenantID, func() *tenantManager {
		return newTenantManager(tenantID, m.cfg, m.retryCfg, m.mappings, m.log)
	})

	return tenant.nextID(ctx, entityName)
}

func (m *manager) Reset() {
	m.Clear()
}

func (m *manager) Clear() {
	m.tenants.Range(func(tenantID int64, _ *tenantManager) bool {
		m.tenants.Delete(tenantID)
		return true
	})
}

func (m *manager) ClearTenant(tenantID int64) {
	if tenant, ok := m.tenants.LoadAndDelete(tenantID); ok {
		tenant.clear()
	}
}

// Close drops all cached state. The injected store and lock store are owned
// by the caller and stay open.
func (m *manager) Close() error {
	m.Clear()
	return nil
}
