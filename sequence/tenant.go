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

package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dapr/kit/logger"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/tenantcore/components/internal/retry"
	"github.com/tenantcore/components/lock"
)

const (
	// maxRefillPasses bounds the monitor-held retry loop so a pathologically
	// contended sequence cannot spin forever.
	maxRefillPasses = 100

	// lockPollInterval is the wait between TryLock attempts while the
	// distributed lock is held elsewhere.
	lockPollInterval = 10 * time.Millisecond

	// maxRetryInterval caps the growth of the reserve backoff delay.
	maxRetryInterval = 30 * time.Second
)

// tenantManager issues IDs for one tenant. It holds one sequenceRange per
// sequence, each guarded by its own refill monitor: mutual exclusion is
// scoped to (tenant, sequence), never shared across tenants.
type tenantManager struct {
	tenantID int64
	mappings *MappingRegistry
	store    RangeStore
	locks    lock.Store

	retryCfg    retry.Config
	lockTimeout time.Duration
	lockExpiry  int32

	ranges   *xsync.MapOf[int64, *sequenceRange]
	monitors *xsync.MapOf[int64, *sync.Mutex]

	log logger.Logger
}

func newTenantManager(tenantID int64, cfg Config, retryCfg retry.Config, mappings *MappingRegistry, log logger.Logger) *tenantManager {
	return &tenantManager{
		tenantID:    tenantID,
		mappings:    mappings,
		store:       cfg.Store,
		locks:       cfg.Locks,
		retryCfg:    retryCfg,
		lockTimeout: cfg.LockTimeout,
		lockExpiry:  int32(cfg.LockExpiry / time.Second),
		ranges:      xsync.NewMapOf[int64, *sequenceRange](),
		monitors:    xsync.NewMapOf[int64, *sync.Mutex](),
		log:         log,
	}
}

// nextID returns the next ID for an entity name.
//
// The fast path is a single lock-free take from the in-memory range. When
// the range is exhausted, one goroutine per (tenant, sequence) refills it:
// under the distributed lock, the counter row is read and advanced by the
// range size in one transaction, then the fresh block is installed.
func (t *tenantManager) nextID(ctx context.Context, entityName string) (int64, error) {
	sequenceID, ok := t.mappings.SequenceFor(entityName)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrEntityNotMapped, entityName)
	}
	rangeSize := t.mappings.RangeSizeFor(sequenceID)

	rng, _ := t.ranges.LoadOrCompute(sequenceID, func() *sequenceRange {
		return newSequenceRange(rangeSize)
	})

	if id, ok := rng.nextID(); ok {
		return id, nil
	}

	// Slow path. The monitor keeps refills of one sequence single-flight
	// within this process; other processes coordinate through the
	// distributed lock inside refill.
	monitor, _ := t.monitors.LoadOrCompute(sequenceID, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	monitor.Lock()
	defer monitor.Unlock()

	for range maxRefillPasses {
		// Another caller may have refilled while we waited on the monitor.
		if id, ok := rng.nextID(); ok {
			return id, nil
		}

		start, err := t.refill(ctx, sequenceID, rangeSize)
		if err != nil {
			return 0, err
		}
		rng.updateToNextRange(start)
	}

	return 0, &AllocationError{
		TenantID:   t.tenantID,
		SequenceID: sequenceID,
		Attempts:   maxRefillPasses,
		Err:        errors.New("ranges exhausted faster than they could be refilled"),
	}
}

// clear drops all cached ranges and monitors, forcing the next allocation to
// re-read the counter store. Unused IDs of the dropped ranges are lost,
// never reissued.
func (t *tenantManager) clear() {
	t.ranges.Range(func(k int64, _ *sequenceRange) bool {
		t.ranges.Delete(k)
		return true
	})
	t.monitors.Range(func(k int64, _ *sync.Mutex) bool {
		t.monitors.Delete(k)
		return true
	})
}

// refill reserves the next block for the sequence under the distributed
// lock and returns its lower bound.
func (t *tenantManager) refill(ctx context.Context, sequenceID, rangeSize int64) (start int64, err error) {
	resource := lockResource(sequenceID, t.tenantID)
	owner := uuid.NewString()

	if lockErr := t.acquireLock(ctx, resource, owner); lockErr != nil {
		return 0, lockErr
	}
	defer func() {
		resp, unlockErr := t.locks.Unlock(ctx, &lock.UnlockRequest{
			ResourceID: resource,
			LockOwner:  owner,
		})
		if unlockErr == nil && resp.Status != lock.Success {
			unlockErr = fmt.Errorf("unlock ended with status %d", resp.Status)
		}
		// A release failure fails the whole operation: the reserved block is
		// abandoned rather than used with the lock state in doubt.
		if unlockErr != nil && err == nil {
			err = &LockError{Op: "release", ResourceID: resource, Err: unlockErr}
		}
	}()

	return t.reserve(ctx, sequenceID, rangeSize)
}

// acquireLock polls TryLock until the lock is granted or the lock timeout
// elapses. A timeout surfaces as a LockError wrapping the context error,
// distinct from a store failure.
func (t *tenantManager) acquireLock(ctx context.Context, resource, owner string) error {
	ctx, cancel := context.WithTimeout(ctx, t.lockTimeout)
	defer cancel()

	req := &lock.TryLockRequest{
		ResourceID:      resource,
		LockOwner:       owner,
		ExpiryInSeconds: t.lockExpiry,
	}
	for {
		resp, err := t.locks.TryLock(ctx, req)
		if err != nil {
			return &LockError{Op: "acquire", ResourceID: resource, Err: err}
		}
		if resp.Success {
			return nil
		}

		select {
		case <-ctx.Done():
			return &LockError{Op: "acquire", ResourceID: resource, Err: ctx.Err()}
		case <-time.After(lockPollInterval):
		}
	}
}

// reserve advances the counter row under the configured backoff policy.
// Transient store failures are retried; a missing row is permanent.
func (t *tenantManager) reserve(ctx context.Context, sequenceID, rangeSize int64) (int64, error) {
	b := t.retryCfg.NewBackOffWithContext(ctx)

	var (
		start    int64
		attempts int
	)
	err := retry.NotifyRecover(func() error {
		attempts++
		v, rerr := t.store.Reserve(ctx, t.tenantID, sequenceID, rangeSize)
		if rerr != nil {
			if errors.Is(rerr, ErrSequenceNotFound) {
				return backoff.Permanent(rerr)
			}
			return rerr
		}
		start = v
		return nil
	}, b, func(err error, d time.Duration) {
		t.log.Warnf("Failed to reserve a range for sequence %d of tenant %d, retrying in %s: %v", sequenceID, t.tenantID, d, err)
	}, func() {
		t.log.Infof("Reserved a range for sequence %d of tenant %d after transient failures", sequenceID, t.tenantID)
	})
	if err != nil {
		if errors.Is(err, ErrSequenceNotFound) {
			return 0, err
		}
		return 0, &AllocationError{
			TenantID:   t.tenantID,
			SequenceID: sequenceID,
			Attempts:   attempts,
			Err:        err,
		}
	}

	return start, nil
}

func lockResource(sequenceID, tenantID int64) string {
	return fmt.Sprintf("%d_SEQUENCE_%d", sequenceID, tenantID)
}
