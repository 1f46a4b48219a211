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
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dapr/kit/logger"
	"k8s.io/utils/clock"

	"github.com/tenantcore/components/lock"
)

// inMemoryLockStore provides mutual exclusion between callers sharing one
// process. Useful for single-node deployments and for tests; a cluster needs
// a store backed by a shared service (see lock/redis).
type inMemoryLockStore struct {
	items   map[string]*inMemoryLockItem
	lock    sync.Mutex
	log     logger.Logger
	clock   clock.WithTicker
	closeCh chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
}

func NewInMemoryLockStore(log logger.Logger) lock.Store {
	return newLockStore(log)
}

func newLockStore(log logger.Logger) *inMemoryLockStore {
	return &inMemoryLockStore{
		items:   map[string]*inMemoryLockItem{},
		log:     log,
		clock:   clock.RealClock{},
		closeCh: make(chan struct{}),
	}
}

func (store *inMemoryLockStore) InitLockStore(ctx context.Context, metadata lock.Metadata) error {
	// Start a background goroutine to reap expired locks, so abandoned
	// entries do not accumulate between TryLock calls.
	store.wg.Add(1)
	go func() {
		defer store.wg.Done()
		store.reapExpired()
	}()
	return nil
}

func (store *inMemoryLockStore) TryLock(ctx context.Context, req *lock.TryLockRequest) (*lock.TryLockResponse, error) {
	store.lock.Lock()
	defer store.lock.Unlock()

	item, ok := store.items[req.ResourceID]
	if ok && !store.isExpired(item) {
		// Re-entrant for the same owner, otherwise unavailable.
		if item.owner != req.LockOwner {
			return &lock.TryLockResponse{Success: false}, nil
		}
	}

	expire := store.clock.Now().Add(time.Duration(req.ExpiryInSeconds) * time.Second)
	store.items[req.ResourceID] = &inMemoryLockItem{
		owner:  req.LockOwner,
		expire: &expire,
	}

	return &lock.TryLockResponse{Success: true}, nil
}

func (store *inMemoryLockStore) Unlock(ctx context.Context, req *lock.UnlockRequest) (*lock.UnlockResponse, error) {
	store.lock.Lock()
	defer store.lock.Unlock()

	item, ok := store.items[req.ResourceID]
	if !ok || store.isExpired(item) {
		return &lock.UnlockResponse{Status: lock.LockDoesNotExist}, nil
	}
	if item.owner != req.LockOwner {
		return &lock.UnlockResponse{Status: lock.LockBelongsToOthers}, nil
	}

	delete(store.items, req.ResourceID)

	return &lock.UnlockResponse{Status: lock.Success}, nil
}

func (store *inMemoryLockStore) Close() error {
	if store.closed.CompareAndSwap(false, true) {
		close(store.closeCh)
	}

	// release memory reference
	store.lock.Lock()
	for k := range store.items {
		delete(store.items, k)
	}
	store.lock.Unlock()

	store.wg.Wait()

	return nil
}

func (store *inMemoryLockStore) isExpired(item *inMemoryLockItem) bool {
	return item.expire != nil && store.clock.Now().After(*item.expire)
}

func (store *inMemoryLockStore) reapExpired() {
	t := store.clock.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C():
			store.lock.Lock()
			for k, item := range store.items {
				if store.isExpired(item) {
					delete(store.items, k)
				}
			}
			store.lock.Unlock()
		case <-store.closeCh:
			return
		}
	}
}

type inMemoryLockItem struct {
	owner  string
	expire *time.Time
}
