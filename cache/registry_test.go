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

package cache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dapr/kit/logger"

	"github.com/tenantcore/components/cache"
	inmemory "github.com/tenantcore/components/cache/in-memory"
)

func newTestRegistry(t *testing.T, created *atomic.Int64) *cache.Registry {
	t.Helper()

	log := logger.NewLogger("test")
	return cache.NewRegistry(func(tenantID int64) cache.Service {
		if created != nil {
			created.Add(1)
		}
		svc, err := inmemory.NewInMemoryCacheService(log, []cache.Configuration{
			{Name: "work", MaxElementsInMemory: 10},
		}, nil)
		require.NoError(t, err)
		return svc
	})
}

func TestServiceForIsolatesTenants(t *testing.T) {
	registry := newTestRegistry(t, nil)

	svc1, err := registry.ServiceFor(1)
	require.NoError(t, err)
	svc2, err := registry.ServiceFor(2)
	require.NoError(t, err)

	require.NoError(t, svc1.Store("work", "key", "tenant-one"))
	require.NoError(t, svc2.Store("work", "key", "tenant-two"))

	v, err := svc1.Get("work", "key")
	require.NoError(t, err)
	assert.Equal(t, "tenant-one", v)

	v, err = svc2.Get("work", "key")
	require.NoError(t, err)
	assert.Equal(t, "tenant-two", v)
}

func TestServiceForCreatesOncePerTenant(t *testing.T) {
	var created atomic.Int64
	registry := newTestRegistry(t, &created)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				svc, err := registry.ServiceFor(42)
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), created.Load())
}

func TestServiceForStartFailure(t *testing.T) {
	startErr := errors.New("start failed")
	registry := cache.NewRegistry(func(tenantID int64) cache.Service {
		return &failingService{startErr: startErr}
	})

	_, err := registry.ServiceFor(1)
	require.ErrorIs(t, err, startErr)
}

func TestStopTenant(t *testing.T) {
	var created atomic.Int64
	registry := newTestRegistry(t, &created)

	svc, err := registry.ServiceFor(1)
	require.NoError(t, err)
	require.NoError(t, svc.Store("work", "key", "value"))

	require.NoError(t, registry.StopTenant(1))

	// stopping an unknown tenant is a no-op
	require.NoError(t, registry.StopTenant(99))

	// the next lookup builds a fresh, empty service
	svc, err = registry.ServiceFor(1)
	require.NoError(t, err)

	v, err := svc.Get("work", "key")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, int64(2), created.Load())
}

func TestStopAll(t *testing.T) {
	stopErr := errors.New("stop failed")
	registry := cache.NewRegistry(func(tenantID int64) cache.Service {
		if tenantID == 2 {
			return &failingService{stopErr: stopErr}
		}
		return &failingService{}
	})

	for _, tenantID := range []int64{1, 2, 3} {
		_, err := registry.ServiceFor(tenantID)
		require.NoError(t, err)
	}

	err := registry.StopAll()
	require.ErrorIs(t, err, stopErr)

	// every service was dropped, including the failing one
	require.NoError(t, registry.StopAll())
}

// failingService is a cache.Service stub with scriptable lifecycle errors.
type failingService struct {
	startErr error
	stopErr  error
}

func (s *failingService) Start() error { return s.startErr }

func (s *failingService) Stop() error { return s.stopErr }

func (s *failingService) Store(cacheName, key string, value any) error { return nil }

func (s *failingService) Get(cacheName, key string) (any, error) { return nil, nil }

func (s *failingService) Clear(cacheName string) error { return nil }

func (s *failingService) ClearAll() error { return nil }

func (s *failingService) CacheSize(cacheName string) (int, error) { return 0, nil }

func (s *failingService) Keys(cacheName string) ([]string, error) { return nil, nil }
