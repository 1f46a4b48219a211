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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/dapr/kit/logger"

	"github.com/tenantcore/components/cache"
)

func newTestService(t *testing.T, configurations []cache.Configuration, defaultCfg *cache.Configuration) (*inMemoryCacheService, *clocktesting.FakeClock) {
	t.Helper()

	svc, err := newCacheService(logger.NewLogger("test"), configurations, defaultCfg)
	require.NoError(t, err)

	fakeClock := clocktesting.NewFakeClock(time.Now())
	svc.clock = fakeClock
	for _, c := range svc.caches {
		c.clock = fakeClock
	}

	return svc, fakeClock
}

func TestNewInMemoryCacheService(t *testing.T) {
	t.Run("rejects an unnamed cache", func(t *testing.T) {
		_, err := newCacheService(logger.NewLogger("test"), []cache.Configuration{
			{MaxElementsInMemory: 10},
		}, nil)
		require.Error(t, err)
	})

	t.Run("rejects a duplicate cache name", func(t *testing.T) {
		_, err := newCacheService(logger.NewLogger("test"), []cache.Configuration{
			{Name: "work", MaxElementsInMemory: 10},
			{Name: "work", MaxElementsInMemory: 20},
		}, nil)
		require.Error(t, err)
	})

	t.Run("rejects an unbounded cache", func(t *testing.T) {
		_, err := newCacheService(logger.NewLogger("test"), []cache.Configuration{
			{Name: "work"},
		}, nil)
		require.Error(t, err)
	})
}

func TestCacheNotConfigured(t *testing.T) {
	svc, _ := newTestService(t, []cache.Configuration{
		{Name: "work", MaxElementsInMemory: 10},
	}, nil)

	_, err := svc.Get("unknown", "key")
	require.ErrorIs(t, err, cache.ErrCacheNotConfigured)

	err = svc.Store("unknown", "key", "value")
	require.ErrorIs(t, err, cache.ErrCacheNotConfigured)

	var cacheErr *cache.Error
	require.ErrorAs(t, err, &cacheErr)
	assert.Equal(t, "unknown", cacheErr.Cache)
}

func TestDefaultConfigurationCreatesCachesLazily(t *testing.T) {
	svc, _ := newTestService(t, nil, &cache.Configuration{
		MaxElementsInMemory: 10,
	})

	require.NoError(t, svc.Store("anything", "key", "value"))

	v, err := svc.Get("anything", "key")
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestStoreAndGet(t *testing.T) {
	svc, _ := newTestService(t, []cache.Configuration{
		{Name: "work", MaxElementsInMemory: 10},
	}, nil)

	t.Run("absent key returns nil", func(t *testing.T) {
		v, err := svc.Get("work", "missing")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("stored value is returned", func(t *testing.T) {
		require.NoError(t, svc.Store("work", "key", "value"))

		v, err := svc.Get("work", "key")
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	})

	t.Run("overwrite keeps one element and the latest value", func(t *testing.T) {
		require.NoError(t, svc.Store("work", "dup", "first"))
		require.NoError(t, svc.Store("work", "dup", "second"))

		size, err := svc.CacheSize("work")
		require.NoError(t, err)

		v, gerr := svc.Get("work", "dup")
		require.NoError(t, gerr)
		assert.Equal(t, "second", v)
		assert.Equal(t, 2, size) // "key" and "dup"
	})
}

func TestTimeToLive(t *testing.T) {
	svc, fakeClock := newTestService(t, []cache.Configuration{
		{Name: "short", MaxElementsInMemory: 10, TimeToLive: time.Second},
		{Name: "forever", MaxElementsInMemory: 10, TimeToLive: time.Second, Eternal: true},
	}, nil)

	require.NoError(t, svc.Store("short", "key", "value"))
	require.NoError(t, svc.Store("forever", "key", "value"))

	fakeClock.Step(1100 * time.Millisecond)

	v, err := svc.Get("short", "key")
	require.NoError(t, err)
	assert.Nil(t, v, "an expired entry must be unreachable")

	v, err = svc.Get("forever", "key")
	require.NoError(t, err)
	assert.Equal(t, "value", v, "an eternal cache never expires entries")
}

func TestTimeToLiveBoundary(t *testing.T) {
	svc, fakeClock := newTestService(t, []cache.Configuration{
		{Name: "short", MaxElementsInMemory: 10, TimeToLive: time.Second},
	}, nil)

	require.NoError(t, svc.Store("short", "key", "value"))

	fakeClock.Step(999 * time.Millisecond)

	v, err := svc.Get("short", "key")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	// An entry at exactly its time to live is expired
	fakeClock.Step(time.Millisecond)

	v, err = svc.Get("short", "key")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestExpiredEntriesLeaveKeys(t *testing.T) {
	svc, fakeClock := newTestService(t, []cache.Configuration{
		{Name: "short", MaxElementsInMemory: 10, TimeToLive: time.Second},
	}, nil)

	require.NoError(t, svc.Store("short", "a", 1))
	require.NoError(t, svc.Store("short", "b", 2))

	keys, err := svc.Keys("short")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	fakeClock.Step(2 * time.Second)

	keys, err = svc.Keys("short")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCopyOnWriteIsolation(t *testing.T) {
	svc, _ := newTestService(t, []cache.Configuration{
		{Name: "cow", MaxElementsInMemory: 10, CopyOnWrite: true},
		{Name: "plain", MaxElementsInMemory: 10},
	}, nil)

	t.Run("caller mutation is invisible through a copy-on-write cache", func(t *testing.T) {
		original := map[string]string{"a": "1"}
		require.NoError(t, svc.Store("cow", "key", original))

		before, err := svc.Get("cow", "key")
		require.NoError(t, err)

		original["b"] = "2"

		after, err := svc.Get("cow", "key")
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Equal(t, map[string]any{"a": "1"}, after)
	})

	t.Run("caller mutation is visible through a plain cache", func(t *testing.T) {
		original := map[string]string{"a": "1"}
		require.NoError(t, svc.Store("plain", "key", original))

		original["b"] = "2"

		v, err := svc.Get("plain", "key")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1", "b": "2"}, v)
	})
}

func TestCopyOnReadIsolation(t *testing.T) {
	svc, _ := newTestService(t, []cache.Configuration{
		{Name: "cor", MaxElementsInMemory: 10, CopyOnRead: true},
	}, nil)

	require.NoError(t, svc.Store("cor", "key", map[string]string{"a": "1"}))

	first, err := svc.Get("cor", "key")
	require.NoError(t, err)

	// Mutating the returned copy must not corrupt the cache
	first.(map[string]any)["b"] = "2"

	second, err := svc.Get("cor", "key")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1"}, second)
}

func TestNonSerializableValueIsRejected(t *testing.T) {
	svc, _ := newTestService(t, []cache.Configuration{
		{Name: "cow", MaxElementsInMemory: 10, CopyOnWrite: true},
	}, nil)

	err := svc.Store("cow", "key", make(chan int))
	require.ErrorIs(t, err, cache.ErrValueNotSerializable)

	// The store was rejected, not kept by reference
	size, err := svc.CacheSize("cow")
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestElementBound(t *testing.T) {
	t.Run("size never exceeds the bound", func(t *testing.T) {
		svc, _ := newTestService(t, []cache.Configuration{
			{Name: "bounded", MaxElementsInMemory: 10},
		}, nil)

		for i := range 100 {
			require.NoError(t, svc.Store("bounded", fmt.Sprintf("key-%d", i), i))

			size, err := svc.CacheSize("bounded")
			require.NoError(t, err)
			require.LessOrEqual(t, size, 10)
		}

		size, err := svc.CacheSize("bounded")
		require.NoError(t, err)
		assert.Equal(t, 10, size)
	})

	t.Run("a single-element cache holds the last key", func(t *testing.T) {
		svc, _ := newTestService(t, []cache.Configuration{
			{Name: "single", MaxElementsInMemory: 1},
		}, nil)

		require.NoError(t, svc.Store("single", "first", 1))
		require.NoError(t, svc.Store("single", "second", 2))

		size, err := svc.CacheSize("single")
		require.NoError(t, err)
		assert.Equal(t, 1, size)

		v, err := svc.Get("single", "first")
		require.NoError(t, err)
		assert.Nil(t, v)

		v, err = svc.Get("single", "second")
		require.NoError(t, err)
		assert.Equal(t, 2, v)
	})
}

func TestClear(t *testing.T) {
	svc, _ := newTestService(t, []cache.Configuration{
		{Name: "one", MaxElementsInMemory: 10},
		{Name: "two", MaxElementsInMemory: 10},
	}, nil)

	require.NoError(t, svc.Store("one", "key", 1))
	require.NoError(t, svc.Store("two", "key", 2))

	t.Run("clear empties one cache", func(t *testing.T) {
		require.NoError(t, svc.Clear("one"))

		size, err := svc.CacheSize("one")
		require.NoError(t, err)
		assert.Equal(t, 0, size)

		size, err = svc.CacheSize("two")
		require.NoError(t, err)
		assert.Equal(t, 1, size)
	})

	t.Run("clearAll empties every cache", func(t *testing.T) {
		require.NoError(t, svc.Store("one", "key", 1))
		require.NoError(t, svc.ClearAll())

		for _, name := range []string{"one", "two"} {
			size, err := svc.CacheSize(name)
			require.NoError(t, err)
			assert.Equal(t, 0, size)
		}
	})
}

func TestStartStop(t *testing.T) {
	svc, _ := newTestService(t, []cache.Configuration{
		{Name: "work", MaxElementsInMemory: 10},
	}, nil)

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Store("work", "key", "value"))

	require.NoError(t, svc.Stop())

	size, err := svc.CacheSize("work")
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestReaperRemovesExpiredEntries(t *testing.T) {
	svc, fakeClock := newTestService(t, []cache.Configuration{
		{Name: "short", MaxElementsInMemory: 10, TimeToLive: time.Second},
	}, nil)

	require.NoError(t, svc.Store("short", "key", "value"))

	fakeClock.Step(2 * time.Second)
	svc.mu.RLock()
	for _, c := range svc.caches {
		c.removeExpired()
	}
	svc.mu.RUnlock()

	size, err := svc.CacheSize("short")
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}
