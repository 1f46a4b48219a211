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

package redis

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dapr/kit/logger"

	"github.com/tenantcore/components/lock"
	"github.com/tenantcore/components/metadata"
)

const resourceID = "resource_xxx"

func TestStandaloneRedisLock_InitError(t *testing.T) {
	t.Run("error when connection fails", func(t *testing.T) {
		comp := NewStandaloneRedisLock(logger.NewLogger("test")).(*StandaloneRedisLock)
		defer comp.Close()

		cfg := lock.Metadata{Base: metadata.Base{
			Properties: make(map[string]string),
		}}
		cfg.Properties["redisHost"] = "127.0.0.1:9999" // Non-existent Redis port

		err := comp.InitLockStore(t.Context(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error connecting to Redis")
	})

	t.Run("error when no host", func(t *testing.T) {
		comp := NewStandaloneRedisLock(logger.NewLogger("test")).(*StandaloneRedisLock)
		defer comp.Close()

		cfg := lock.Metadata{Base: metadata.Base{
			Properties: make(map[string]string),
		}}
		cfg.Properties["redisHost"] = ""

		err := comp.InitLockStore(t.Context(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redisHost is empty")
	})

	t.Run("error when failover is requested", func(t *testing.T) {
		comp := NewStandaloneRedisLock(logger.NewLogger("test")).(*StandaloneRedisLock)
		defer comp.Close()

		cfg := lock.Metadata{Base: metadata.Base{
			Properties: make(map[string]string),
		}}
		cfg.Properties["redisHost"] = "127.0.0.1:6379"
		cfg.Properties["failover"] = "true"

		err := comp.InitLockStore(t.Context(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not support connecting to Redis with failover")
	})
}

func TestStandaloneRedisLock_TryLock(t *testing.T) {
	// start redis
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	comp := NewStandaloneRedisLock(logger.NewLogger("test")).(*StandaloneRedisLock)
	defer comp.Close()

	cfg := lock.Metadata{Base: metadata.Base{
		Properties: make(map[string]string),
	}}
	cfg.Properties["redisHost"] = s.Addr()

	err = comp.InitLockStore(t.Context(), cfg)
	require.NoError(t, err)

	// 1. client1 trylock
	owner1 := uuid.New().String()
	resp, err := comp.TryLock(t.Context(), &lock.TryLockRequest{
		ResourceID:      resourceID,
		LockOwner:       owner1,
		ExpiryInSeconds: 10,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	// 2. client2 trylock fails while held
	owner2 := uuid.New().String()
	resp, err = comp.TryLock(t.Context(), &lock.TryLockRequest{
		ResourceID:      resourceID,
		LockOwner:       owner2,
		ExpiryInSeconds: 10,
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	// 3. client1 unlock
	unlockResp, err := comp.Unlock(t.Context(), &lock.UnlockRequest{
		ResourceID: resourceID,
		LockOwner:  owner1,
	})
	require.NoError(t, err)
	assert.Equal(t, lock.Success, unlockResp.Status, "client1 failed to unlock!")

	// 4. client2 gets the lock now
	resp, err = comp.TryLock(t.Context(), &lock.TryLockRequest{
		ResourceID:      resourceID,
		LockOwner:       owner2,
		ExpiryInSeconds: 10,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success, "client2 failed to get lock?!")
}

func TestStandaloneRedisLock_Unlock(t *testing.T) {
	// start redis
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	comp := NewStandaloneRedisLock(logger.NewLogger("test")).(*StandaloneRedisLock)
	defer comp.Close()

	cfg := lock.Metadata{Base: metadata.Base{
		Properties: make(map[string]string),
	}}
	cfg.Properties["redisHost"] = s.Addr()

	err = comp.InitLockStore(t.Context(), cfg)
	require.NoError(t, err)

	t.Run("unlock non-existent lock", func(t *testing.T) {
		unlockResp, uerr := comp.Unlock(t.Context(), &lock.UnlockRequest{
			ResourceID: "not_locked",
			LockOwner:  uuid.New().String(),
		})
		require.NoError(t, uerr)
		assert.Equal(t, lock.LockDoesNotExist, unlockResp.Status)
	})

	t.Run("unlock with the wrong owner", func(t *testing.T) {
		owner := uuid.New().String()
		resp, terr := comp.TryLock(t.Context(), &lock.TryLockRequest{
			ResourceID:      resourceID,
			LockOwner:       owner,
			ExpiryInSeconds: 10,
		})
		require.NoError(t, terr)
		require.True(t, resp.Success)

		unlockResp, uerr := comp.Unlock(t.Context(), &lock.UnlockRequest{
			ResourceID: resourceID,
			LockOwner:  uuid.New().String(),
		})
		require.NoError(t, uerr)
		assert.Equal(t, lock.LockBelongsToOthers, unlockResp.Status)
	})
}
