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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dapr/kit/logger"
	"github.com/redis/go-redis/v9"

	"github.com/tenantcore/components/lock"
)

const unlockScript = `local v = redis.call("get",KEYS[1]); if v==false then return -1 end; if v~=ARGV[1] then return -2 else return redis.call("del",KEYS[1]) end`

// StandaloneRedisLock is a standalone Redis lock store.
// Any fail-over related features are not supported, such as Sentinel and Redis Cluster.
type StandaloneRedisLock struct {
	client   *redis.Client
	settings *Settings

	logger logger.Logger
}

// NewStandaloneRedisLock returns a new standalone redis lock store.
// Do not use this lock with a redis cluster, which might lead to unexpected lock loss.
func NewStandaloneRedisLock(logger logger.Logger) lock.Store {
	return &StandaloneRedisLock{
		logger: logger,
	}
}

// InitLockStore initializes the Redis client from the lock store metadata.
func (r *StandaloneRedisLock) InitLockStore(ctx context.Context, metadata lock.Metadata) error {
	settings := &Settings{}
	err := settings.Decode(metadata.Properties)
	if err != nil {
		return err
	}
	r.settings = settings

	// Ensure we have a host
	if settings.Host == "" {
		return errors.New("metadata property redisHost is empty")
	}

	// We do not support failover or having replicas
	if settings.Failover {
		return errors.New("this component does not support connecting to Redis with failover")
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:         settings.Host,
		Username:     settings.Username,
		Password:     settings.Password,
		DB:           settings.DB,
		MaxRetries:   settings.RedisMaxRetries,
		DialTimeout:  settings.DialTimeout,
		ReadTimeout:  settings.ReadTimeout,
		WriteTimeout: settings.WriteTimeout,
	})

	// Ping Redis to ensure the connection is up
	if _, err = r.client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("error connecting to Redis: %v", err)
	}
	return nil
}

// TryLock tries to acquire a lock.
// If the lock cannot be acquired, it returns immediately.
func (r *StandaloneRedisLock) TryLock(ctx context.Context, req *lock.TryLockRequest) (*lock.TryLockResponse, error) {
	// Set a key if doesn't exist with an expiration time
	nxval, err := r.client.SetNX(ctx, req.ResourceID, req.LockOwner, time.Second*time.Duration(req.ExpiryInSeconds)).Result()
	if err != nil {
		return &lock.TryLockResponse{}, err
	}

	return &lock.TryLockResponse{
		Success: nxval,
	}, nil
}

// Unlock tries to release a lock if the lock is still valid.
func (r *StandaloneRedisLock) Unlock(ctx context.Context, req *lock.UnlockRequest) (*lock.UnlockResponse, error) {
	// Delegate to client.eval lua script
	eval := r.client.Eval(ctx, unlockScript, []string{req.ResourceID}, req.LockOwner)
	if eval == nil {
		return &lock.UnlockResponse{
			Status: lock.InternalError,
		}, errors.New("eval unlock script returned a nil response")
	}
	i, err := eval.Int()
	if err != nil {
		return &lock.UnlockResponse{
			Status: lock.InternalError,
		}, err
	}

	var status lock.Status
	switch {
	case i >= 0:
		status = lock.Success
	case i == -1:
		status = lock.LockDoesNotExist
	case i == -2:
		status = lock.LockBelongsToOthers
	default:
		status = lock.InternalError
	}

	return &lock.UnlockResponse{
		Status: status,
	}, nil
}

// Close shuts down the client's redis connections.
func (r *StandaloneRedisLock) Close() error {
	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}
