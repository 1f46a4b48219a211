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

// Package cache defines the named-cache service: independently configured
// caches addressed by name, with bounded element counts, time-to-live
// expiry and optional defensive copies of shared mutable values.
package cache

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheNotConfigured is returned when a cache name has no declared
	// configuration and the service has no default one.
	ErrCacheNotConfigured = errors.New("cache is not configured")

	// ErrValueNotSerializable is returned when a value cannot be serialized
	// for a copy-on-read or copy-on-write cache. The store is rejected, the
	// value is never kept by reference.
	ErrValueNotSerializable = errors.New("value is not serializable")
)

// Error is a cache service failure scoped to one named cache.
type Error struct {
	Cache string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Cache, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration of one named cache. Configurations are declared once at
// service construction and addressed by name thereafter.
type Configuration struct {
	// Name of the cache.
	Name string
	// TimeToLive of an entry. Ignored when Eternal is set.
	TimeToLive time.Duration
	// MaxElementsInMemory bounds the element count; must be positive.
	MaxElementsInMemory int
	// Eternal entries never expire by TTL. They are still subject to the
	// element-count bound.
	Eternal bool
	// InMemoryOnly caches never overflow to another tier.
	InMemoryOnly bool
	// CopyOnRead returns a defensive copy on Get instead of the stored
	// reference.
	CopyOnRead bool
	// CopyOnWrite stores a defensive copy on Store instead of the caller's
	// reference.
	CopyOnWrite bool
}

// Service manages named caches. Implementations must never let a cache
// exceed its configured element bound, not even transiently.
type Service interface {
	// Store inserts or replaces the value for a key.
	Store(cacheName, key string, value any) error

	// Get returns the value for a key, or nil if absent or expired.
	Get(cacheName, key string) (any, error)

	// Clear removes all entries of one cache.
	Clear(cacheName string) error

	// ClearAll removes all entries of every cache.
	ClearAll() error

	// CacheSize returns the current element count of a cache.
	CacheSize(cacheName string) (int, error)

	// Keys returns the live keys of a cache.
	Keys(cacheName string) ([]string, error)

	// Start the service.
	Start() error

	// Stop the service and drop all entries.
	Stop() error
}
