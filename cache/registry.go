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

package cache

import (
	"errors"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry hands out one Service per tenant, so cached state of one tenant
// is never reachable from another. Services are created lazily from the
// factory and started on first use.
type Registry struct {
	factory  func(tenantID int64) Service
	services *xsync.MapOf[int64, Service]
}

// NewRegistry builds a tenant cache registry. The factory is called once per
// tenant, on first use.
func NewRegistry(factory func(tenantID int64) Service) *Registry {
	return &Registry{
		factory:  factory,
		services: xsync.NewMapOf[int64, Service](),
	}
}

// ServiceFor returns the cache service of a tenant, creating and starting it
// on first use.
func (r *Registry) ServiceFor(tenantID int64) (Service, error) {
	svc, loaded := r.services.LoadOrCompute(tenantID, func() Service {
		return r.factory(tenantID)
	})
	if !loaded {
		if err := svc.Start(); err != nil {
			r.services.Delete(tenantID)
			return nil, err
		}
	}

	return svc, nil
}

// StopTenant stops and drops the cache service of one tenant, typically when
// the tenant is paused or stopped.
func (r *Registry) StopTenant(tenantID int64) error {
	if svc, ok := r.services.LoadAndDelete(tenantID); ok {
		return svc.Stop()
	}
	return nil
}

// StopAll stops and drops every tenant cache service.
func (r *Registry) StopAll() error {
	var errs []error
	r.services.Range(func(tenantID int64, _ Service) bool {
		if svc, ok := r.services.LoadAndDelete(tenantID); ok {
			if err := svc.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		return true
	})

	return errors.Join(errs...)
}
