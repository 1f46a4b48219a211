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
	"errors"
	"fmt"
)

var (
	// ErrEntityNotMapped is returned when no sequence is mapped for an entity name.
	// This is a configuration error and is never retried.
	ErrEntityNotMapped = errors.New("no sequence mapped for entity")

	// ErrSequenceNotFound is returned when the counter row for a tenant and
	// sequence does not exist in the range store. This is a configuration
	// error and is never retried.
	ErrSequenceNotFound = errors.New("sequence not found")
)

// LockError is returned when the distributed lock guarding a counter refill
// cannot be acquired or released. Callers must treat it as fatal for the
// in-flight operation: proceeding without the lock risks duplicate IDs.
type LockError struct {
	Op         string
	ResourceID string
	Err        error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("failed to %s lock on %s: %v", e.Op, e.ResourceID, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// AllocationError is returned when a counter refill did not complete within
// the configured retry budget.
type AllocationError struct {
	TenantID   int64
	SequenceID int64
	Attempts   int
	Err        error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("failed to allocate a range for sequence %d of tenant %d after %d attempts: %v",
		e.SequenceID, e.TenantID, e.Attempts, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}
