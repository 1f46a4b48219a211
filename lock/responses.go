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

package lock

// TryLockResponse is the response of a TryLock request.
type TryLockResponse struct {
	Success bool `json:"success"`
}

// UnlockResponse is the response of an Unlock request.
type UnlockResponse struct {
	Status Status `json:"status"`
}

// Status of an Unlock operation.
type Status int32

const (
	// Success means the lock was released.
	Success Status = 0
	// LockDoesNotExist means the lock is not found on the store, it may have expired.
	LockDoesNotExist Status = 1
	// LockBelongsToOthers means the lock is held by a different owner.
	LockBelongsToOthers Status = 2
	// InternalError means the store failed to determine the lock state.
	InternalError Status = 3
)
