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
	"io"

	"github.com/tenantcore/components/metadata"
)

// RangeStore is the interface of the shared counter store backing the
// sequence manager. One counter row exists per (tenant, sequence); its value
// is the lower bound of the next range to hand out and only ever increases.
type RangeStore interface {
	io.Closer

	// Init this component.
	Init(ctx context.Context, metadata Metadata) error

	// Reserve advances the counter of (tenantID, sequenceID) by rangeSize in
	// one short-lived transaction and returns the reserved lower bound. The
	// returned block [lower, lower+rangeSize-1] belongs exclusively to the
	// caller. A missing counter row fails with ErrSequenceNotFound.
	//
	// Reserve is not serialized by the store itself: callers must hold the
	// distributed lock of the (tenant, sequence) while calling it.
	Reserve(ctx context.Context, tenantID, sequenceID, rangeSize int64) (int64, error)

	// Ping the backing store.
	Ping(ctx context.Context) error
}

// Metadata contains a range store specific set of metadata properties.
type Metadata struct {
	metadata.Base `json:",inline"`
}
