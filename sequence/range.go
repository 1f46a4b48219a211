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
	"sync/atomic"
)

// sequenceRange holds one contiguous block of IDs reserved for exclusive
// issuance by this process. nextID is the sole issuance point and is safe
// for concurrent callers; updateToNextRange must be serialized by the
// caller (the per-sequence monitor in the tenant manager).
type sequenceRange struct {
	size  int64
	state atomic.Pointer[rangeState]
}

// rangeState is an immutable-bounds block [next, last]. Each refill installs
// a fresh rangeState so a reader holding a stale one can only observe that
// block as exhausted, never cross into the new block mid-update.
type rangeState struct {
	next atomic.Int64
	last int64
}

// newSequenceRange returns a range created exhausted: the first caller has
// to refill before any ID is issued.
func newSequenceRange(size int64) *sequenceRange {
	r := &sequenceRange{size: size}
	s := &rangeState{last: -1}
	r.state.Store(s)
	return r
}

// nextID returns the next available ID and advances the cursor, or false if
// the range is exhausted. Lock-free.
func (r *sequenceRange) nextID() (int64, bool) {
	s := r.state.Load()
	for {
		next := s.next.Load()
		if next > s.last {
			return 0, false
		}
		if s.next.CompareAndSwap(next, next+1) {
			return next, true
		}
	}
}

// updateToNextRange resets the range to [start, start+size-1].
func (r *sequenceRange) updateToNextRange(start int64) {
	s := &rangeState{last: start + r.size - 1}
	s.next.Store(start)
	r.state.Store(s)
}
