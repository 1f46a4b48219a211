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
	"fmt"
)

// Mapping declares which entity class names share a sequence, and how large
// a block of IDs to reserve per refill. Mappings are loaded once at startup
// and are immutable thereafter.
type Mapping struct {
	// ClassNames are the entity class names served by this sequence.
	ClassNames []string
	// SequenceID identifies the backing counter row.
	SequenceID int64
	// RangeSize is the number of IDs reserved per refill.
	// Zero means the registry's default range size.
	RangeSize int64
}

// MappingRegistry resolves entity names to sequence IDs and sequence IDs to
// range sizes. It is built once and is safe for concurrent readers.
type MappingRegistry struct {
	sequences        map[string]int64
	rangeSizes       map[int64]int64
	defaultRangeSize int64
}

// NewMappingRegistry validates the mappings and builds the lookup tables.
func NewMappingRegistry(mappings []Mapping, defaultRangeSize int64) (*MappingRegistry, error) {
	if defaultRangeSize <= 0 {
		return nil, fmt.Errorf("default range size must be positive, got %d", defaultRangeSize)
	}

	r := &MappingRegistry{
		sequences:        make(map[string]int64),
		rangeSizes:       make(map[int64]int64, len(mappings)),
		defaultRangeSize: defaultRangeSize,
	}

	for _, m := range mappings {
		if len(m.ClassNames) == 0 {
			return nil, fmt.Errorf("mapping for sequence %d declares no class names", m.SequenceID)
		}
		if m.RangeSize < 0 {
			return nil, fmt.Errorf("mapping for sequence %d has a negative range size", m.SequenceID)
		}
		if _, ok := r.rangeSizes[m.SequenceID]; ok {
			return nil, fmt.Errorf("sequence %d is declared by more than one mapping", m.SequenceID)
		}

		size := m.RangeSize
		if size == 0 {
			size = defaultRangeSize
		}
		r.rangeSizes[m.SequenceID] = size

		for _, name := range m.ClassNames {
			if _, ok := r.sequences[name]; ok {
				return nil, fmt.Errorf("entity %q is mapped to more than one sequence", name)
			}
			r.sequences[name] = m.SequenceID
		}
	}

	return r, nil
}

// SequenceFor returns the sequence ID mapped to an entity name.
func (r *MappingRegistry) SequenceFor(entityName string) (int64, bool) {
	id, ok := r.sequences[entityName]
	return id, ok
}

// RangeSizeFor returns the range size of a sequence, falling back to the
// default range size for sequences without an explicit one.
func (r *MappingRegistry) RangeSizeFor(sequenceID int64) int64 {
	if size, ok := r.rangeSizes[sequenceID]; ok {
		return size
	}
	return r.defaultRangeSize
}
