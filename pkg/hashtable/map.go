// Copyright 2024 The Cockroach Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package hashtable is a cache-efficient, open-addressed associative
// container tuned for aggregation state, grounded on
// dbms/src/Common/HashTable/HashTable.h and styled after the teacher's
// util/cache package and the pack's cockroachdb-swiss/map.go (a later,
// group-based open-addressing table from the same organization) for its
// generic, Go-native API surface.
//
// Unlike the C++ original, a Map here allocates a fresh buffer on resize
// rather than growing in place; this sidesteps the original's "continue
// walking past the old end because cells may belong to a wrap-around
// chain" subtlety, which only arises under in-place doubling.
package hashtable

import (
	"github.com/cockroachdb/errors"
)

// Hasher computes a 64-bit hash for a key. Callers supply one at
// construction time, the way the original parameterizes HashTable over a
// Hash template argument.
type Hasher[K comparable] func(key K) uint64

type cell[K comparable, V any] struct {
	key     K
	value   V
	present bool
}

// Map is an open-addressed hash map from K to V. It is not safe for
// concurrent use; per §5, each aggregate state built on it is owned by a
// single executor thread and merged under the caller's discipline.
type Map[K comparable, V any] struct {
	buf     []cell[K, V]
	g       grower
	size    int
	hash    Hasher[K]
	hasZero bool
	zero    cell[K, V]
}

// New constructs an empty Map using hash for key hashing.
func New[K comparable, V any](hash Hasher[K]) *Map[K, V] {
	return &Map[K, V]{
		buf:  make([]cell[K, V], newGrower().bufSize()),
		g:    newGrower(),
		hash: hash,
	}
}

func isZeroKey[K comparable](k K) bool {
	var z K
	return k == z
}

// Size returns the number of stored entries.
func (m *Map[K, V]) Size() int { return m.size }

// Empty reports whether the map holds no entries.
func (m *Map[K, V]) Empty() bool { return m.size == 0 }

// Clear removes all entries but keeps the current buffer allocation.
func (m *Map[K, V]) Clear() {
	for i := range m.buf {
		m.buf[i] = cell[K, V]{}
	}
	m.size = 0
	m.hasZero = false
	m.zero = cell[K, V]{}
}

// ClearAndShrink removes all entries and releases the buffer back to the
// initial small capacity.
func (m *Map[K, V]) ClearAndShrink() {
	m.g = newGrower()
	m.buf = make([]cell[K, V], m.g.bufSize())
	m.size = 0
	m.hasZero = false
	m.zero = cell[K, V]{}
}

// findPlace returns the buffer index holding key, or the first empty slot
// where it would be inserted, per the linear-probing rule in §4.A.
func (m *Map[K, V]) findPlace(key K, hash uint64) int {
	place := m.g.place(hash)
	for m.buf[place].present && m.buf[place].key != key {
		place = m.g.next(place)
	}
	return place
}

// Has reports whether key is present.
func (m *Map[K, V]) Has(key K) bool {
	if isZeroKey(key) {
		return m.hasZero
	}
	place := m.findPlace(key, m.hash(key))
	return m.buf[place].present
}

// Find returns a pointer to the value for key, or nil if absent. The
// pointer is valid until the next structural mutation (Insert/Emplace
// that triggers a resize, or Clear).
func (m *Map[K, V]) Find(key K) *V {
	if isZeroKey(key) {
		if !m.hasZero {
			return nil
		}
		return &m.zero.value
	}
	place := m.findPlace(key, m.hash(key))
	if !m.buf[place].present {
		return nil
	}
	return &m.buf[place].value
}

// Emplace inserts key if absent (leaving its value at the zero value of
// V) and returns a pointer to its value slot plus whether it was newly
// created, mirroring the original's emplace(key, out it, out inserted).
func (m *Map[K, V]) Emplace(key K) (value *V, isNew bool) {
	if isZeroKey(key) {
		isNew = !m.hasZero
		if isNew {
			m.hasZero = true
			m.size++
		}
		return &m.zero.value, isNew
	}

	hash := m.hash(key)
	place := m.findPlace(key, hash)
	if m.buf[place].present {
		return &m.buf[place].value, false
	}

	m.buf[place].key = key
	m.buf[place].present = true
	m.size++

	if m.g.overflow(m.size) {
		if err := m.resize(); err != nil {
			// Resize failure: revert the insertion that pushed us over the
			// threshold, per §4.A step 3 and §7's resource-exhaustion policy.
			m.buf[place] = cell[K, V]{}
			m.size--
			return nil, false
		}
		place = m.findPlace(key, hash)
	}
	return &m.buf[place].value, true
}

// Insert sets key to value, returning whether the key was newly created.
func (m *Map[K, V]) Insert(key K, value V) bool {
	v, isNew := m.Emplace(key)
	if v == nil {
		return false
	}
	*v = value
	return isNew
}

// resize grows the buffer to the next grower capacity and reinserts every
// occupied cell. Allocation failure cannot be modeled in Go the way it can
// in the original (no placement-new to fail); the error return exists so
// callers and tests can exercise the §7 resource-exhaustion contract via
// a size cap (see maxBufSize, set by TestResizeFailureReverts in
// map_test.go).
func (m *Map[K, V]) resize() error {
	old := m.buf
	newGrower := m.g
	newGrower.increaseSize()

	if maxBufSize > 0 && newGrower.bufSize() > maxBufSize {
		return errors.Newf("hashtable: resize to %d cells exceeds configured maximum %d", newGrower.bufSize(), maxBufSize)
	}

	m.buf = make([]cell[K, V], newGrower.bufSize())
	m.g = newGrower

	for _, c := range old {
		if !c.present {
			continue
		}
		place := m.findPlace(c.key, m.hash(c.key))
		m.buf[place] = c
	}
	return nil
}

// maxBufSize optionally caps buffer growth, for exercising the
// resource-exhaustion path in tests; zero means unbounded.
var maxBufSize int

// Iterate calls fn for every present entry, including the zero-key side
// slot if occupied, stopping early if fn returns false. Order is buffer
// order with the zero key visited first, matching the serialization order
// in §4.A ("if zero-key present, write its cell; then every non-empty
// cell in buffer order").
func (m *Map[K, V]) Iterate(fn func(key K, value V) bool) {
	if m.hasZero {
		if !fn(m.zero.key, m.zero.value) {
			return
		}
	}
	for _, c := range m.buf {
		if !c.present {
			continue
		}
		if !fn(c.key, c.value) {
			return
		}
	}
}
