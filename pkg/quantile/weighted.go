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

// Package quantile implements the weighted-quantile aggregate described in
// §4.B, grounded on
// dbms/include/DB/AggregateFunctions/AggregateFunctionQuantileExactWeighted.h.
// It exists primarily to demonstrate the usage contract hashtable.Map must
// satisfy: accumulate value→weight pairs, merge two states, serialize, and
// finalize to a quantile.
package quantile

import (
	"encoding/binary"
	"io"
	"sort"

	"golang.org/x/exp/constraints"

	"github.com/jcdang/ClickHouse/pkg/hashtable"
)

// State accumulates value→weight pairs for a single quantileExactWeighted
// aggregation. V is the observed value's numeric type; weights are always
// unsigned 64-bit, per §4.B.
type State[V constraints.Ordered] struct {
	counts *hashtable.Map[V, uint64]
}

// New constructs an empty State. hash hashes a value of type V; callers
// pick a hash appropriate to V (e.g. a numeric mix function for integers).
func New[V constraints.Ordered](hash hashtable.Hasher[V]) *State[V] {
	return &State[V]{counts: hashtable.New[V, uint64](hash)}
}

// Add accumulates weight w for value v: map[v] += w.
func (s *State[V]) Add(v V, w uint64) {
	if existing := s.counts.Find(v); existing != nil {
		*existing += w
		return
	}
	s.counts.Insert(v, w)
}

// Merge folds other's accumulated weights into s.
func (s *State[V]) Merge(other *State[V]) {
	other.counts.Iterate(func(v V, w uint64) bool {
		s.Add(v, w)
		return true
	})
}

// Empty reports whether no values have been observed.
func (s *State[V]) Empty() bool { return s.counts.Empty() }

// entry pairs a value with its accumulated weight, for the sort step in
// Finalize/FinalizeLevels.
type entry[V constraints.Ordered] struct {
	value  V
	weight uint64
}

func (s *State[V]) sortedEntries() []entry[V] {
	entries := make([]entry[V], 0, s.counts.Size())
	s.counts.Iterate(func(v V, w uint64) bool {
		entries = append(entries, entry[V]{value: v, weight: w})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].value < entries[j].value })
	return entries
}

// Finalize computes the weighted quantile at level (in [0,1]) per the scan
// rule in §4.B: sort by value ascending, accumulate weights until the
// running sum reaches floor(totalWeight * level), returning the value at
// which that threshold was crossed. Falling off the end returns the
// largest value; an empty state returns the default value of V.
func (s *State[V]) Finalize(level float64) V {
	var zero V
	if s.Empty() {
		return zero
	}
	entries := s.sortedEntries()

	var total uint64
	for _, e := range entries {
		total += e.weight
	}
	threshold := uint64(float64(total) * level)

	var acc uint64
	for _, e := range entries {
		acc += e.weight
		if acc >= threshold {
			return e.value
		}
	}
	return entries[len(entries)-1].value
}

// FinalizeLevels computes one value per requested level. If levels is
// already sorted ascending, a single linear scan across the sorted
// entries services all of them (ClickHouse's getManyImpl); otherwise each
// level is evaluated independently via Finalize.
func (s *State[V]) FinalizeLevels(levels []float64) []V {
	result := make([]V, len(levels))
	if s.Empty() || len(levels) == 0 {
		return result
	}

	if !sort.Float64sAreSorted(levels) {
		for i, l := range levels {
			result[i] = s.Finalize(l)
		}
		return result
	}

	entries := s.sortedEntries()
	var total uint64
	for _, e := range entries {
		total += e.weight
	}

	var acc uint64
	idx := 0
	last := entries[0].value
	for i, level := range levels {
		threshold := uint64(float64(total) * level)
		for idx < len(entries) && acc < threshold {
			acc += entries[idx].weight
			last = entries[idx].value
			idx++
		}
		result[i] = last
	}
	return result
}

// fixedCodec builds a hashtable.Codec for a fixed-width little-endian
// numeric type, the only family State is parameterized over in practice.
func fixedCodec[V constraints.Ordered](
	writeV func(io.Writer, V) error, readV func(io.Reader) (V, error),
) hashtable.Codec[V, uint64] {
	return hashtable.Codec[V, uint64]{
		WriteKey:   writeV,
		ReadKey:    readV,
		WriteValue: func(w io.Writer, v uint64) error { return binary.Write(w, binary.LittleEndian, v) },
		ReadValue: func(r io.Reader) (uint64, error) {
			var v uint64
			err := binary.Read(r, binary.LittleEndian, &v)
			return v, err
		},
	}
}

// Uint64Codec is the Codec for State[uint64], the common case for
// integer-valued columns.
func Uint64Codec() hashtable.Codec[uint64, uint64] {
	return fixedCodec[uint64](
		func(w io.Writer, v uint64) error { return binary.Write(w, binary.LittleEndian, v) },
		func(r io.Reader) (uint64, error) {
			var v uint64
			err := binary.Read(r, binary.LittleEndian, &v)
			return v, err
		},
	)
}

// Serialize writes the state's binary form via the hash map's wire
// protocol (§4.B "serialize/deserialize_merge: via the map's binary
// form").
func (s *State[V]) Serialize(w io.Writer, codec hashtable.Codec[V, uint64]) error {
	return hashtable.Serialize(w, s.counts, codec)
}

// DeserializeMerge reads a serialized state from r and merges it into s,
// without materializing an intermediate State, via hashtable.CellReader.
func (s *State[V]) DeserializeMerge(r io.Reader, codec hashtable.Codec[V, uint64]) error {
	cr, err := hashtable.NewCellReader(r, codec)
	if err != nil {
		return err
	}
	return hashtable.MergeFrom(s.counts, cr, func(existing, incoming uint64) uint64 { return existing + incoming })
}
