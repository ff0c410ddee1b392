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

package quantile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashUint64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	return k
}

// TestAggregateMerge reproduces scenario 1 from §8: insert {(10,3),(20,5),
// (10,2)} into A and {(20,1),(30,4)} into B, merge B into A, round-trip
// through serialization, and finalize at level=0.5, expecting 20.
func TestAggregateMerge(t *testing.T) {
	a := New[uint64](hashUint64)
	a.Add(10, 3)
	a.Add(20, 5)
	a.Add(10, 2)

	b := New[uint64](hashUint64)
	b.Add(20, 1)
	b.Add(30, 4)

	a.Merge(b)

	var buf bytes.Buffer
	codec := Uint64Codec()
	require.NoError(t, a.Serialize(&buf, codec))

	c := New[uint64](hashUint64)
	require.NoError(t, c.DeserializeMerge(&buf, codec))

	require.Equal(t, uint64(20), c.Finalize(0.5))
}

func TestFinalizeLevelZeroIsMinimum(t *testing.T) {
	s := New[uint64](hashUint64)
	s.Add(30, 1)
	s.Add(10, 1)
	s.Add(20, 1)
	require.Equal(t, uint64(10), s.Finalize(0))
}

func TestFinalizeMonotone(t *testing.T) {
	s := New[uint64](hashUint64)
	s.Add(10, 5)
	s.Add(20, 6)
	s.Add(30, 4)

	v1 := s.Finalize(0.2)
	v2 := s.Finalize(0.9)
	require.LessOrEqual(t, v1, v2)
}

func TestFinalizeLevelsSortedMatchesIndependent(t *testing.T) {
	s := New[uint64](hashUint64)
	s.Add(10, 5)
	s.Add(20, 6)
	s.Add(30, 4)
	s.Add(40, 3)

	levels := []float64{0, 0.25, 0.5, 0.75, 1}
	got := s.FinalizeLevels(levels)
	for i, l := range levels {
		require.Equal(t, s.Finalize(l), got[i])
	}
}

func TestEmptyStateFinalizesToDefault(t *testing.T) {
	s := New[uint64](hashUint64)
	require.Equal(t, uint64(0), s.Finalize(0.5))
}
