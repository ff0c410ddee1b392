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

package hashtable

// grower tracks the power-of-two capacity of a Map's buffer, grounded on
// HashTable.h's Grower: state is a single exponent, capacity is 2^d, and
// the table is grown to keep the load factor at or below 0.5.
//
// initialSizeDegree mirrors the original's small default buffer (buffers
// with size 2^3 = 8): a freshly constructed Map allocates only this
// 8-cell buffer.
const initialSizeDegree = 3

// maxStepDegree is where the grower switches from adding two to its
// exponent (quadrupling the buffer) to adding one (doubling it), matching
// "while d < 23, increase by 2; afterwards by 1" from the spec.
const maxStepDegree = 23

type grower struct {
	degree uint8
}

func newGrower() grower {
	return grower{degree: initialSizeDegree}
}

// bufSize returns 2^d, the number of cells in the buffer.
func (g grower) bufSize() int {
	return 1 << g.degree
}

// mask returns 2^d - 1.
func (g grower) mask() uint64 {
	return uint64(g.bufSize() - 1)
}

// place computes the initial probe position for a hash value.
func (g grower) place(hash uint64) int {
	return int(hash & g.mask())
}

// next advances a probe position by one slot, wrapping around the buffer.
func (g grower) next(place int) int {
	return (place + 1) & (g.bufSize() - 1)
}

// overflow reports whether size has crossed the fill threshold (load
// factor > 0.5), requiring a resize before further growth.
func (g grower) overflow(size int) bool {
	return size > g.bufSize()/2
}

// increaseSize grows the degree by 2 while still small, then by 1, per the
// spec's growth rule.
func (g *grower) increaseSize() {
	if g.degree < maxStepDegree {
		g.degree += 2
	} else {
		g.degree++
	}
}
