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

import (
	"io"

	"github.com/cockroachdb/errors"
)

// CellReader streams cells from a binary-form hash map one at a time, for
// merge-in-place consumption (§4.A "Serialization"), instead of
// deserializing the remote side into its own Map before merging. quantile
// aggregates use this to merge a serialized remote state directly into a
// local Map without the intermediate allocation.
type CellReader[K comparable, V any] struct {
	r       io.Reader
	codec   Codec[K, V]
	remain  uint64
	started bool
}

// NewCellReader reads the leading varint size and prepares to stream that
// many cells from r.
func NewCellReader[K comparable, V any](r io.Reader, codec Codec[K, V]) (*CellReader[K, V], error) {
	size, err := readVarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "hashtable: reading size")
	}
	return &CellReader[K, V]{r: r, codec: codec, remain: size, started: true}, nil
}

// Next reads the next cell, reporting ok=false once every cell declared by
// the leading size has been consumed.
func (cr *CellReader[K, V]) Next() (key K, value V, ok bool, err error) {
	if cr.remain == 0 {
		return key, value, false, nil
	}
	key, err = cr.codec.ReadKey(cr.r)
	if err != nil {
		return key, value, false, errors.Wrap(err, "hashtable: reading key")
	}
	value, err = cr.codec.ReadValue(cr.r)
	if err != nil {
		return key, value, false, errors.Wrap(err, "hashtable: reading value")
	}
	cr.remain--
	return key, value, true, nil
}

// MergeFrom drains a CellReader into m, adding each (key, value) pair via
// combine (e.g. weight addition for quantile.State), the streaming
// counterpart to Deserialize.
func MergeFrom[K comparable, V any](m *Map[K, V], cr *CellReader[K, V], combine func(existing, incoming V) V) error {
	for {
		k, v, ok, err := cr.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if existing := m.Find(k); existing != nil {
			*existing = combine(*existing, v)
		} else {
			m.Insert(k, v)
		}
	}
}
