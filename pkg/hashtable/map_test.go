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
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashUint64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	return k
}

func uint64Codec() Codec[uint64, uint64] {
	return Codec[uint64, uint64]{
		WriteKey: func(w io.Writer, k uint64) error { return binary.Write(w, binary.LittleEndian, k) },
		ReadKey: func(r io.Reader) (uint64, error) {
			var k uint64
			err := binary.Read(r, binary.LittleEndian, &k)
			return k, err
		},
		WriteValue: func(w io.Writer, v uint64) error { return binary.Write(w, binary.LittleEndian, v) },
		ReadValue: func(r io.Reader) (uint64, error) {
			var v uint64
			err := binary.Read(r, binary.LittleEndian, &v)
			return v, err
		},
	}
}

func TestInsertIdempotence(t *testing.T) {
	m := New[uint64, uint64](hashUint64)
	require.True(t, m.Insert(10, 1))
	require.Equal(t, 1, m.Size())
	require.False(t, m.Insert(10, 2))
	require.Equal(t, 1, m.Size())
	v := m.Find(10)
	require.NotNil(t, v)
	require.Equal(t, uint64(2), *v)
}

func TestZeroKeyIsolation(t *testing.T) {
	m := New[uint64, uint64](hashUint64)
	require.False(t, m.Has(0))
	require.True(t, m.Insert(0, 42))
	require.True(t, m.Has(0))
	require.Equal(t, 1, m.Size())

	var buf bytes.Buffer
	codec := uint64Codec()
	require.NoError(t, Serialize(&buf, m, codec))

	out, err := Deserialize[uint64, uint64](&buf, hashUint64, codec)
	require.NoError(t, err)
	require.True(t, out.Has(0))
	require.Equal(t, 1, out.Size())
}

func TestRoundTrip(t *testing.T) {
	m := New[uint64, uint64](hashUint64)
	want := map[uint64]uint64{1: 10, 2: 20, 0: 99, 500: 7}
	for k, v := range want {
		m.Insert(k, v)
	}

	var buf bytes.Buffer
	codec := uint64Codec()
	require.NoError(t, Serialize(&buf, m, codec))

	out, err := Deserialize[uint64, uint64](&buf, hashUint64, codec)
	require.NoError(t, err)
	require.Equal(t, m.Size(), out.Size())
	for k, v := range want {
		got := out.Find(k)
		require.NotNil(t, got)
		require.Equal(t, v, *got)
	}
}

func TestDensityBound(t *testing.T) {
	m := New[uint64, uint64](hashUint64)
	const n = 10000
	for i := uint64(1); i <= n; i++ {
		m.Insert(i, i)
	}
	require.Equal(t, n, m.Size())
	require.LessOrEqual(t, m.g.bufSize(), 4*m.Size()+(1<<initialSizeDegree))
}

func TestCellReaderMerge(t *testing.T) {
	m := New[uint64, uint64](hashUint64)
	m.Insert(10, 3)
	m.Insert(20, 5)

	var buf bytes.Buffer
	codec := uint64Codec()
	require.NoError(t, Serialize(&buf, m, codec))

	dest := New[uint64, uint64](hashUint64)
	dest.Insert(20, 1)
	dest.Insert(30, 4)

	cr, err := NewCellReader[uint64, uint64](&buf, codec)
	require.NoError(t, err)
	require.NoError(t, MergeFrom(dest, cr, func(a, b uint64) uint64 { return a + b }))

	v10 := dest.Find(10)
	require.NotNil(t, v10)
	require.Equal(t, uint64(3), *v10)
	v20 := dest.Find(20)
	require.NotNil(t, v20)
	require.Equal(t, uint64(6), *v20)
	v30 := dest.Find(30)
	require.NotNil(t, v30)
	require.Equal(t, uint64(4), *v30)
}

func TestResizeFailureReverts(t *testing.T) {
	old := maxBufSize
	maxBufSize = 1 << initialSizeDegree
	defer func() { maxBufSize = old }()

	m := New[uint64, uint64](hashUint64)
	threshold := m.g.bufSize() / 2
	for i := uint64(1); i <= uint64(threshold); i++ {
		require.True(t, m.Insert(i, i))
	}
	sizeBefore := m.Size()
	// The next insert crosses the fill threshold and forces a resize that
	// exceeds maxBufSize; Emplace must revert the just-written cell.
	v, isNew := m.Emplace(uint64(threshold) + 1)
	require.Nil(t, v)
	require.False(t, isNew)
	require.Equal(t, sizeBefore, m.Size())
}

func TestClearAndShrink(t *testing.T) {
	m := New[uint64, uint64](hashUint64)
	for i := uint64(1); i <= 1000; i++ {
		m.Insert(i, i)
	}
	require.Greater(t, m.g.bufSize(), 1<<initialSizeDegree)
	m.ClearAndShrink()
	require.Equal(t, 0, m.Size())
	require.Equal(t, 1<<initialSizeDegree, m.g.bufSize())
}
