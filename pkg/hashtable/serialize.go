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
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gogo/protobuf/proto"

	"github.com/jcdang/ClickHouse/pkg/util/log"
)

// Codec supplies the per-key/value serialization behavior a Map needs to
// round-trip through the binary and text wire forms. This is the Go
// realization of the "cell capability set" design note ({getKey, isZero,
// serialize, deserialize, setHash}): rather than a template parameter,
// callers hand in the codec functions they need.
type Codec[K comparable, V any] struct {
	WriteKey   func(w io.Writer, k K) error
	ReadKey    func(r io.Reader) (K, error)
	WriteValue func(w io.Writer, v V) error
	ReadValue  func(r io.Reader) (V, error)
	TextKey    func(k K) string
	TextValue  func(v V) string
}

func writeVarint(w io.Writer, n uint64) error {
	_, err := w.Write(proto.EncodeVarint(n))
	return err
}

func readVarint(r io.Reader) (uint64, error) {
	var buf []byte
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		buf = append(buf, b)
		if b&0x80 == 0 {
			break
		}
	}
	v, n := proto.DecodeVarint(buf)
	if n != len(buf) {
		return 0, errors.New("hashtable: malformed varint")
	}
	return v, nil
}

// Serialize writes the binary wire form described in §6: a varint size,
// the zero-key cell if present, then every non-empty cell in buffer
// order.
func Serialize[K comparable, V any](w io.Writer, m *Map[K, V], codec Codec[K, V]) error {
	var body bytes.Buffer
	if err := writeVarint(&body, uint64(m.Size())); err != nil {
		return err
	}
	var werr error
	m.Iterate(func(k K, v V) bool {
		if werr = codec.WriteKey(&body, k); werr != nil {
			return false
		}
		if werr = codec.WriteValue(&body, v); werr != nil {
			return false
		}
		return true
	})
	if werr != nil {
		return werr
	}
	n, err := w.Write(body.Bytes())
	if err != nil {
		return err
	}
	log.VEventf(2, "hashtable: serialized %d entries (%s)", m.Size(), log.Bytes(uint64(n)))
	return nil
}

// Deserialize reads the binary wire form produced by Serialize into a
// fresh Map. A size that cannot plausibly be allocated (sanity-checked
// against maxBufSize when set) fails with a NO_AVAILABLE_DATA-flavored
// error and leaves no partially-built map behind, per §4.A "Failure".
func Deserialize[K comparable, V any](r io.Reader, hash Hasher[K], codec Codec[K, V]) (*Map[K, V], error) {
	size, err := readVarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "hashtable: reading size")
	}
	if maxBufSize > 0 && size > uint64(maxBufSize) {
		return nil, errors.Newf("hashtable: NO_AVAILABLE_DATA: claimed size %d exceeds maximum %d", size, maxBufSize)
	}

	m := New[K, V](hash)
	for i := uint64(0); i < size; i++ {
		k, err := codec.ReadKey(r)
		if err != nil {
			return nil, errors.Wrap(err, "hashtable: reading key")
		}
		v, err := codec.ReadValue(r)
		if err != nil {
			return nil, errors.Wrap(err, "hashtable: reading value")
		}
		m.Insert(k, v)
	}
	return m, nil
}

// SerializeText writes the `size[,cell][,cell]…` text wire form from §6,
// with each cell rendered as a double-quoted literal.
func SerializeText[K comparable, V any](w io.Writer, m *Map[K, V], codec Codec[K, V]) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", m.Size())
	m.Iterate(func(k K, v V) bool {
		fmt.Fprintf(&b, ",%q", fmt.Sprintf("%s:%s", codec.TextKey(k), codec.TextValue(v)))
		return true
	})
	_, err := io.WriteString(w, b.String())
	return err
}
