// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package binarch

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/google/uuid"
)

// ByteBuffer is the primitive payload reader/writer of §4.2. It is the
// buffer-backed counterpart of the stream grammar: callers drive it
// sequentially, and it never validates ordering on its own (that contract
// lives in Archive, §4.6).
//
// Wire format is little-endian throughout, regardless of host endianness:
// encoding/binary.LittleEndian already guarantees that, so there is no
// separate byte-swap step to write on a big-endian host.
type ByteBuffer struct {
	data        []byte
	readerIndex int
}

// NewByteBuffer creates a write buffer when data is nil, or wraps data for
// reading otherwise (reader index starts at zero, writer index at len(data)).
func NewByteBuffer(data []byte) *ByteBuffer {
	if data == nil {
		return &ByteBuffer{data: make([]byte, 0, 64)}
	}
	return &ByteBuffer{data: data}
}

func (b *ByteBuffer) WriterIndex() int { return len(b.data) }
func (b *ByteBuffer) ReaderIndex() int { return b.readerIndex }
func (b *ByteBuffer) SetReaderIndex(i int) { b.readerIndex = i }
func (b *ByteBuffer) Remaining() int    { return len(b.data) - b.readerIndex }

// GetByteSlice returns the bytes in [start, end) without copying.
func (b *ByteBuffer) GetByteSlice(start, end int) []byte { return b.data[start:end] }

// Bytes returns the full written slice.
func (b *ByteBuffer) Bytes() []byte { return b.data }

func (b *ByteBuffer) grow(n int) []byte {
	start := len(b.data)
	b.data = append(b.data, make([]byte, n)...)
	return b.data[start:]
}

func (b *ByteBuffer) ensure(n int) error {
	if b.readerIndex+n > len(b.data) {
		return ErrTruncatedInput
	}
	return nil
}

// --- fixed-width primitives (§4.2, Speed mode) ---

func (b *ByteBuffer) WriteBool(v bool) {
	if v {
		b.WriteByte_(1)
	} else {
		b.WriteByte_(0)
	}
}

func (b *ByteBuffer) ReadBool() (bool, error) {
	v, err := b.ReadByte_()
	return v != 0, err
}

func (b *ByteBuffer) WriteByte_(v byte) { b.data = append(b.data, v) }

func (b *ByteBuffer) ReadByte_() (byte, error) {
	if err := b.ensure(1); err != nil {
		return 0, err
	}
	v := b.data[b.readerIndex]
	b.readerIndex++
	return v, nil
}

func (b *ByteBuffer) WriteInt8(v int8) { b.WriteByte_(byte(v)) }
func (b *ByteBuffer) ReadInt8() (int8, error) {
	v, err := b.ReadByte_()
	return int8(v), err
}

func (b *ByteBuffer) WriteChar(v uint16) { binary.LittleEndian.PutUint16(b.grow(2), v) }
func (b *ByteBuffer) ReadChar() (uint16, error) {
	if err := b.ensure(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(b.data[b.readerIndex:])
	b.readerIndex += 2
	return v, nil
}

func (b *ByteBuffer) WriteInt16(v int16) { binary.LittleEndian.PutUint16(b.grow(2), uint16(v)) }
func (b *ByteBuffer) ReadInt16() (int16, error) {
	v, err := b.ReadChar()
	return int16(v), err
}

func (b *ByteBuffer) WriteUint16(v uint16) { b.WriteChar(v) }
func (b *ByteBuffer) ReadUint16() (uint16, error) { return b.ReadChar() }

func (b *ByteBuffer) WriteInt32(v int32) { binary.LittleEndian.PutUint32(b.grow(4), uint32(v)) }
func (b *ByteBuffer) ReadInt32() (int32, error) {
	if err := b.ensure(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.data[b.readerIndex:])
	b.readerIndex += 4
	return int32(v), nil
}

func (b *ByteBuffer) WriteUint32(v uint32) { binary.LittleEndian.PutUint32(b.grow(4), v) }
func (b *ByteBuffer) ReadUint32() (uint32, error) {
	v, err := b.ReadInt32()
	return uint32(v), err
}

func (b *ByteBuffer) WriteInt64(v int64) { binary.LittleEndian.PutUint64(b.grow(8), uint64(v)) }
func (b *ByteBuffer) ReadInt64() (int64, error) {
	if err := b.ensure(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(b.data[b.readerIndex:])
	b.readerIndex += 8
	return int64(v), nil
}

func (b *ByteBuffer) WriteUint64(v uint64) { binary.LittleEndian.PutUint64(b.grow(8), v) }
func (b *ByteBuffer) ReadUint64() (uint64, error) {
	v, err := b.ReadInt64()
	return uint64(v), err
}

func (b *ByteBuffer) WriteFloat32(v float32) { b.WriteUint32(math.Float32bits(v)) }
func (b *ByteBuffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

func (b *ByteBuffer) WriteFloat64(v float64) { b.WriteUint64(math.Float64bits(v)) }
func (b *ByteBuffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

// --- variable-length primitives (§4.2, Size mode) ---

func (b *ByteBuffer) WriteVarInt32(v int32)  { b.data = AppendVarInt32(b.data, v) }
func (b *ByteBuffer) WriteVarUint32(v uint32) { b.data = AppendVarUint32(b.data, v) }
func (b *ByteBuffer) WriteVarInt64(v int64)  { b.data = AppendVarInt64(b.data, v) }
func (b *ByteBuffer) WriteVarUint64(v uint64) { b.data = AppendVarUint64(b.data, v) }

func (b *ByteBuffer) ReadVarInt32() (int32, error) {
	v, n, err := ReadVarInt32(b.data, b.readerIndex)
	b.readerIndex += n
	return v, err
}

func (b *ByteBuffer) ReadVarUint32() (uint32, error) {
	v, n, err := ReadVarUint32(b.data, b.readerIndex)
	b.readerIndex += n
	return v, err
}

func (b *ByteBuffer) ReadVarInt64() (int64, error) {
	v, n, err := ReadVarInt64(b.data, b.readerIndex)
	b.readerIndex += n
	return v, err
}

func (b *ByteBuffer) ReadVarUint64() (uint64, error) {
	v, n, err := ReadVarUint64(b.data, b.readerIndex)
	b.readerIndex += n
	return v, err
}

// --- length-prefixed binary / string payloads ---

func (b *ByteBuffer) WriteBinary(data []byte) {
	b.WriteVarUint32(uint32(len(data)))
	b.data = append(b.data, data...)
}

func (b *ByteBuffer) ReadBinary() ([]byte, error) {
	n, err := b.ReadVarUint32()
	if err != nil {
		return nil, err
	}
	if err := b.ensure(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[b.readerIndex:b.readerIndex+int(n)])
	b.readerIndex += int(n)
	return out, nil
}

// WriteRaw appends data with no length prefix; callers that already framed
// the length themselves (e.g. stringIDTable) use this instead of WriteBinary.
func (b *ByteBuffer) WriteRaw(data []byte) { b.data = append(b.data, data...) }

// ReadRaw reads exactly n unprefixed bytes, the counterpart to WriteRaw.
func (b *ByteBuffer) ReadRaw(n int) ([]byte, error) {
	if err := b.ensure(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[b.readerIndex:b.readerIndex+n])
	b.readerIndex += n
	return out, nil
}

func (b *ByteBuffer) WriteString_(s string) { b.WriteBinary(unsafeStringBytes(s)) }

func (b *ByteBuffer) ReadString_() (string, error) {
	data, err := b.ReadBinary()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unsafeStringBytes views s's bytes without copying, mirroring the
// teacher's unsafeGetBytes helper (type.go).
func unsafeStringBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// --- decimal (§4.2: 16-byte decimal, four 32-bit little-endian lanes) ---

// Decimal mirrors the four-lane layout used by .NET-style archives: low,
// mid, and high 32-bit words of the 96-bit integer, plus a flags word
// carrying sign (bit 31) and scale (bits 16-23).
type Decimal struct {
	Lo, Mid, Hi, Flags uint32
}

func (b *ByteBuffer) WriteDecimal(d Decimal) {
	b.WriteUint32(d.Lo)
	b.WriteUint32(d.Mid)
	b.WriteUint32(d.Hi)
	b.WriteUint32(d.Flags)
}

func (b *ByteBuffer) ReadDecimal() (Decimal, error) {
	var d Decimal
	var err error
	if d.Lo, err = b.ReadUint32(); err != nil {
		return d, err
	}
	if d.Mid, err = b.ReadUint32(); err != nil {
		return d, err
	}
	if d.Hi, err = b.ReadUint32(); err != nil {
		return d, err
	}
	if d.Flags, err = b.ReadUint32(); err != nil {
		return d, err
	}
	return d, nil
}

// --- GUID (§4.2: RFC-4122 byte order), backed by google/uuid ---

func (b *ByteBuffer) WriteGuid(u uuid.UUID) {
	raw := u
	b.data = append(b.data, raw[:]...)
}

func (b *ByteBuffer) ReadGuid() (uuid.UUID, error) {
	if err := b.ensure(16); err != nil {
		return uuid.UUID{}, err
	}
	u, err := uuid.FromBytes(b.data[b.readerIndex : b.readerIndex+16])
	if err != nil {
		return uuid.UUID{}, err
	}
	b.readerIndex += 16
	return u, nil
}

// --- date/time kinds (§4.2) ---

// DateTimeKind mirrors the Unspecified/Utc/Local trichotomy carried
// alongside a DateTime's ticks.
type DateTimeKind byte

const (
	DateTimeUnspecified DateTimeKind = 0
	DateTimeUtc         DateTimeKind = 1
	DateTimeLocal       DateTimeKind = 2
)

func (b *ByteBuffer) WriteDateTime(ticks int64, kind DateTimeKind) {
	b.WriteInt64(ticks)
	b.WriteByte_(byte(kind))
}

func (b *ByteBuffer) ReadDateTime() (int64, DateTimeKind, error) {
	ticks, err := b.ReadInt64()
	if err != nil {
		return 0, 0, err
	}
	kind, err := b.ReadByte_()
	return ticks, DateTimeKind(kind), err
}

func (b *ByteBuffer) WriteDateTimeOffset(ticks int64, offsetMinutes int16) {
	b.WriteInt64(ticks)
	b.WriteInt16(offsetMinutes)
}

func (b *ByteBuffer) ReadDateTimeOffset() (int64, int16, error) {
	ticks, err := b.ReadInt64()
	if err != nil {
		return 0, 0, err
	}
	off, err := b.ReadInt16()
	return ticks, off, err
}

func (b *ByteBuffer) WriteDateOnly(daysSinceEpoch int32) { b.WriteInt32(daysSinceEpoch) }
func (b *ByteBuffer) ReadDateOnly() (int32, error)       { return b.ReadInt32() }

func (b *ByteBuffer) WriteTimeOnly(ticks int64) { b.WriteInt64(ticks) }
func (b *ByteBuffer) ReadTimeOnly() (int64, error) { return b.ReadInt64() }
