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

import "io"

// LEB128 variable-length integer codec, §4.1. Unsigned variants use the
// standard seven-bits-per-byte encoding; signed variants use standard signed
// LEB128 (sign-extend from the last payload byte), not zig-zag.

const (
	maxVarint32Bytes = 5
	maxVarint64Bytes = 10
)

// VarUint32ByteCount returns the number of bytes WriteVarUint32 would emit
// for v, without writing anything.
func VarUint32ByteCount(v uint32) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

// AppendVarUint32 appends v's LEB128 unsigned encoding to dst and returns the
// extended slice.
func AppendVarUint32(dst []byte, v uint32) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// WriteVarUint32At writes v's LEB128 unsigned encoding into buf starting at
// offset and returns the number of bytes written. buf must have enough
// room (VarUint32ByteCount(v) bytes from offset).
func WriteVarUint32At(buf []byte, offset int, v uint32) int {
	i := offset
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	return i - offset + 1
}

// ReadVarUint32 decodes an unsigned LEB128 value from buf starting at
// offset, returning the value and the number of bytes consumed.
func ReadVarUint32(buf []byte, offset int) (uint32, int, error) {
	var result uint32
	var shift uint
	for i := 0; i < maxVarint32Bytes; i++ {
		pos := offset + i
		if pos >= len(buf) {
			return 0, 0, ErrTruncatedInput
		}
		b := buf[pos]
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrOverflow
}

// ReadVarUint32FromStream decodes an unsigned LEB128 value one byte at a
// time from r.
func ReadVarUint32FromStream(r io.ByteReader) (uint32, error) {
	var result uint32
	var shift uint
	for i := 0; i < maxVarint32Bytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, ErrTruncatedInput
			}
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, ErrOverflow
}

// VarInt32ByteCount returns the number of bytes WriteVarInt32 would emit.
func VarInt32ByteCount(v int32) int {
	n := 1
	for {
		more := !((v >= 0 && v < 0x40) || (v < 0 && v >= -0x40))
		v >>= 7
		if !more {
			return n
		}
		n++
	}
}

// AppendVarInt32 appends v's signed LEB128 encoding to dst.
func AppendVarInt32(dst []byte, v int32) []byte {
	for {
		b := byte(v) & 0x7f
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// WriteVarInt32At writes v's signed LEB128 encoding into buf at offset and
// returns the number of bytes written.
func WriteVarInt32At(buf []byte, offset int, v int32) int {
	i := offset
	for {
		b := byte(v) & 0x7f
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			buf[i] = b
			return i - offset + 1
		}
		buf[i] = b | 0x80
		i++
	}
}

// ReadVarInt32 decodes a signed LEB128 value from buf at offset.
func ReadVarInt32(buf []byte, offset int) (int32, int, error) {
	var result int32
	var shift uint
	for i := 0; i < maxVarint32Bytes; i++ {
		pos := offset + i
		if pos >= len(buf) {
			return 0, 0, ErrTruncatedInput
		}
		b := buf[pos]
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1, nil
		}
	}
	return 0, 0, ErrOverflow
}

// ReadVarInt32FromStream decodes a signed LEB128 value one byte at a time
// from r.
func ReadVarInt32FromStream(r io.ByteReader) (int32, error) {
	var result int32
	var shift uint
	for i := 0; i < maxVarint32Bytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, ErrTruncatedInput
			}
			return 0, err
		}
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
	return 0, ErrOverflow
}

// VarUint64ByteCount returns the number of bytes WriteVarUint64 would emit.
func VarUint64ByteCount(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

// AppendVarUint64 appends v's LEB128 unsigned encoding to dst.
func AppendVarUint64(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// WriteVarUint64At writes v's LEB128 unsigned encoding into buf at offset.
func WriteVarUint64At(buf []byte, offset int, v uint64) int {
	i := offset
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	return i - offset + 1
}

// ReadVarUint64 decodes an unsigned LEB128 value from buf at offset.
func ReadVarUint64(buf []byte, offset int) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < maxVarint64Bytes; i++ {
		pos := offset + i
		if pos >= len(buf) {
			return 0, 0, ErrTruncatedInput
		}
		b := buf[pos]
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrOverflow
}

// ReadVarUint64FromStream decodes an unsigned LEB128 value one byte at a
// time from r.
func ReadVarUint64FromStream(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < maxVarint64Bytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, ErrTruncatedInput
			}
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, ErrOverflow
}

// VarInt64ByteCount returns the number of bytes WriteVarInt64 would emit.
func VarInt64ByteCount(v int64) int {
	n := 1
	for {
		more := !((v >= 0 && v < 0x40) || (v < 0 && v >= -0x40))
		v >>= 7
		if !more {
			return n
		}
		n++
	}
}

// AppendVarInt64 appends v's signed LEB128 encoding to dst.
func AppendVarInt64(dst []byte, v int64) []byte {
	for {
		b := byte(v) & 0x7f
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// WriteVarInt64At writes v's signed LEB128 encoding into buf at offset and
// returns the number of bytes written.
func WriteVarInt64At(buf []byte, offset int, v int64) int {
	i := offset
	for {
		b := byte(v) & 0x7f
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			buf[i] = b
			return i - offset + 1
		}
		buf[i] = b | 0x80
		i++
	}
}

// ReadVarInt64 decodes a signed LEB128 value from buf at offset.
func ReadVarInt64(buf []byte, offset int) (int64, int, error) {
	var result int64
	var shift uint
	for i := 0; i < maxVarint64Bytes; i++ {
		pos := offset + i
		if pos >= len(buf) {
			return 0, 0, ErrTruncatedInput
		}
		b := buf[pos]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1, nil
		}
	}
	return 0, 0, ErrOverflow
}

// ReadVarInt64FromStream decodes a signed LEB128 value one byte at a time
// from r.
func ReadVarInt64FromStream(r io.ByteReader) (int64, error) {
	var result int64
	var shift uint
	for i := 0; i < maxVarint64Bytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, ErrTruncatedInput
			}
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
	return 0, ErrOverflow
}
