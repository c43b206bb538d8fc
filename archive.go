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
	"reflect"

	"github.com/google/uuid"
)

// WriteArchive is the cursor a custom (internal or external) serializer
// uses to write one object's payload (§4.6). Typed Write* calls emit raw
// payloads (no token): the enclosing type is already known to both sides
// from the struct's registered shape, unlike the graph walker's dynamic
// dispatch which must tag every value with a token.
type WriteArchive struct {
	buf     *ByteBuffer
	mode    OptimizationMode
	version int32
	context interface{}

	ws   *writeState
	arch *Archiver

	baseWritten bool
}

// Version reports the version chosen for the object currently being
// written: the registered serializer's declared max.
func (w *WriteArchive) Version() int32 { return w.version }

// Context returns the opaque user context threaded through the pass.
func (w *WriteArchive) Context() interface{} { return w.context }

func (w *WriteArchive) writeIntMode(v int64, bits int) {
	switch w.mode {
	case ModeSpeed:
		switch bits {
		case 16:
			w.buf.WriteInt16(int16(v))
		case 32:
			w.buf.WriteInt32(int32(v))
		default:
			w.buf.WriteInt64(v)
		}
	default: // ModeSize
		switch bits {
		case 16, 32:
			w.buf.WriteVarInt32(int32(v))
		default:
			w.buf.WriteVarInt64(v)
		}
	}
}

func (w *WriteArchive) writeUintMode(v uint64, bits int) {
	switch w.mode {
	case ModeSpeed:
		switch bits {
		case 16:
			w.buf.WriteUint16(uint16(v))
		case 32:
			w.buf.WriteUint32(uint32(v))
		default:
			w.buf.WriteUint64(v)
		}
	default:
		switch bits {
		case 16, 32:
			w.buf.WriteVarUint32(uint32(v))
		default:
			w.buf.WriteVarUint64(v)
		}
	}
}

func (w *WriteArchive) WriteBool(v bool)    { w.buf.WriteBool(v) }
func (w *WriteArchive) WriteSByte(v int8)   { w.buf.WriteInt8(v) }
func (w *WriteArchive) WriteByte(v byte)    { w.buf.WriteByte_(v) }
func (w *WriteArchive) WriteChar(v rune)    { w.writeUintMode(uint64(uint16(v)), 16) }
func (w *WriteArchive) WriteInt16(v int16)  { w.writeIntMode(int64(v), 16) }
func (w *WriteArchive) WriteUInt16(v uint16) { w.writeUintMode(uint64(v), 16) }
func (w *WriteArchive) WriteInt32(v int32)  { w.writeIntMode(int64(v), 32) }
func (w *WriteArchive) WriteUInt32(v uint32) { w.writeUintMode(uint64(v), 32) }
func (w *WriteArchive) WriteInt64(v int64)  { w.writeIntMode(v, 64) }
func (w *WriteArchive) WriteUInt64(v uint64) { w.writeUintMode(v, 64) }
func (w *WriteArchive) WriteFloat32(v float32) { w.buf.WriteFloat32(v) }
func (w *WriteArchive) WriteFloat64(v float64) { w.buf.WriteFloat64(v) }
func (w *WriteArchive) WriteDecimal(v Decimal) { w.buf.WriteDecimal(v) }
func (w *WriteArchive) WriteString(v string)   { w.ws.strings.write(w.buf, v) }
func (w *WriteArchive) WriteGuid(v uuid.UUID)  { w.buf.WriteGuid(v) }
func (w *WriteArchive) WriteDateTime(ticks int64, kind DateTimeKind) {
	w.buf.WriteDateTime(ticks, kind)
}
func (w *WriteArchive) WriteDateTimeOffset(ticks int64, offsetMinutes int16) {
	w.buf.WriteDateTimeOffset(ticks, offsetMinutes)
}
func (w *WriteArchive) WriteDateOnly(days int32) { w.buf.WriteDateOnly(days) }
func (w *WriteArchive) WriteTimeOnly(ticks int64) { w.buf.WriteTimeOnly(ticks) }

// WriteBuffer writes a raw byte payload (§4.2 "Buffer payloads"),
// respecting an out-of-band callback when one was supplied to Serialize
// (SPEC_FULL supplement 3).
func (w *WriteArchive) WriteBuffer(data []byte) {
	obj := &sliceBufferObject{data: data}
	if w.ws.bufferCallback != nil && !w.ws.bufferCallback(obj) {
		// Caller took ownership: emit only the length so the reader knows
		// how much to pull from its out-of-band buffer list.
		w.buf.WriteVarUint32(uint32(len(data)))
		return
	}
	obj.WriteTo(w.buf)
}

// WriteObject recurses into the graph walker for an embedded reference
// value (§4.6's `Write(object, context?)`).
func (w *WriteArchive) WriteObject(v interface{}) error {
	return w.arch.writeTop(w.buf, w.ws, reflect.ValueOf(v))
}

// WriteBaseArchive emits a BaseArchiveStart header naming baseType at its
// registered declaration's max version, then hands back a nested
// WriteArchive at that version for the caller to write the base type's own
// fields onto (§4.6, §4.7's "base-class archive chaining"). May be called
// at most once per object.
func (w *WriteArchive) WriteBaseArchive(baseType reflect.Type) (*WriteArchive, error) {
	if w.baseWritten {
		return nil, ErrInvalidArchiveState
	}
	entry, ok := w.arch.registry.Lookup(baseType, genericDefFor(baseType))
	if !ok {
		return nil, &NoSerializerError{Type: baseType.String()}
	}
	desc, ok := w.arch.resolver.DescribeType(baseType)
	if !ok {
		desc = descriptorForType(baseType)
	}
	w.baseWritten = true
	w.buf.WriteByte_(byte(TokenBaseArchiveStart))
	w.ws.types.write(w.buf, w.ws.assemblies, desc)
	w.buf.WriteVarInt32(entry.maxVersion)
	w.buf.WriteVarUint64(structHash(baseType))
	return &WriteArchive{buf: w.buf, mode: w.mode, version: entry.maxVersion, context: w.context, ws: w.ws, arch: w.arch}, nil
}

// ReadArchive is the read-side cursor, symmetric to WriteArchive (§4.6).
type ReadArchive struct {
	buf     *ByteBuffer
	mode    OptimizationMode
	version int32
	context interface{}

	rs   *readState
	arch *Archiver

	basePrepared bool
}

func (r *ReadArchive) Version() int32        { return r.version }
func (r *ReadArchive) Context() interface{}  { return r.context }

func (r *ReadArchive) readIntMode(bits int) (int64, error) {
	switch r.mode {
	case ModeSpeed:
		switch bits {
		case 16:
			v, err := r.buf.ReadInt16()
			return int64(v), err
		case 32:
			v, err := r.buf.ReadInt32()
			return int64(v), err
		default:
			return r.buf.ReadInt64()
		}
	default:
		switch bits {
		case 16, 32:
			v, err := r.buf.ReadVarInt32()
			return int64(v), err
		default:
			return r.buf.ReadVarInt64()
		}
	}
}

func (r *ReadArchive) readUintMode(bits int) (uint64, error) {
	switch r.mode {
	case ModeSpeed:
		switch bits {
		case 16:
			v, err := r.buf.ReadUint16()
			return uint64(v), err
		case 32:
			v, err := r.buf.ReadUint32()
			return uint64(v), err
		default:
			return r.buf.ReadUint64()
		}
	default:
		switch bits {
		case 16, 32:
			v, err := r.buf.ReadVarUint32()
			return uint64(v), err
		default:
			return r.buf.ReadVarUint64()
		}
	}
}

func (r *ReadArchive) ReadBool() (bool, error)  { return r.buf.ReadBool() }
func (r *ReadArchive) ReadSByte() (int8, error) { return r.buf.ReadInt8() }
func (r *ReadArchive) ReadByte() (byte, error)  { return r.buf.ReadByte_() }
func (r *ReadArchive) ReadChar() (rune, error) {
	v, err := r.readUintMode(16)
	return rune(uint16(v)), err
}
func (r *ReadArchive) ReadInt16() (int16, error) {
	v, err := r.readIntMode(16)
	return int16(v), err
}
func (r *ReadArchive) ReadUInt16() (uint16, error) {
	v, err := r.readUintMode(16)
	return uint16(v), err
}
func (r *ReadArchive) ReadInt32() (int32, error) {
	v, err := r.readIntMode(32)
	return int32(v), err
}
func (r *ReadArchive) ReadUInt32() (uint32, error) {
	v, err := r.readUintMode(32)
	return uint32(v), err
}
func (r *ReadArchive) ReadInt64() (int64, error)   { return r.readIntMode(64) }
func (r *ReadArchive) ReadUInt64() (uint64, error) { v, err := r.readUintMode(64); return v, err }
func (r *ReadArchive) ReadFloat32() (float32, error) { return r.buf.ReadFloat32() }
func (r *ReadArchive) ReadFloat64() (float64, error) { return r.buf.ReadFloat64() }
func (r *ReadArchive) ReadDecimal() (Decimal, error) { return r.buf.ReadDecimal() }
func (r *ReadArchive) ReadString() (string, error)   { return r.rs.strings.read(r.buf) }
func (r *ReadArchive) ReadGuid() (uuid.UUID, error)  { return r.buf.ReadGuid() }
func (r *ReadArchive) ReadDateTime() (int64, DateTimeKind, error) { return r.buf.ReadDateTime() }
func (r *ReadArchive) ReadDateTimeOffset() (int64, int16, error) {
	return r.buf.ReadDateTimeOffset()
}
func (r *ReadArchive) ReadDateOnly() (int32, error) { return r.buf.ReadDateOnly() }
func (r *ReadArchive) ReadTimeOnly() (int64, error) { return r.buf.ReadTimeOnly() }

// ReadBuffer reads a raw byte payload written by WriteBuffer, pulling from
// the pass's out-of-band buffer list when the writer excluded it from the
// inline stream.
func (r *ReadArchive) ReadBuffer() ([]byte, error) {
	n, err := r.buf.ReadVarUint32()
	if err != nil {
		return nil, err
	}
	if r.rs.nextExtraBuffer < len(r.rs.extraBuffers) {
		ob := r.rs.extraBuffers[r.rs.nextExtraBuffer]
		r.rs.nextExtraBuffer++
		return ob.Bytes(), nil
	}
	if err := r.buf.ensure(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf.data[r.buf.readerIndex:r.buf.readerIndex+int(n)])
	r.buf.readerIndex += int(n)
	return out, nil
}

// ReadObject recurses into the graph walker to reconstruct an embedded
// reference value (§4.6).
func (r *ReadArchive) ReadObject() (interface{}, error) {
	v, err := r.arch.readTop(r.buf, r.rs)
	if err != nil {
		return nil, err
	}
	if !v.IsValid() {
		return nil, nil
	}
	return v.Interface(), nil
}

// PrepareBaseArchive consumes the next BaseArchiveStart token, verifies the
// named type matches baseType and that the stream version does not exceed
// baseType's registered serializer's declared max (§4.6), and returns a
// nested read archive for the caller to read base fields from. May be
// called at most once per object.
func (r *ReadArchive) PrepareBaseArchive(baseType reflect.Type) (*ReadArchive, error) {
	if r.basePrepared {
		return nil, ErrInvalidArchiveState
	}
	tok, err := r.buf.ReadByte_()
	if err != nil {
		return nil, err
	}
	if Token(tok) != TokenBaseArchiveStart {
		return nil, ErrInvalidArchiveState
	}
	r.basePrepared = true

	desc, err := r.rs.types.read(r.buf, r.rs.assemblies)
	if err != nil {
		return nil, err
	}
	version, err := r.buf.ReadVarInt32()
	if err != nil {
		return nil, err
	}
	if _, err := r.buf.ReadVarUint64(); err != nil { // structural hash, informational
		return nil, err
	}
	resolved, err := r.arch.resolver.Resolve(desc, r.arch.tolerant)
	if err != nil {
		return nil, err
	}
	if resolved != baseType {
		return nil, ErrInvalidArchiveState
	}
	entry, ok := r.arch.registry.Lookup(resolved, genericDefFor(resolved))
	if !ok {
		return nil, &NoSerializerError{Type: resolved.String()}
	}
	if version > entry.maxVersion {
		return nil, &VersionNotSupportedError{Type: resolved.String(), StreamVersion: version, DeclaredMaxVer: entry.maxVersion}
	}
	return &ReadArchive{buf: r.buf, mode: r.mode, version: version, context: r.context, rs: r.rs, arch: r.arch}, nil
}
