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

// Token is the one-byte discriminator at the head of every Value (§6).
type Token byte

const (
	TokenNull Token = iota
	TokenBoolean
	TokenChar
	TokenSByte
	TokenByte
	TokenInt16
	TokenUInt16
	TokenInt32
	TokenUInt32
	TokenInt64
	TokenUInt64
	TokenSingle
	TokenDouble
	TokenDecimal
	TokenString
	TokenDateTime
	TokenDateTimeOffset
	TokenDateOnly
	TokenTimeOnly
	TokenGuid
	TokenTypeRef
	TokenTypeInline
	TokenAssemblyRef
	TokenAssemblyInline
	TokenObjectRef
	TokenArray
	TokenArchiveStart
	TokenArchiveEnd
	TokenBaseArchiveStart
	TokenBuffer
	TokenEnumValue
)

var tokenNames = map[Token]string{
	TokenNull:             "Null",
	TokenBoolean:          "Boolean",
	TokenChar:             "Char",
	TokenSByte:            "SByte",
	TokenByte:             "Byte",
	TokenInt16:            "Int16",
	TokenUInt16:           "UInt16",
	TokenInt32:            "Int32",
	TokenUInt32:           "UInt32",
	TokenInt64:            "Int64",
	TokenUInt64:           "UInt64",
	TokenSingle:           "Single",
	TokenDouble:           "Double",
	TokenDecimal:          "Decimal",
	TokenString:           "String",
	TokenDateTime:         "DateTime",
	TokenDateTimeOffset:   "DateTimeOffset",
	TokenDateOnly:         "DateOnly",
	TokenTimeOnly:         "TimeOnly",
	TokenGuid:             "Guid",
	TokenTypeRef:          "TypeRef",
	TokenTypeInline:       "TypeInline",
	TokenAssemblyRef:      "AssemblyRef",
	TokenAssemblyInline:   "AssemblyInline",
	TokenObjectRef:        "ObjectRef",
	TokenArray:            "Array",
	TokenArchiveStart:     "ArchiveStart",
	TokenArchiveEnd:       "ArchiveEnd",
	TokenBaseArchiveStart: "BaseArchiveStart",
	TokenBuffer:           "Buffer",
	TokenEnumValue:        "EnumValue",
}

func (t Token) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "Unknown"
}

func (t Token) valid() bool {
	_, ok := tokenNames[t]
	return ok
}

// MagicNumber opens every stream (§6 Header).
const MagicNumber uint16 = 0xF07A

// OptimizationMode is the stream-wide numeric encoding choice (§4.2, §6).
type OptimizationMode byte

const (
	// ModeSize encodes 16/32/64-bit integers with LEB128.
	ModeSize OptimizationMode = 0
	// ModeSpeed encodes integers with their native little-endian width.
	ModeSpeed OptimizationMode = 1
)

// BufferObject is a lazily-materialized out-of-band payload: the caller can
// intercept it during Serialize and stream its bytes elsewhere instead of
// inlining them (SPEC_FULL supplement 3, grounded in fory_test.go's
// TestSerializeZeroCopy / the teacher's BufferObject+Serialize(callback)
// split).
type BufferObject interface {
	// Length reports the payload size in bytes without copying it.
	Length() int
	// WriteTo copies the payload into dst.
	WriteTo(dst *ByteBuffer)
	// ToBuffer returns a read-only buffer view over the payload, to be fed
	// back into Deserialize's out-of-band buffer list.
	ToBuffer() *ByteBuffer
}

// sliceBufferObject is the built-in BufferObject backing []byte and
// unsafely-viewed string payloads.
type sliceBufferObject struct {
	data []byte
}

func (s *sliceBufferObject) Length() int { return len(s.data) }
func (s *sliceBufferObject) WriteTo(dst *ByteBuffer) {
	dst.WriteVarUint32(uint32(len(s.data)))
	dst.data = append(dst.data, s.data...)
}
func (s *sliceBufferObject) ToBuffer() *ByteBuffer { return NewByteBuffer(s.data) }

// BufferCallback decides, for each out-of-band-eligible payload, whether it
// should be inlined (return true, the default) or handed to the caller as a
// BufferObject (return false). A nil callback inlines everything.
type BufferCallback func(BufferObject) bool
