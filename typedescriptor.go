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
	"fmt"
	"hash/fnv"
	"strings"
)

// AssemblyIdentity is the assembly-identity record of §3: simple name,
// version quadruple, culture, and an opaque public-key-token byte string.
type AssemblyIdentity struct {
	Name                          string
	Major, Minor, Build, Revision uint16
	Culture                       string
	PublicKeyToken                []byte
}

// Key returns a canonical string used both as the process-wide resolver key
// and the per-pass dedup key.
func (a AssemblyIdentity) Key() string {
	return fmt.Sprintf("%s, Version=%d.%d.%d.%d, Culture=%s, PublicKeyToken=%x",
		a.Name, a.Major, a.Minor, a.Build, a.Revision, a.Culture, a.PublicKeyToken)
}

func (a AssemblyIdentity) String() string { return a.Key() }

// TypeDescriptor is the structured record of §3 naming a concrete type: a
// fully qualified name, its owning assembly, and (for generics) an ordered
// argument list. Arrays carry ElemType and ArrayRank instead of a name.
type TypeDescriptor struct {
	Name     string
	Assembly AssemblyIdentity

	// Generic decomposition. IsGenericDefinition marks an unbound
	// definition (Args must be empty on the wire, per §4.3's placeholder
	// form); a constructed generic carries Args in order.
	IsGenericDefinition bool
	Args                []TypeDescriptor

	// Arrays: ArrayRank==0 means "not an array". descriptorForType
	// (walker.go) gives a slice ArrayRank 1 and a fixed-size Go array an
	// ArrayRank equal to its length; TypeResolver.Resolve maps 1 back to a
	// slice and any larger value to a fixed-size array of that length.
	// ElemType is set whenever ArrayRank>0 and Name/Assembly/Args are then
	// unused.
	ArrayRank int
	ElemType  *TypeDescriptor
}

// Key returns a canonical string uniquely identifying this descriptor,
// suitable for per-pass dedup and resolver caching (I5: always names a
// concrete host type or an unbound generic definition).
func (d TypeDescriptor) Key() string {
	if d.ArrayRank > 0 {
		return fmt.Sprintf("%s[%d]", d.ElemType.Key(), d.ArrayRank)
	}
	var b strings.Builder
	b.WriteString(d.Assembly.Key())
	b.WriteByte('|')
	b.WriteString(d.Name)
	if d.IsGenericDefinition {
		b.WriteString("`unbound")
		return b.String()
	}
	if len(d.Args) > 0 {
		b.WriteByte('<')
		for i, a := range d.Args {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(a.Key())
		}
		b.WriteByte('>')
	}
	return b.String()
}

// --- per-pass dedup tables (§3: "type id table", "assembly id table") ---

type assemblyIDTable struct {
	writeIDs map[string]uint32 // key -> id, write side
	readList []AssemblyIdentity
}

func newAssemblyIDTable() *assemblyIDTable {
	return &assemblyIDTable{writeIDs: make(map[string]uint32)}
}

// write emits either AssemblyRef (seen before) or AssemblyInline (first
// sighting, assigns the next id) followed by the matching payload.
func (t *assemblyIDTable) write(buf *ByteBuffer, a AssemblyIdentity) {
	key := a.Key()
	if id, ok := t.writeIDs[key]; ok {
		buf.WriteByte_(byte(TokenAssemblyRef))
		buf.WriteVarUint32(id)
		return
	}
	id := uint32(len(t.writeIDs))
	t.writeIDs[key] = id
	buf.WriteByte_(byte(TokenAssemblyInline))
	buf.WriteString_(a.Name)
	buf.WriteUint16(a.Major)
	buf.WriteUint16(a.Minor)
	buf.WriteUint16(a.Build)
	buf.WriteUint16(a.Revision)
	buf.WriteString_(a.Culture)
	buf.WriteBinary(a.PublicKeyToken)
}

func (t *assemblyIDTable) read(buf *ByteBuffer) (AssemblyIdentity, error) {
	tokByte, err := buf.ReadByte_()
	if err != nil {
		return AssemblyIdentity{}, err
	}
	switch Token(tokByte) {
	case TokenAssemblyRef:
		id, err := buf.ReadVarUint32()
		if err != nil {
			return AssemblyIdentity{}, err
		}
		if int(id) >= len(t.readList) {
			return AssemblyIdentity{}, fmt.Errorf("binarch: assembly back-reference %d out of range", id)
		}
		return t.readList[id], nil
	case TokenAssemblyInline:
		var a AssemblyIdentity
		if a.Name, err = buf.ReadString_(); err != nil {
			return a, err
		}
		if a.Major, err = buf.ReadUint16(); err != nil {
			return a, err
		}
		if a.Minor, err = buf.ReadUint16(); err != nil {
			return a, err
		}
		if a.Build, err = buf.ReadUint16(); err != nil {
			return a, err
		}
		if a.Revision, err = buf.ReadUint16(); err != nil {
			return a, err
		}
		if a.Culture, err = buf.ReadString_(); err != nil {
			return a, err
		}
		if a.PublicKeyToken, err = buf.ReadBinary(); err != nil {
			return a, err
		}
		t.readList = append(t.readList, a)
		return a, nil
	default:
		return AssemblyIdentity{}, fmt.Errorf("%w: expected AssemblyRef/AssemblyInline, got %s", ErrUnknownToken, Token(tokByte))
	}
}

type typeIDTable struct {
	writeIDs map[string]uint32
	readList []TypeDescriptor
}

func newTypeIDTable() *typeIDTable {
	return &typeIDTable{writeIDs: make(map[string]uint32)}
}

// write emits the Type token (TypeRef on repeat sighting, TypeInline on
// first sighting with the full descriptor body) per §4.3.
func (t *typeIDTable) write(buf *ByteBuffer, asm *assemblyIDTable, d TypeDescriptor) {
	key := d.Key()
	if id, ok := t.writeIDs[key]; ok {
		buf.WriteByte_(byte(TokenTypeRef))
		buf.WriteVarUint32(id)
		return
	}
	id := uint32(len(t.writeIDs))
	t.writeIDs[key] = id
	buf.WriteByte_(byte(TokenTypeInline))
	t.writeBody(buf, asm, d)
}

func (t *typeIDTable) writeBody(buf *ByteBuffer, asm *assemblyIDTable, d TypeDescriptor) {
	buf.WriteVarInt32(int32(d.ArrayRank))
	if d.ArrayRank > 0 {
		t.write(buf, asm, *d.ElemType)
		return
	}
	asm.write(buf, d.Assembly)
	buf.WriteString_(d.Name)
	buf.WriteBool(d.IsGenericDefinition)
	if d.IsGenericDefinition {
		return
	}
	buf.WriteVarUint32(uint32(len(d.Args)))
	for _, a := range d.Args {
		t.write(buf, asm, a)
	}
}

func (t *typeIDTable) read(buf *ByteBuffer, asm *assemblyIDTable) (TypeDescriptor, error) {
	tokByte, err := buf.ReadByte_()
	if err != nil {
		return TypeDescriptor{}, err
	}
	switch Token(tokByte) {
	case TokenTypeRef:
		id, err := buf.ReadVarUint32()
		if err != nil {
			return TypeDescriptor{}, err
		}
		if int(id) >= len(t.readList) {
			return TypeDescriptor{}, fmt.Errorf("binarch: type back-reference %d out of range", id)
		}
		return t.readList[id], nil
	case TokenTypeInline:
		d, err := t.readBody(buf, asm)
		if err != nil {
			return d, err
		}
		t.readList = append(t.readList, d)
		return d, nil
	default:
		return TypeDescriptor{}, fmt.Errorf("%w: expected TypeRef/TypeInline, got %s", ErrUnknownToken, Token(tokByte))
	}
}

func (t *typeIDTable) readBody(buf *ByteBuffer, asm *assemblyIDTable) (TypeDescriptor, error) {
	var d TypeDescriptor
	rank, err := buf.ReadVarInt32()
	if err != nil {
		return d, err
	}
	d.ArrayRank = int(rank)
	if d.ArrayRank > 0 {
		elem, err := t.read(buf, asm)
		if err != nil {
			return d, err
		}
		d.ElemType = &elem
		return d, nil
	}
	if d.Assembly, err = asm.read(buf); err != nil {
		return d, err
	}
	if d.Name, err = buf.ReadString_(); err != nil {
		return d, err
	}
	if d.IsGenericDefinition, err = buf.ReadBool(); err != nil {
		return d, err
	}
	if d.IsGenericDefinition {
		return d, nil
	}
	n, err := buf.ReadVarUint32()
	if err != nil {
		return d, err
	}
	d.Args = make([]TypeDescriptor, n)
	for i := range d.Args {
		if d.Args[i], err = t.read(buf, asm); err != nil {
			return d, err
		}
	}
	return d, nil
}

// --- string payload dedup table (SPEC_FULL supplement 2) ---

// smallStringThreshold mirrors the teacher's SMALL_STRING_THRESHOLD
// (type.go): strings at or under this length skip the content-hash lane
// entirely, since hashing is not worth it for short strings.
const smallStringThreshold = 16

// stringIDTable deduplicates TokenString payloads within a pass, adapting
// the teacher's writeMetaString/readMetaString (type.go) from its original
// role of deduping type-tag metadata to general string-field payloads.
// Header is a varint: low bit set means "back-reference, id = header>>1 -
// 1"; low bit clear means "inline, length = header>>1" followed by either a
// one-byte encoding marker (short strings) or an 8-byte content hash
// (longer strings, informational only, mirroring the teacher's own
// not-worth-comparing-for-equality rationale) and then the raw bytes.
type stringIDTable struct {
	writeIDs map[string]uint32
	readList []string
}

func newStringIDTable() *stringIDTable {
	return &stringIDTable{writeIDs: make(map[string]uint32)}
}

func (t *stringIDTable) write(buf *ByteBuffer, s string) {
	if id, ok := t.writeIDs[s]; ok {
		buf.WriteVarInt32(int32(((id + 1) << 1) | 1))
		return
	}
	id := uint32(len(t.writeIDs))
	t.writeIDs[s] = id
	length := len(s)
	buf.WriteVarInt32(int32(length) << 1)
	if length <= smallStringThreshold {
		buf.WriteByte_(0)
	} else {
		buf.WriteUint64(stringContentHash(s))
	}
	buf.WriteRaw(unsafeStringBytes(s))
}

func (t *stringIDTable) read(buf *ByteBuffer) (string, error) {
	header, err := buf.ReadVarInt32()
	if err != nil {
		return "", err
	}
	if header&1 == 1 {
		id := uint32(header>>1) - 1
		if int(id) >= len(t.readList) {
			return "", fmt.Errorf("binarch: string back-reference %d out of range", id)
		}
		return t.readList[id], nil
	}
	length := int(header >> 1)
	if length <= smallStringThreshold {
		if _, err := buf.ReadByte_(); err != nil {
			return "", err
		}
	} else {
		if _, err := buf.ReadUint64(); err != nil {
			return "", err
		}
	}
	raw, err := buf.ReadRaw(length)
	if err != nil {
		return "", err
	}
	s := string(raw)
	t.readList = append(t.readList, s)
	return s, nil
}

func stringContentHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(unsafeStringBytes(s))
	return h.Sum64()
}
