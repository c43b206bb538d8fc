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
	"reflect"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Archiver is the top-level dispatcher of §4.7: it owns the process-wide
// type resolver and serializer registry and drives one Serialize/Deserialize
// pass at a time, each pass getting its own identity/type/assembly tables
// (§3: "discarded at the end of each top-level call").
type Archiver struct {
	resolver *TypeResolver
	registry *SerializerRegistry
	logger   *zap.Logger

	mode     OptimizationMode
	tolerant bool
}

// Option configures an Archiver (SPEC_FULL ambient stack: functional
// options, matching the teacher's NewFory(trackReferences bool) convention
// generalized to a full options list).
type Option func(*Archiver)

// WithOptimizationMode selects the stream-wide numeric encoding (default
// ModeSize).
func WithOptimizationMode(m OptimizationMode) Option {
	return func(a *Archiver) { a.mode = m }
}

// WithTolerantResolution enables §4.4's name-only fallback for every
// Deserialize call by default.
func WithTolerantResolution(tolerant bool) Option {
	return func(a *Archiver) { a.tolerant = tolerant }
}

// WithLogger installs a zap.Logger for the Archiver's registry diagnostics;
// a nil logger (the default) keeps the core silent. The package-level
// buffer pool keeps its own logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Archiver) { a.logger = logger }
}

// NewArchiver builds an Archiver with its own resolver and registry. Most
// programs share one process-wide instance (§5).
func NewArchiver(opts ...Option) *Archiver {
	a := &Archiver{
		resolver: NewTypeResolver(false),
		registry: NewSerializerRegistry(nil),
		mode:     ModeSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	a.registry.logger = a.logger
	registerBuiltins(a)
	return a
}

// Resolver exposes the process-wide type resolver for registration.
func (a *Archiver) Resolver() *TypeResolver { return a.resolver }

// Registry exposes the process-wide serializer registry for registration.
func (a *Archiver) Registry() *SerializerRegistry { return a.registry }

// hostAssemblyName is the assembly identity every name-registered type in
// this process is recorded under. Go has no runtime multi-assembly
// concept, so the whole host binary plays that role (§4.4's tolerant
// resolution still degrades gracefully to bare-name matching across two
// binaries that disagree on this name).
const hostAssemblyName = "binarch"

// RegisterType declares t as a named, internally self-serializing type:
// the pairing of §4.5's internal-serializer declaration with §4.4's
// by-name resolver registration (SUPPLEMENTED FEATURE 1), the Go
// equivalent of the teacher's RegisterTagType. t must implement
// InternalSerializer and InternalFactory on its pointer receiver.
func (a *Archiver) RegisterType(name string, t reflect.Type, maxVersion int32) error {
	if err := a.registry.RegisterInternal(t, maxVersion); err != nil {
		return err
	}
	a.resolver.Register(t, TypeDescriptor{Name: name, Assembly: AssemblyIdentity{Name: hostAssemblyName}})
	return nil
}

// RegisterExternalType pairs an external-serializer declaration (§4.5) for
// target type t with named resolver registration, so t also participates
// in tolerant cross-host resolution by name.
func (a *Archiver) RegisterExternalType(name string, t reflect.Type, s ExternalSerializer, maxVersion int32) {
	a.registry.RegisterExternalForType(t, s, maxVersion)
	a.resolver.Register(t, TypeDescriptor{Name: name, Assembly: AssemblyIdentity{Name: hostAssemblyName}})
}

// RegisterEnumType declares t as a named integer-based defined type (Go's
// equivalent of the source ecosystem's ENUM, e.g. `type Suit int32` with a
// block of constants): the grammar's EnumValue token (§6) carries the type
// descriptor plus the bare underlying integer, rather than dispatching
// through the serializer registry like a struct would. t's underlying Kind
// must be one of the integer kinds; it is not required to implement any
// serializer interface.
func (a *Archiver) RegisterEnumType(name string, t reflect.Type) error {
	switch t.Kind() {
	case reflect.Int8, reflect.Uint8, reflect.Int16, reflect.Uint16,
		reflect.Int32, reflect.Uint32, reflect.Int, reflect.Int64,
		reflect.Uint, reflect.Uint64:
	default:
		return fmt.Errorf("binarch: RegisterEnumType: %s has non-integer underlying kind %s", t, t.Kind())
	}
	a.resolver.Register(t, TypeDescriptor{Name: name, Assembly: AssemblyIdentity{Name: hostAssemblyName}})
	return nil
}

// Serialize writes the stream header (§6: magic number + optimization mode
// byte) followed by value's encoding into buf. callback, when non-nil,
// decides per §4.2 buffer payload whether to inline it or hand it back as a
// BufferObject (SPEC_FULL supplement 3); a nil callback inlines everything.
func (a *Archiver) Serialize(buf *ByteBuffer, value interface{}, callback BufferCallback) error {
	buf.WriteUint16(MagicNumber)
	buf.WriteByte_(byte(a.mode))
	ws := newWriteState(a.mode, nil, callback)
	return a.writeTop(buf, ws, reflect.ValueOf(value))
}

// Deserialize reads a stream written by Serialize into dst (a non-nil
// pointer). buffers supplies, in emission order, the out-of-band payloads
// the writer excluded from the inline stream via its BufferCallback.
func (a *Archiver) Deserialize(buf *ByteBuffer, dst interface{}, buffers []*ByteBuffer) error {
	magic, err := buf.ReadUint16()
	if err != nil {
		return err
	}
	if magic != MagicNumber {
		return fmt.Errorf("%w: bad magic number %x", ErrUnknownToken, magic)
	}
	modeByte, err := buf.ReadByte_()
	if err != nil {
		return err
	}
	rs := newReadState(OptimizationMode(modeByte), nil, buffers)
	v, err := a.readTop(buf, rs)
	if err != nil {
		return err
	}
	return assignOut(dst, v)
}

// Marshal is the front-door convenience wrapping Serialize against a fresh,
// unpooled buffer; the pooled variant is the package-level Marshal
// (SPEC_FULL supplement 4).
func (a *Archiver) Marshal(value interface{}) ([]byte, error) {
	buf := NewByteBuffer(nil)
	if err := a.Serialize(buf, value, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is the front-door convenience wrapping Deserialize against an
// in-memory byte slice.
func (a *Archiver) Unmarshal(data []byte, dst interface{}) error {
	return a.Deserialize(NewByteBuffer(data), dst, nil)
}

func assignOut(dst interface{}, v reflect.Value) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("binarch: Deserialize destination must be a non-nil pointer, got %T", dst)
	}
	elem := rv.Elem()
	if !v.IsValid() {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	if v.Type() == elem.Type() {
		elem.Set(v)
		return nil
	}
	if v.Kind() == reflect.Ptr && v.Type().Elem() == elem.Type() {
		elem.Set(v.Elem())
		return nil
	}
	if elem.Kind() == reflect.Ptr && v.Type() == elem.Type().Elem() {
		p := reflect.New(elem.Type().Elem())
		p.Elem().Set(v)
		elem.Set(p)
		return nil
	}
	if v.Type().ConvertibleTo(elem.Type()) {
		elem.Set(v.Convert(elem.Type()))
		return nil
	}
	return fmt.Errorf("binarch: cannot assign decoded %s into destination %s", v.Type(), elem.Type())
}

// writeState is the per-pass mutable bookkeeping of §3: the object identity
// table, the dedup type/assembly id tables, and the in-flight set used to
// reject cycles through custom serializers while still allowing them
// through core-walked containers (arrays, maps), whose ids are committed
// before descent rather than after.
type writeState struct {
	mode    OptimizationMode
	context interface{}

	objects      map[uintptr]uint32
	nextObjectID uint32
	inflight     map[uintptr]bool

	types      *typeIDTable
	assemblies *assemblyIDTable
	strings    *stringIDTable

	bufferCallback BufferCallback
}

func newWriteState(mode OptimizationMode, context interface{}, cb BufferCallback) *writeState {
	return &writeState{
		mode:           mode,
		context:        context,
		objects:        make(map[uintptr]uint32),
		inflight:       make(map[uintptr]bool),
		types:          newTypeIDTable(),
		assemblies:     newAssemblyIDTable(),
		strings:        newStringIDTable(),
		bufferCallback: cb,
	}
}

// readState mirrors writeState: rs.objects grows in exactly the id order
// the writer assigned, so index == id on both sides.
type readState struct {
	mode    OptimizationMode
	context interface{}

	objects []reflect.Value

	types      *typeIDTable
	assemblies *assemblyIDTable
	strings    *stringIDTable

	extraBuffers    []*ByteBuffer
	nextExtraBuffer int
}

func newReadState(mode OptimizationMode, context interface{}, buffers []*ByteBuffer) *readState {
	return &readState{
		mode:         mode,
		context:      context,
		types:        newTypeIDTable(),
		assemblies:   newAssemblyIDTable(),
		strings:      newStringIDTable(),
		extraBuffers: buffers,
	}
}

// --- generic-definition / descriptor helpers ---

func genericDefFor(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Slice:
		return genericDefSlice
	case reflect.Map:
		return genericDefMap
	case reflect.Ptr:
		return genericDefPtr
	default:
		return ""
	}
}

// descriptorForType synthesizes a TypeDescriptor for a host type that was
// never explicitly named-registered (SUPPLEMENTED FEATURE 1 covers the
// named path via TypeResolver.DescribeType; this is the fallback for
// anonymous structural types), using the package path as the assembly
// identity's simple name, mirroring the teacher's encodeType falling back
// to a type's own PkgPath/Name when no tag was registered (type.go).
func descriptorForType(t reflect.Type) TypeDescriptor {
	switch t.Kind() {
	case reflect.Ptr:
		elem := descriptorForType(t.Elem())
		return TypeDescriptor{Name: "*" + elem.Name, Assembly: elem.Assembly, IsGenericDefinition: false, Args: []TypeDescriptor{elem}}
	case reflect.Slice:
		elem := descriptorForType(t.Elem())
		return TypeDescriptor{ArrayRank: 1, ElemType: &elem}
	case reflect.Array:
		elem := descriptorForType(t.Elem())
		return TypeDescriptor{ArrayRank: t.Len(), ElemType: &elem}
	case reflect.Map:
		key := descriptorForType(t.Key())
		val := descriptorForType(t.Elem())
		return TypeDescriptor{Name: genericDefMap, Args: []TypeDescriptor{key, val}}
	default:
		return TypeDescriptor{
			Name:     t.Name(),
			Assembly: AssemblyIdentity{Name: t.PkgPath()},
		}
	}
}

// --- write path ---

// writeTop dispatches an arbitrary value encountered while walking the
// graph (§4.7's write loop: Null / ObjectRef / primitive / array / custom
// object / generic collection, in that classification order).
func (a *Archiver) writeTop(buf *ByteBuffer, ws *writeState, v reflect.Value) error {
	for v.IsValid() && v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if !v.IsValid() {
		buf.WriteByte_(byte(TokenNull))
		return nil
	}

	switch iv := v.Interface().(type) {
	case Decimal:
		buf.WriteByte_(byte(TokenDecimal))
		buf.WriteDecimal(iv)
		return nil
	case uuid.UUID:
		buf.WriteByte_(byte(TokenGuid))
		buf.WriteGuid(iv)
		return nil
	}

	// A named integer-based defined type registered via RegisterEnumType
	// (Go's stand-in for the source ecosystem's ENUM) is written as
	// EnumValue instead of falling through to its underlying Kind's plain
	// numeric token, so the type identity survives the round trip.
	if v.Type().PkgPath() != "" {
		if desc, ok := a.resolver.DescribeType(v.Type()); ok {
			switch v.Kind() {
			case reflect.Int8, reflect.Uint8, reflect.Int16, reflect.Uint16,
				reflect.Int32, reflect.Uint32, reflect.Int, reflect.Int64,
				reflect.Uint, reflect.Uint64:
				return a.writeEnumValue(buf, ws, v, desc)
			}
		}
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			buf.WriteByte_(byte(TokenNull))
			return nil
		}
		if v.Elem().Kind() == reflect.Struct {
			return a.writeCustom(buf, ws, v)
		}
		return a.writeTop(buf, ws, v.Elem())
	case reflect.Bool:
		buf.WriteByte_(byte(TokenBoolean))
		buf.WriteBool(v.Bool())
		return nil
	case reflect.Int8:
		buf.WriteByte_(byte(TokenSByte))
		buf.WriteInt8(int8(v.Int()))
		return nil
	case reflect.Uint8:
		buf.WriteByte_(byte(TokenByte))
		buf.WriteByte_(byte(v.Uint()))
		return nil
	case reflect.Int16:
		buf.WriteByte_(byte(TokenInt16))
		writeIntMode(buf, ws.mode, v.Int(), 16)
		return nil
	case reflect.Uint16:
		buf.WriteByte_(byte(TokenUInt16))
		writeUintMode(buf, ws.mode, v.Uint(), 16)
		return nil
	case reflect.Int32:
		buf.WriteByte_(byte(TokenInt32))
		writeIntMode(buf, ws.mode, v.Int(), 32)
		return nil
	case reflect.Uint32:
		buf.WriteByte_(byte(TokenUInt32))
		writeUintMode(buf, ws.mode, v.Uint(), 32)
		return nil
	case reflect.Int, reflect.Int64:
		buf.WriteByte_(byte(TokenInt64))
		writeIntMode(buf, ws.mode, v.Int(), 64)
		return nil
	case reflect.Uint, reflect.Uint64:
		buf.WriteByte_(byte(TokenUInt64))
		writeUintMode(buf, ws.mode, v.Uint(), 64)
		return nil
	case reflect.Float32:
		buf.WriteByte_(byte(TokenSingle))
		buf.WriteFloat32(float32(v.Float()))
		return nil
	case reflect.Float64:
		buf.WriteByte_(byte(TokenDouble))
		buf.WriteFloat64(v.Float())
		return nil
	case reflect.String:
		buf.WriteByte_(byte(TokenString))
		ws.strings.write(buf, v.String())
		return nil
	case reflect.Slice, reflect.Array:
		// Null wins regardless of registration (§4.7 step 1 runs before
		// classification), so it is checked ahead of the registry lookup.
		if v.Kind() == reflect.Slice && v.IsNil() {
			buf.WriteByte_(byte(TokenNull))
			return nil
		}
		if _, ok := a.registry.Lookup(v.Type(), genericDefFor(v.Type())); ok {
			return a.writeCustom(buf, ws, v)
		}
		return a.writeArray(buf, ws, v)
	case reflect.Map:
		if v.IsNil() {
			buf.WriteByte_(byte(TokenNull))
			return nil
		}
		if _, ok := a.registry.Lookup(v.Type(), genericDefFor(v.Type())); ok {
			return a.writeCustom(buf, ws, v)
		}
		return a.writeMap(buf, ws, v)
	case reflect.Struct:
		return a.writeCustom(buf, ws, v)
	default:
		return &NoSerializerError{Type: v.Type().String()}
	}
}

func writeIntMode(buf *ByteBuffer, mode OptimizationMode, v int64, bits int) {
	if mode == ModeSpeed {
		switch bits {
		case 16:
			buf.WriteInt16(int16(v))
		case 32:
			buf.WriteInt32(int32(v))
		default:
			buf.WriteInt64(v)
		}
		return
	}
	switch bits {
	case 16, 32:
		buf.WriteVarInt32(int32(v))
	default:
		buf.WriteVarInt64(v)
	}
}

func writeUintMode(buf *ByteBuffer, mode OptimizationMode, v uint64, bits int) {
	if mode == ModeSpeed {
		switch bits {
		case 16:
			buf.WriteUint16(uint16(v))
		case 32:
			buf.WriteUint32(uint32(v))
		default:
			buf.WriteUint64(v)
		}
		return
	}
	switch bits {
	case 16, 32:
		buf.WriteVarUint32(uint32(v))
	default:
		buf.WriteVarUint64(v)
	}
}

// writeEnumValue writes the EnumValue token, the enum type's descriptor, and
// its underlying integer using the same width/encoding rules as the
// corresponding plain numeric token.
func (a *Archiver) writeEnumValue(buf *ByteBuffer, ws *writeState, v reflect.Value, desc TypeDescriptor) error {
	buf.WriteByte_(byte(TokenEnumValue))
	ws.types.write(buf, ws.assemblies, desc)
	switch v.Kind() {
	case reflect.Int8:
		buf.WriteInt8(int8(v.Int()))
	case reflect.Uint8:
		buf.WriteByte_(byte(v.Uint()))
	case reflect.Int16:
		writeIntMode(buf, ws.mode, v.Int(), 16)
	case reflect.Uint16:
		writeUintMode(buf, ws.mode, v.Uint(), 16)
	case reflect.Int32:
		writeIntMode(buf, ws.mode, v.Int(), 32)
	case reflect.Uint32:
		writeUintMode(buf, ws.mode, v.Uint(), 32)
	case reflect.Int, reflect.Int64:
		writeIntMode(buf, ws.mode, v.Int(), 64)
	case reflect.Uint, reflect.Uint64:
		writeUintMode(buf, ws.mode, v.Uint(), 64)
	}
	return nil
}

// writeArray handles both Slice (reference kind: identity assigned before
// descent, so self-referencing arrays round-trip) and fixed-size Array
// (value kind in Go: always inlined, never back-referenced). A fixed-size
// array still consumes an id, because readArray always appends its result
// to rs.objects.
func (a *Archiver) writeArray(buf *ByteBuffer, ws *writeState, v reflect.Value) error {
	if v.Kind() != reflect.Slice {
		ws.nextObjectID++
	} else {
		if v.IsNil() {
			buf.WriteByte_(byte(TokenNull))
			return nil
		}
		ptr := v.Pointer()
		if id, ok := ws.objects[ptr]; ok {
			buf.WriteByte_(byte(TokenObjectRef))
			buf.WriteVarUint32(id)
			return nil
		}
		id := ws.nextObjectID
		ws.nextObjectID++
		ws.objects[ptr] = id
	}

	buf.WriteByte_(byte(TokenArray))
	buf.WriteByte_(0) // collection kind 0: array/slice
	elemDesc, ok := a.resolver.DescribeType(v.Type().Elem())
	if !ok {
		elemDesc = descriptorForType(v.Type().Elem())
	}
	ws.types.write(buf, ws.assemblies, elemDesc)
	n := v.Len()
	buf.WriteVarUint32(uint32(n))
	for i := 0; i < n; i++ {
		if err := a.writeTop(buf, ws, v.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

// writeMap handles Go's native reference-kind generic collection, matched
// by §4.7's "generic collection... dictionary" branch.
func (a *Archiver) writeMap(buf *ByteBuffer, ws *writeState, v reflect.Value) error {
	if v.IsNil() {
		buf.WriteByte_(byte(TokenNull))
		return nil
	}
	ptr := v.Pointer()
	if id, ok := ws.objects[ptr]; ok {
		buf.WriteByte_(byte(TokenObjectRef))
		buf.WriteVarUint32(id)
		return nil
	}
	id := ws.nextObjectID
	ws.nextObjectID++
	ws.objects[ptr] = id

	buf.WriteByte_(byte(TokenArray))
	buf.WriteByte_(1) // collection kind 1: map
	keyDesc, ok := a.resolver.DescribeType(v.Type().Key())
	if !ok {
		keyDesc = descriptorForType(v.Type().Key())
	}
	valDesc, ok := a.resolver.DescribeType(v.Type().Elem())
	if !ok {
		valDesc = descriptorForType(v.Type().Elem())
	}
	ws.types.write(buf, ws.assemblies, keyDesc)
	ws.types.write(buf, ws.assemblies, valDesc)
	buf.WriteVarUint32(uint32(v.Len()))
	iter := v.MapRange()
	for iter.Next() {
		if err := a.writeTop(buf, ws, iter.Key()); err != nil {
			return err
		}
		if err := a.writeTop(buf, ws, iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

// writeCustom dispatches a struct (or pointer-to-struct), or a slice/map
// matched by a registered generic-definition/interface serializer, through
// the serializer registry, wrapped in ArchiveStart/ArchiveEnd. The identity
// id is committed only after the body finishes, so a cycle that loops back
// through a custom serializer before the body completes is caught by the
// in-flight check and rejected as ErrCyclicDependency, unlike arrays and
// maps whose ids are committed before descent.
//
// v is "tracked" when it has a stable address to dedup future ObjectRefs
// against: a pointer, an addressable value (e.g. reached through a struct
// field or slice element), or a reference-kind slice/map reached directly.
// A struct value boxed in an interface{} (e.g. a slice element copied into
// an interface word) is not addressable and so is untracked — but it still
// consumes an id, because readCustom always appends its result to
// rs.objects. Without that, the writer's and reader's id sequences would
// drift apart and an unrelated ObjectRef would resolve to the wrong object.
func (a *Archiver) writeCustom(buf *ByteBuffer, ws *writeState, v reflect.Value) error {
	var ptr uintptr
	tracked := false
	switch v.Kind() {
	case reflect.Ptr:
		ptr = v.Pointer()
		tracked = true
	case reflect.Slice, reflect.Map:
		if !v.IsNil() {
			ptr = v.Pointer()
			tracked = true
		}
	default:
		if v.CanAddr() {
			ptr = v.Addr().Pointer()
			tracked = true
		}
	}
	if tracked {
		if id, ok := ws.objects[ptr]; ok {
			buf.WriteByte_(byte(TokenObjectRef))
			buf.WriteVarUint32(id)
			return nil
		}
		if ws.inflight[ptr] {
			return fmt.Errorf("%w: %s", ErrCyclicDependency, v.Type())
		}
		ws.inflight[ptr] = true
		defer delete(ws.inflight, ptr)
	}

	buf.WriteByte_(byte(TokenArchiveStart))
	if err := a.writeObjectBody(buf, ws, v); err != nil {
		return err
	}
	buf.WriteByte_(byte(TokenArchiveEnd))

	id := ws.nextObjectID
	ws.nextObjectID++
	if tracked {
		ws.objects[ptr] = id
	}
	return nil
}

// writeObjectBody writes the type/version/hash header then dispatches to
// the registered internal or external serializer (§4.5, §4.6).
func (a *Archiver) writeObjectBody(buf *ByteBuffer, ws *writeState, v reflect.Value) error {
	t := v.Type()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	entry, ok := a.registry.Lookup(t, genericDefFor(t))
	if !ok {
		return &NoSerializerError{Type: t.String()}
	}
	desc, ok := a.resolver.DescribeType(t)
	if !ok {
		desc = descriptorForType(t)
	}
	ws.types.write(buf, ws.assemblies, desc)
	buf.WriteVarInt32(entry.maxVersion)
	buf.WriteVarUint64(structHash(t))

	wa := &WriteArchive{buf: buf, mode: ws.mode, version: entry.maxVersion, context: ws.context, ws: ws, arch: a}

	if entry.internalType != nil {
		ptrVal := v
		if v.Kind() != reflect.Ptr {
			if v.CanAddr() {
				ptrVal = v.Addr()
			} else {
				tmp := reflect.New(t)
				tmp.Elem().Set(v)
				ptrVal = tmp
			}
		}
		ser, ok := ptrVal.Interface().(InternalSerializer)
		if !ok {
			return &NoSerializerError{Type: t.String()}
		}
		return ser.WriteArchive(wa)
	}

	target := v
	if v.Kind() == reflect.Ptr {
		target = v.Elem()
	}
	return entry.external.WriteExternal(wa, target)
}

// --- read path ---

func (a *Archiver) readTop(buf *ByteBuffer, rs *readState) (reflect.Value, error) {
	tokByte, err := buf.ReadByte_()
	if err != nil {
		return reflect.Value{}, err
	}
	tok := Token(tokByte)
	switch tok {
	case TokenNull:
		return reflect.Value{}, nil
	case TokenObjectRef:
		id, err := buf.ReadVarUint32()
		if err != nil {
			return reflect.Value{}, err
		}
		if int(id) >= len(rs.objects) {
			return reflect.Value{}, fmt.Errorf("%w: object back-reference %d not yet committed", ErrCyclicDependency, id)
		}
		return rs.objects[id], nil
	case TokenBoolean:
		v, err := buf.ReadBool()
		return reflect.ValueOf(v), err
	case TokenSByte:
		v, err := buf.ReadInt8()
		return reflect.ValueOf(v), err
	case TokenByte:
		v, err := buf.ReadByte_()
		return reflect.ValueOf(v), err
	case TokenInt16:
		v, err := readIntMode(buf, rs.mode, 16)
		return reflect.ValueOf(int16(v)), err
	case TokenUInt16:
		v, err := readUintMode(buf, rs.mode, 16)
		return reflect.ValueOf(uint16(v)), err
	case TokenInt32:
		v, err := readIntMode(buf, rs.mode, 32)
		return reflect.ValueOf(int32(v)), err
	case TokenUInt32:
		v, err := readUintMode(buf, rs.mode, 32)
		return reflect.ValueOf(uint32(v)), err
	case TokenInt64:
		v, err := readIntMode(buf, rs.mode, 64)
		return reflect.ValueOf(v), err
	case TokenUInt64:
		v, err := readUintMode(buf, rs.mode, 64)
		return reflect.ValueOf(v), err
	case TokenSingle:
		v, err := buf.ReadFloat32()
		return reflect.ValueOf(v), err
	case TokenDouble:
		v, err := buf.ReadFloat64()
		return reflect.ValueOf(v), err
	case TokenString:
		v, err := rs.strings.read(buf)
		return reflect.ValueOf(v), err
	case TokenDecimal:
		v, err := buf.ReadDecimal()
		return reflect.ValueOf(v), err
	case TokenGuid:
		v, err := buf.ReadGuid()
		return reflect.ValueOf(v), err
	case TokenArray:
		return a.readCollection(buf, rs)
	case TokenArchiveStart:
		return a.readCustom(buf, rs)
	case TokenEnumValue:
		return a.readEnumValue(buf, rs)
	default:
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrUnknownToken, tok)
	}
}

func readIntMode(buf *ByteBuffer, mode OptimizationMode, bits int) (int64, error) {
	if mode == ModeSpeed {
		switch bits {
		case 16:
			v, err := buf.ReadInt16()
			return int64(v), err
		case 32:
			v, err := buf.ReadInt32()
			return int64(v), err
		default:
			return buf.ReadInt64()
		}
	}
	switch bits {
	case 16, 32:
		v, err := buf.ReadVarInt32()
		return int64(v), err
	default:
		return buf.ReadVarInt64()
	}
}

func readUintMode(buf *ByteBuffer, mode OptimizationMode, bits int) (uint64, error) {
	if mode == ModeSpeed {
		switch bits {
		case 16:
			v, err := buf.ReadUint16()
			return uint64(v), err
		case 32:
			v, err := buf.ReadUint32()
			return uint64(v), err
		default:
			return buf.ReadUint64()
		}
	}
	switch bits {
	case 16, 32:
		v, err := buf.ReadVarUint32()
		return uint64(v), err
	default:
		return buf.ReadVarUint64()
	}
}

// readEnumValue resolves the EnumValue token's type descriptor to a
// registered host type, then decodes the underlying integer using that
// type's Kind to pick the width/encoding, mirroring writeEnumValue.
func (a *Archiver) readEnumValue(buf *ByteBuffer, rs *readState) (reflect.Value, error) {
	desc, err := rs.types.read(buf, rs.assemblies)
	if err != nil {
		return reflect.Value{}, err
	}
	t, err := a.resolveDescriptor(desc)
	if err != nil {
		return reflect.Value{}, err
	}
	switch t.Kind() {
	case reflect.Int8:
		v, err := buf.ReadInt8()
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Uint8:
		v, err := buf.ReadByte_()
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Int16:
		v, err := readIntMode(buf, rs.mode, 16)
		return reflect.ValueOf(int16(v)).Convert(t), err
	case reflect.Uint16:
		v, err := readUintMode(buf, rs.mode, 16)
		return reflect.ValueOf(uint16(v)).Convert(t), err
	case reflect.Int32:
		v, err := readIntMode(buf, rs.mode, 32)
		return reflect.ValueOf(int32(v)).Convert(t), err
	case reflect.Uint32:
		v, err := readUintMode(buf, rs.mode, 32)
		return reflect.ValueOf(uint32(v)).Convert(t), err
	case reflect.Int, reflect.Int64:
		v, err := readIntMode(buf, rs.mode, 64)
		return reflect.ValueOf(v).Convert(t), err
	case reflect.Uint, reflect.Uint64:
		v, err := readUintMode(buf, rs.mode, 64)
		return reflect.ValueOf(v).Convert(t), err
	default:
		return reflect.Value{}, fmt.Errorf("binarch: enum type %s has non-integer underlying kind %s", t, t.Kind())
	}
}

func (a *Archiver) readCollection(buf *ByteBuffer, rs *readState) (reflect.Value, error) {
	kindByte, err := buf.ReadByte_()
	if err != nil {
		return reflect.Value{}, err
	}
	if kindByte == 1 {
		return a.readMap(buf, rs)
	}
	return a.readArray(buf, rs)
}

func (a *Archiver) readArray(buf *ByteBuffer, rs *readState) (reflect.Value, error) {
	elemDesc, err := rs.types.read(buf, rs.assemblies)
	if err != nil {
		return reflect.Value{}, err
	}
	elemType, err := a.resolveDescriptor(elemDesc)
	if err != nil {
		return reflect.Value{}, err
	}
	n, err := buf.ReadVarUint32()
	if err != nil {
		return reflect.Value{}, err
	}
	slice := reflect.MakeSlice(reflect.SliceOf(elemType), int(n), int(n))
	rs.objects = append(rs.objects, slice)
	for i := 0; i < int(n); i++ {
		ev, err := a.readTop(buf, rs)
		if err != nil {
			return reflect.Value{}, err
		}
		if ev.IsValid() {
			slice.Index(i).Set(coerce(ev, elemType))
		}
	}
	return slice, nil
}

func (a *Archiver) readMap(buf *ByteBuffer, rs *readState) (reflect.Value, error) {
	keyDesc, err := rs.types.read(buf, rs.assemblies)
	if err != nil {
		return reflect.Value{}, err
	}
	valDesc, err := rs.types.read(buf, rs.assemblies)
	if err != nil {
		return reflect.Value{}, err
	}
	keyType, err := a.resolveDescriptor(keyDesc)
	if err != nil {
		return reflect.Value{}, err
	}
	valType, err := a.resolveDescriptor(valDesc)
	if err != nil {
		return reflect.Value{}, err
	}
	n, err := buf.ReadVarUint32()
	if err != nil {
		return reflect.Value{}, err
	}
	m := reflect.MakeMapWithSize(reflect.MapOf(keyType, valType), int(n))
	rs.objects = append(rs.objects, m)
	for i := 0; i < int(n); i++ {
		kv, err := a.readTop(buf, rs)
		if err != nil {
			return reflect.Value{}, err
		}
		vv, err := a.readTop(buf, rs)
		if err != nil {
			return reflect.Value{}, err
		}
		m.SetMapIndex(coerce(kv, keyType), coerce(vv, valType))
	}
	return m, nil
}

func (a *Archiver) readCustom(buf *ByteBuffer, rs *readState) (reflect.Value, error) {
	desc, err := rs.types.read(buf, rs.assemblies)
	if err != nil {
		return reflect.Value{}, err
	}
	version, err := buf.ReadVarInt32()
	if err != nil {
		return reflect.Value{}, err
	}
	if _, err := buf.ReadVarUint64(); err != nil { // structural hash, informational
		return reflect.Value{}, err
	}
	t, err := a.resolveDescriptor(desc)
	if err != nil {
		return reflect.Value{}, err
	}
	entry, ok := a.registry.Lookup(t, genericDefFor(t))
	if !ok {
		return reflect.Value{}, &NoSerializerError{Type: t.String()}
	}
	if version > entry.maxVersion {
		return reflect.Value{}, &VersionNotSupportedError{Type: t.String(), StreamVersion: version, DeclaredMaxVer: entry.maxVersion}
	}

	ra := &ReadArchive{buf: buf, mode: rs.mode, version: version, context: rs.context, rs: rs, arch: a}

	var result reflect.Value
	if entry.internalType != nil {
		ptr := reflect.New(t)
		factory, ok := ptr.Interface().(InternalFactory)
		if !ok {
			return reflect.Value{}, &NoSerializerError{Type: t.String()}
		}
		if err := factory.ReadArchive(ra); err != nil {
			return reflect.Value{}, err
		}
		result = ptr
	} else {
		result, err = entry.external.ReadExternal(ra, reflect.New(t).Elem())
		if err != nil {
			return reflect.Value{}, err
		}
	}

	rs.objects = append(rs.objects, result)

	endByte, err := buf.ReadByte_()
	if err != nil {
		return reflect.Value{}, err
	}
	if Token(endByte) != TokenArchiveEnd {
		return reflect.Value{}, ErrInvalidArchiveState
	}
	return result, nil
}

func (a *Archiver) resolveDescriptor(d TypeDescriptor) (reflect.Type, error) {
	return a.resolver.Resolve(d, a.tolerant)
}

// coerce adapts a dynamically read value (always a concrete Go kind, e.g.
// int32) to the statically resolved container element type when they
// differ only by named-type wrapping.
func coerce(v reflect.Value, target reflect.Type) reflect.Value {
	if v.Type() == target {
		return v
	}
	if v.Type().ConvertibleTo(target) {
		return v.Convert(target)
	}
	return v
}

