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
	"sync"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

// InternalSerializer is the "internal" declaration of §4.5/§6: the type
// itself knows how to write its own body. Go has no single-argument
// constructor to discover via reflection, so the "constructor taking a
// read-archive" half of the contract is InternalFactory instead, matched to
// the same concrete type at registration time.
type InternalSerializer interface {
	WriteArchive(w *WriteArchive) error
}

// InternalFactory populates a freshly allocated zero value from a read
// archive — the Go-idiomatic stand-in for the source ecosystem's
// "constructor of arity one taking a read-archive".
type InternalFactory interface {
	ReadArchive(r *ReadArchive) error
}

// Versioned lets a type declare a max-version greater than the default of
// 1 (§6: "must declare a max-version integer >= 1").
type Versioned interface {
	MaxVersion() int32
}

// ExternalSerializer is the "external" declaration of §4.5/§6: a
// state-free serializer type declared apart from its target, used when the
// target type cannot be modified to implement InternalSerializer.
type ExternalSerializer interface {
	WriteExternal(w *WriteArchive, v reflect.Value) error
	ReadExternal(r *ReadArchive, v reflect.Value) (reflect.Value, error)
}

type registryEntry struct {
	internalType reflect.Type // set for internal declarations
	external     ExternalSerializer
	maxVersion   int32
}

// SerializerRegistry indexes custom-serializer declarations by exact type,
// generic definition, and implemented interface (§4.5). One instance is
// shared process-wide; build happens once, guarded, then reads are
// lock-free-safe under RWMutex (§5).
type SerializerRegistry struct {
	mu sync.RWMutex

	byExactType         map[reflect.Type]registryEntry
	byGenericDefinition map[string]registryEntry
	byInterface         []interfaceEntry

	logger *zap.Logger
}

type interfaceEntry struct {
	iface reflect.Type
	entry registryEntry
}

// NewSerializerRegistry creates an empty registry. A nil logger installs a
// no-op zap.Logger, keeping the core silent unless a caller opts in.
func NewSerializerRegistry(logger *zap.Logger) *SerializerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerializerRegistry{
		byExactType:         make(map[reflect.Type]registryEntry),
		byGenericDefinition: make(map[string]registryEntry),
		logger:              logger,
	}
}

// RegisterInternal declares type t as self-serializing. t must implement
// InternalSerializer; a maxVersion below 1 is replaced by the MaxVersion
// reported by t's zero value when t implements Versioned, and by 1
// otherwise.
func (r *SerializerRegistry) RegisterInternal(t reflect.Type, maxVersion int32) error {
	if t == nil {
		return fmt.Errorf("binarch: RegisterInternal: nil type")
	}
	ptr := reflect.PtrTo(t)
	if !ptr.Implements(reflect.TypeOf((*InternalSerializer)(nil)).Elem()) {
		r.logger.Debug("skipping internal registration: type does not implement InternalSerializer",
			zap.String("type", t.String()))
		return fmt.Errorf("binarch: %s does not implement InternalSerializer", t)
	}
	if !ptr.Implements(reflect.TypeOf((*InternalFactory)(nil)).Elem()) {
		r.logger.Debug("skipping internal registration: type does not implement InternalFactory",
			zap.String("type", t.String()))
		return fmt.Errorf("binarch: %s does not implement InternalFactory", t)
	}
	if maxVersion < 1 {
		maxVersion = 1
		if v, ok := reflect.New(t).Interface().(Versioned); ok && v.MaxVersion() > 1 {
			maxVersion = v.MaxVersion()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExactType[t] = registryEntry{internalType: t, maxVersion: maxVersion}
	r.logger.Debug("registered internal serializer", zap.String("type", t.String()), zap.Int32("maxVersion", maxVersion))
	return nil
}

// RegisterExternalForType declares s as the external serializer for the
// exact target type t.
func (r *SerializerRegistry) RegisterExternalForType(t reflect.Type, s ExternalSerializer, maxVersion int32) {
	if maxVersion < 1 {
		maxVersion = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExactType[t] = registryEntry{external: s, maxVersion: maxVersion}
	r.logger.Debug("registered external serializer (exact)", zap.String("type", t.String()))
}

// RegisterExternalForGenericDefinition declares s for any constructed
// generic sharing the unbound definition name (instantiated on demand per
// §4.5: "used for constructed generics").
func (r *SerializerRegistry) RegisterExternalForGenericDefinition(defName string, s ExternalSerializer, maxVersion int32) {
	if maxVersion < 1 {
		maxVersion = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byGenericDefinition[defName] = registryEntry{external: s, maxVersion: maxVersion}
	r.logger.Debug("registered external serializer (generic definition)", zap.String("definition", defName))
}

// RegisterExternalForInterface declares s as the last-resort serializer for
// any type implementing iface.
func (r *SerializerRegistry) RegisterExternalForInterface(iface reflect.Type, s ExternalSerializer, maxVersion int32) {
	if maxVersion < 1 {
		maxVersion = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byInterface = append(r.byInterface, interfaceEntry{iface: iface, entry: registryEntry{external: s, maxVersion: maxVersion}})
	r.logger.Debug("registered external serializer (interface)", zap.String("interface", iface.String()))
}

// Lookup implements §4.5's dispatch order: a type carrying the internal
// marker short-circuits everything else; otherwise exact -> generic
// definition (by the slice/map/pointer markers from resolver.go, or a
// user-declared name) -> interface, in that order.
func (r *SerializerRegistry) Lookup(t reflect.Type, genericDefinition string) (registryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.byExactType[t]; ok {
		return entry, true
	}
	if genericDefinition != "" {
		if entry, ok := r.byGenericDefinition[genericDefinition]; ok {
			return entry, true
		}
	}
	for _, ie := range r.byInterface {
		if t.Implements(ie.iface) || reflect.PtrTo(t).Implements(ie.iface) {
			return ie.entry, true
		}
	}
	return registryEntry{}, false
}

// --- structural hash (SPEC_FULL domain stack: murmur3) ---

// structHash computes a structural hash of a registered struct type's
// exported field layout (name + type string, in declaration order), written
// after the version in every ArchiveStart and BaseArchiveStart header
// (grounded in the pack's codegen file's computeStructHash precedent). It is
// informational only: the reader reads and discards it, so a struct shape
// that drifted since the stream was written is not detected. Two structs
// with the same exported field names and types hash alike.
func structHash(t reflect.Type) uint64 {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	h := murmur3.New64()
	if t.Kind() != reflect.Struct {
		return h.Sum64()
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		_, _ = h.Write([]byte(f.Name))
		_, _ = h.Write([]byte(f.Type.String()))
	}
	return h.Sum64()
}
