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
	"sync"
)

// TypeResolver matches persisted type descriptors to host types (§4.4). It
// is process-wide and read-mostly: registration happens up front (or
// incrementally, guarded by mu), and resolution afterwards takes the read
// lock, except that a tolerant fallback hit takes the write lock to cache
// its result, matching §5's "registry... process-wide, read-only under
// normal operation; concurrent reads are safe".
type TypeResolver struct {
	mu sync.RWMutex

	// exact: assembly-qualified key -> host type
	byKey map[string]reflect.Type
	// tolerant: bare name -> host type, ignoring assembly identity
	byName map[string]reflect.Type
	// reverse direction, used when writing
	typeToDescriptor map[reflect.Type]TypeDescriptor

	tolerant bool
}

// NewTypeResolver creates an empty resolver. tolerant is stored on the
// resolver, but Resolve does not read it: each Resolve call takes the §4.4
// fallback mode from its own tolerant argument.
func NewTypeResolver(tolerant bool) *TypeResolver {
	return &TypeResolver{
		byKey:            make(map[string]reflect.Type),
		byName:           make(map[string]reflect.Type),
		typeToDescriptor: make(map[reflect.Type]TypeDescriptor),
		tolerant:         tolerant,
	}
}

// Register associates a concrete host type with the descriptor that will
// name it on the wire. Safe to call concurrently: callers racing to
// register on the same resolver block on each other (§5: "guarded so that
// concurrent first callers block until the scan completes"). A later call
// for the same descriptor key or type replaces the earlier entry, while
// the bare-name entry used by tolerant resolution keeps the first type
// registered under that name.
func (r *TypeResolver) Register(t reflect.Type, d TypeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[d.Key()] = t
	if _, exists := r.byName[d.Name]; !exists {
		r.byName[d.Name] = t
	}
	r.typeToDescriptor[t] = d
}

// DescribeType returns the descriptor a previously Register-ed type should
// be written as. Reference types not explicitly registered (anonymous
// structural types) are described on the fly by the caller; this only
// serves the named-registration path (SUPPLEMENTED FEATURE 1).
func (r *TypeResolver) DescribeType(t reflect.Type) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.typeToDescriptor[t]
	return d, ok
}

// Resolve implements §4.4's strategy: exact match first, then (if tolerant)
// a name-only search across every registered type, ignoring assembly
// identity — simulating "search all loaded assemblies" since a Go process
// has a single, statically linked type universe rather than discoverable
// assemblies.
func (r *TypeResolver) Resolve(d TypeDescriptor, tolerant bool) (reflect.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d.ArrayRank > 0 {
		elemType, err := r.Resolve(*d.ElemType, tolerant)
		if err != nil {
			return nil, err
		}
		if d.ArrayRank == 1 {
			return reflect.SliceOf(elemType), nil
		}
		return reflect.ArrayOf(d.ArrayRank, elemType), nil
	}

	// An unregistered map matched through the registry's generic-definition
	// tier (§4.5) is described structurally by descriptorForType rather than
	// a byKey-registered descriptor: its Name is the genericDefMap marker
	// and Args carries the key/value descriptors in order.
	if d.Name == genericDefMap && len(d.Args) == 2 {
		keyType, err := r.Resolve(d.Args[0], tolerant)
		if err != nil {
			return nil, err
		}
		valType, err := r.Resolve(d.Args[1], tolerant)
		if err != nil {
			return nil, err
		}
		return ResolveGenericDefinition(genericDefMap, []reflect.Type{keyType, valType})
	}

	key := d.Key()
	r.mu.RLock()
	t, ok := r.byKey[key]
	_, named := r.byName[d.Name]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}
	if !named {
		return nil, &TypeNotFoundError{TypeName: d.Name, Tolerant: tolerant}
	}
	if !tolerant {
		return nil, &AssemblyNotFoundError{Assembly: d.Assembly, TypeName: d.Name}
	}
	// Cache the tolerant hit under the exact key so future lookups in
	// this process skip the fallback (§4.4: "pick the first match;
	// cache the result").
	r.mu.Lock()
	defer r.mu.Unlock()
	t = r.byName[d.Name]
	r.byKey[key] = t
	return t, nil
}

// ResolveGenericDefinition resolves a constructed generic built-in
// container (slice, map, pointer) from a definition name and already
// resolved type arguments, mirroring the teacher's decodeType recursion in
// type.go (reflect.SliceOf / reflect.MapOf / reflect.PtrTo).
func ResolveGenericDefinition(definition string, args []reflect.Type) (reflect.Type, error) {
	switch definition {
	case genericDefSlice:
		if len(args) != 1 {
			return nil, &MalformedTypeNameError{Raw: definition}
		}
		return reflect.SliceOf(args[0]), nil
	case genericDefMap:
		if len(args) != 2 {
			return nil, &MalformedTypeNameError{Raw: definition}
		}
		return reflect.MapOf(args[0], args[1]), nil
	case genericDefPtr:
		if len(args) != 1 {
			return nil, &MalformedTypeNameError{Raw: definition}
		}
		return reflect.PtrTo(args[0]), nil
	default:
		return nil, &TypeNotFoundError{TypeName: definition}
	}
}

// Canonical generic-definition names used for Go's built-in parameterized
// types, the closest equivalent Go has to the source ecosystem's unbound
// generic type definitions (§4.3's "placeholder form").
const (
	genericDefSlice = "[]"
	genericDefMap   = "map"
	genericDefPtr   = "*"
)
