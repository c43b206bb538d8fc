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
	"time"
)

// timeExternalSerializer is the built-in §4.2 DateTime bridge for
// time.Time, registered by default on every Archiver so callers get
// DateTime semantics without writing their own ExternalSerializer.
type timeExternalSerializer struct{}

func (timeExternalSerializer) WriteExternal(w *WriteArchive, v reflect.Value) error {
	t := v.Interface().(time.Time)
	kind := DateTimeUnspecified
	switch t.Location() {
	case time.UTC:
		kind = DateTimeUtc
	case time.Local:
		kind = DateTimeLocal
	}
	w.WriteDateTime(t.UnixNano(), kind)
	return nil
}

func (timeExternalSerializer) ReadExternal(r *ReadArchive, v reflect.Value) (reflect.Value, error) {
	ticks, kind, err := r.ReadDateTime()
	if err != nil {
		return reflect.Value{}, err
	}
	var t time.Time
	switch kind {
	case DateTimeUtc:
		t = time.Unix(0, ticks).UTC()
	case DateTimeLocal:
		t = time.Unix(0, ticks).Local()
	default:
		t = time.Unix(0, ticks)
	}
	return reflect.ValueOf(t), nil
}

// registerBuiltins wires the built-in external serializers every Archiver
// carries regardless of user registration, mirroring the teacher's
// type.go registering its cross-language primitive TypeIds up front in
// newFory/newTypeResolver.
func registerBuiltins(a *Archiver) {
	a.registry.RegisterExternalForType(reflect.TypeOf(time.Time{}), timeExternalSerializer{}, 1)
	a.resolver.Register(reflect.TypeOf(time.Time{}), TypeDescriptor{
		Name:     "Time",
		Assembly: AssemblyIdentity{Name: "time"},
	})

	// Core primitive and any-kinds need a resolver entry too: the array/map
	// element-type header (§4.3) always names a type, even a built-in one,
	// and Resolve only ever answers from what was Register-ed (§4.4).
	for _, t := range []reflect.Type{
		reflect.TypeOf(false),
		reflect.TypeOf(int8(0)),
		reflect.TypeOf(byte(0)),
		reflect.TypeOf(int16(0)),
		reflect.TypeOf(uint16(0)),
		reflect.TypeOf(int32(0)),
		reflect.TypeOf(uint32(0)),
		reflect.TypeOf(int64(0)),
		reflect.TypeOf(uint64(0)),
		reflect.TypeOf(float32(0)),
		reflect.TypeOf(float64(0)),
		reflect.TypeOf(""),
		reflect.TypeOf(Decimal{}),
		reflect.TypeOf((*interface{})(nil)).Elem(),
	} {
		a.resolver.Register(t, descriptorForType(t))
	}
}
