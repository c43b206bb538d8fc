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
	"testing"

	"github.com/stretchr/testify/require"
)

type selfDescribing struct {
	Value int32
}

func (s *selfDescribing) WriteArchive(w *WriteArchive) error {
	w.WriteInt32(s.Value)
	return nil
}

func (s *selfDescribing) ReadArchive(r *ReadArchive) error {
	v, err := r.ReadInt32()
	if err != nil {
		return err
	}
	s.Value = v
	return nil
}

type notSelfDescribing struct {
	Value int32
}

func TestRegisterInternalRequiresBothInterfaces(t *testing.T) {
	reg := NewSerializerRegistry(nil)
	err := reg.RegisterInternal(reflect.TypeOf(selfDescribing{}), 3)
	require.NoError(t, err)

	err = reg.RegisterInternal(reflect.TypeOf(notSelfDescribing{}), 1)
	require.Error(t, err)
}

func TestLookupDispatchOrder(t *testing.T) {
	reg := NewSerializerRegistry(nil)
	require.NoError(t, reg.RegisterInternal(reflect.TypeOf(selfDescribing{}), 2))

	entry, ok := reg.Lookup(reflect.TypeOf(selfDescribing{}), "")
	require.True(t, ok)
	require.Equal(t, int32(2), entry.maxVersion)

	_, ok = reg.Lookup(reflect.TypeOf(notSelfDescribing{}), "")
	require.False(t, ok)
}

type stringerInterface interface {
	String() string
}

type stringerExternal struct{}

func (stringerExternal) WriteExternal(w *WriteArchive, v reflect.Value) error {
	w.WriteString(v.Interface().(stringerInterface).String())
	return nil
}

func (stringerExternal) ReadExternal(r *ReadArchive, v reflect.Value) (reflect.Value, error) {
	return v, nil
}

type namedThing struct{ n string }

func (n namedThing) String() string { return n.n }

func TestLookupInterfaceIsLastResort(t *testing.T) {
	reg := NewSerializerRegistry(nil)
	reg.RegisterExternalForInterface(reflect.TypeOf((*stringerInterface)(nil)).Elem(), stringerExternal{}, 1)

	_, ok := reg.Lookup(reflect.TypeOf(namedThing{}), "")
	require.True(t, ok)

	// An exact-type registration always wins over the interface fallback.
	reg.RegisterExternalForType(reflect.TypeOf(namedThing{}), stringerExternal{}, 9)
	entry, ok := reg.Lookup(reflect.TypeOf(namedThing{}), "")
	require.True(t, ok)
	require.Equal(t, int32(9), entry.maxVersion)
}

func TestLookupGenericDefinition(t *testing.T) {
	reg := NewSerializerRegistry(nil)
	reg.RegisterExternalForGenericDefinition(genericDefSlice, stringerExternal{}, 1)

	entry, ok := reg.Lookup(reflect.TypeOf([]int{}), genericDefSlice)
	require.True(t, ok)
	require.Equal(t, int32(1), entry.maxVersion)
}

func TestStructHashStable(t *testing.T) {
	h1 := structHash(reflect.TypeOf(selfDescribing{}))
	h2 := structHash(reflect.TypeOf(selfDescribing{}))
	require.Equal(t, h1, h2)

	h3 := structHash(reflect.TypeOf(widgetV1{}))
	require.NotEqual(t, h1, h3)
}
