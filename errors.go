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
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra structured detail.
// Check with errors.Is.
var (
	ErrTruncatedInput      = errors.New("binarch: truncated input")
	ErrOverflow            = errors.New("binarch: varint overflow")
	ErrUnknownToken        = errors.New("binarch: unknown token")
	ErrCyclicDependency    = errors.New("binarch: cyclic dependency through custom serializer")
	ErrInvalidArchiveState = errors.New("binarch: invalid archive state")
)

// TypeNotFoundError is returned when a persisted type name cannot be matched
// to a host type (strict mode), or cannot be found by name anywhere
// (tolerant mode).
type TypeNotFoundError struct {
	TypeName string
	Tolerant bool
}

func (e *TypeNotFoundError) Error() string {
	if e.Tolerant {
		return fmt.Sprintf("binarch: type %q not found in any loaded assembly (tolerant)", e.TypeName)
	}
	return fmt.Sprintf("binarch: type %q not found", e.TypeName)
}

// AssemblyNotFoundError is returned in strict mode when the exact assembly
// identity named in the stream is not present on the host, while the type
// name is registered under another assembly identity.
type AssemblyNotFoundError struct {
	Assembly AssemblyIdentity
	TypeName string
}

func (e *AssemblyNotFoundError) Error() string {
	return fmt.Sprintf("binarch: assembly %q not found for type %q", e.Assembly.Name, e.TypeName)
}

// NoSerializerError is returned when the registry has no internal, generic,
// or interface-matched serializer for a type that requires one.
type NoSerializerError struct {
	Type string
}

func (e *NoSerializerError) Error() string {
	return fmt.Sprintf("binarch: no serializer registered for type %s", e.Type)
}

// VersionNotSupportedError is returned either by the core (stream version
// exceeds the declared max) or thrown by user serializer code for a version
// it does not understand.
type VersionNotSupportedError struct {
	Type           string
	StreamVersion  int32
	DeclaredMaxVer int32
}

func (e *VersionNotSupportedError) Error() string {
	return fmt.Sprintf("binarch: %s: stream version %d not supported (declared max %d)",
		e.Type, e.StreamVersion, e.DeclaredMaxVer)
}

// MalformedTypeNameError is returned by the type-name codec when a persisted
// name cannot be parsed back into a descriptor.
type MalformedTypeNameError struct {
	Raw string
}

func (e *MalformedTypeNameError) Error() string {
	return fmt.Sprintf("binarch: malformed type name %q", e.Raw)
}
