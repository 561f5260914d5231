// Copyright 2025 The RelOpt Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

// TypeKind is the kind of a field type.
type TypeKind byte

// Field type kinds.
const (
	KindUnspecified TypeKind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindBytes
	KindTime
)

var kindNames = map[TypeKind]string{
	KindUnspecified: "unspecified",
	KindBool:        "bool",
	KindInt:         "int",
	KindFloat:       "float",
	KindDecimal:     "decimal",
	KindString:      "string",
	KindBytes:       "bytes",
	KindTime:        "time",
}

// String implements fmt.Stringer.
func (k TypeKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// FieldType describes the type of a field.
type FieldType struct {
	Kind    TypeKind
	NotNull bool
}

// NewFieldType creates a nullable FieldType of the given kind.
func NewFieldType(kind TypeKind) *FieldType {
	return &FieldType{Kind: kind}
}

// Clone returns a deep copy of ft.
func (ft *FieldType) Clone() *FieldType {
	clone := *ft
	return &clone
}

// Nullable returns a copy of ft with the NOT NULL constraint dropped. A
// null-generating join side pads missing rows with NULLs, so its field types
// must admit NULL whatever the source declared.
func (ft *FieldType) Nullable() *FieldType {
	clone := ft.Clone()
	clone.NotNull = false
	return clone
}

// Equal checks whether two field types are identical.
func (ft *FieldType) Equal(other *FieldType) bool {
	if ft == nil || other == nil {
		return ft == other
	}
	return ft.Kind == other.Kind && ft.NotNull == other.NotNull
}

// String implements fmt.Stringer.
func (ft *FieldType) String() string {
	if ft.NotNull {
		return ft.Kind.String() + " not null"
	}
	return ft.Kind.String()
}
