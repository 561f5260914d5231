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

package expression

import "strings"

// Schema stands for the row schema of a relation. Column offsets are local to
// the relation: the i-th column has Index i.
type Schema struct {
	Columns []*Column
}

// NewSchema builds a schema from columns, renumbering them to 0..n-1.
func NewSchema(cols ...*Column) *Schema {
	renumbered := make([]*Column, 0, len(cols))
	for i, col := range cols {
		clone := col.Clone().(*Column)
		clone.Index = i
		renumbered = append(renumbered, clone)
	}
	return &Schema{Columns: renumbered}
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.Columns) }

// Clone copies the schema.
func (s *Schema) Clone() *Schema {
	return NewSchema(s.Columns...)
}

// Contains reports whether the schema has a column at the given offset.
func (s *Schema) Contains(col *Column) bool {
	return col.Index >= 0 && col.Index < len(s.Columns)
}

// MergeSchema concatenates the schemas of a join's children into the join's
// output schema, shifting the right side's offsets past the left side.
func MergeSchema(lSchema, rSchema *Schema) *Schema {
	if lSchema == nil && rSchema == nil {
		return nil
	}
	cols := make([]*Column, 0, lSchema.Len()+rSchema.Len())
	cols = append(cols, lSchema.Columns...)
	cols = append(cols, rSchema.Columns...)
	return NewSchema(cols...)
}

// String implements fmt.Stringer.
func (s *Schema) String() string {
	colStrs := make([]string, 0, len(s.Columns))
	for _, col := range s.Columns {
		colStrs = append(colStrs, col.String())
	}
	return "[" + strings.Join(colStrs, ",") + "]"
}
