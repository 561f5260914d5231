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

import (
	"fmt"

	"github.com/relopt/relopt/pkg/types"
)

// Column is an input reference: it designates the Index-th field of the
// relation the enclosing expression is evaluated against.
type Column struct {
	Index   int
	Name    string
	RetType *types.FieldType
}

// NewColumn builds a column reference.
func NewColumn(index int, name string, tp *types.FieldType) *Column {
	return &Column{Index: index, Name: name, RetType: tp}
}

// Clone implements Expression.
func (col *Column) Clone() Expression {
	clone := *col
	clone.RetType = col.RetType.Clone()
	return &clone
}

// Equal implements Expression. Only the input offset matters; names are
// display sugar.
func (col *Column) Equal(e Expression) bool {
	other, ok := e.(*Column)
	return ok && col.Index == other.Index
}

// GetType implements Expression.
func (col *Column) GetType() *types.FieldType { return col.RetType }

// String implements fmt.Stringer.
func (col *Column) String() string {
	if col.Name != "" {
		return fmt.Sprintf("%s#%d", col.Name, col.Index)
	}
	return fmt.Sprintf("#%d", col.Index)
}

// ExtractColumns returns every column referenced by expr, in reference order,
// duplicates included.
func ExtractColumns(expr Expression) []*Column {
	return extractColumns(nil, expr)
}

func extractColumns(result []*Column, expr Expression) []*Column {
	switch v := expr.(type) {
	case *Column:
		result = append(result, v)
	case *ScalarFunction:
		for _, arg := range v.GetArgs() {
			result = extractColumns(result, arg)
		}
	}
	return result
}

// RemapColumns rewrites every column reference in expr using the adjustment
// table: a column at offset i moves to offset i+adjustments[i]. The table must
// cover every referenced offset. The input is not modified.
func RemapColumns(expr Expression, adjustments []int) Expression {
	switch v := expr.(type) {
	case *Column:
		clone := v.Clone().(*Column)
		clone.Index = v.Index + adjustments[v.Index]
		return clone
	case *ScalarFunction:
		args := make([]Expression, 0, len(v.GetArgs()))
		for _, arg := range v.GetArgs() {
			args = append(args, RemapColumns(arg, adjustments))
		}
		return NewFunction(v.FuncName, v.RetType.Clone(), args...)
	default:
		return expr.Clone()
	}
}

// SubstituteColumns replaces column references in expr according to repl,
// keyed by input offset. Columns absent from repl are kept as-is. The input is
// not modified.
func SubstituteColumns(expr Expression, repl map[int]Expression) Expression {
	switch v := expr.(type) {
	case *Column:
		if sub, ok := repl[v.Index]; ok {
			return sub.Clone()
		}
		return v.Clone()
	case *ScalarFunction:
		args := make([]Expression, 0, len(v.GetArgs()))
		for _, arg := range v.GetArgs() {
			args = append(args, SubstituteColumns(arg, repl))
		}
		return NewFunction(v.FuncName, v.RetType.Clone(), args...)
	default:
		return expr.Clone()
	}
}

// ExtractEquality recognizes a plain equi-join condition: an equality between
// two bare column references. Only such predicates can serve as join keys.
func ExtractEquality(expr Expression) (lhs, rhs *Column, ok bool) {
	sf, isFunc := expr.(*ScalarFunction)
	if !isFunc || sf.FuncName != EQ || len(sf.GetArgs()) != 2 {
		return nil, nil, false
	}
	lhs, okL := sf.GetArgs()[0].(*Column)
	rhs, okR := sf.GetArgs()[1].(*Column)
	if !okL || !okR {
		return nil, nil, false
	}
	return lhs, rhs, true
}
