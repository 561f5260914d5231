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
	"strings"

	"github.com/relopt/relopt/pkg/types"
)

// Function names used by the planner: the comparison and logic operators join
// conditions are made of, plus cast.
const (
	EQ       = "eq"
	NE       = "ne"
	LT       = "lt"
	LE       = "le"
	GT       = "gt"
	GE       = "ge"
	LogicAnd = "and"
	LogicOr  = "or"
	Cast     = "cast"
)

// Expression is a scalar expression evaluated against a row of its input
// relation. Columns reference input fields by offset.
type Expression interface {
	fmt.Stringer

	// Clone deep-copies the expression.
	Clone() Expression
	// Equal checks structural equality.
	Equal(e Expression) bool
	// GetType returns the result type.
	GetType() *types.FieldType
}

// Constant is a literal value. A nil Value means NULL.
type Constant struct {
	Value   any
	RetType *types.FieldType
}

// NewNull builds a NULL literal of the given type.
func NewNull(tp *types.FieldType) *Constant {
	return &Constant{RetType: tp.Nullable()}
}

// Clone implements Expression.
func (c *Constant) Clone() Expression {
	clone := *c
	clone.RetType = c.RetType.Clone()
	return &clone
}

// Equal implements Expression.
func (c *Constant) Equal(e Expression) bool {
	other, ok := e.(*Constant)
	if !ok {
		return false
	}
	return c.Value == other.Value && c.RetType.Equal(other.RetType)
}

// GetType implements Expression.
func (c *Constant) GetType() *types.FieldType { return c.RetType }

// String implements fmt.Stringer.
func (c *Constant) String() string {
	if c.Value == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", c.Value)
}

// ScalarFunction is a function application over argument expressions.
type ScalarFunction struct {
	FuncName string
	RetType  *types.FieldType
	args     []Expression
}

// NewFunction builds a scalar function. It does no type inference beyond what
// the caller supplies; the planner only composes, splits and remaps
// conditions, it never evaluates them.
func NewFunction(funcName string, retType *types.FieldType, args ...Expression) *ScalarFunction {
	return &ScalarFunction{
		FuncName: funcName,
		RetType:  retType,
		args:     args,
	}
}

// NewEQ builds an equality condition between two expressions.
func NewEQ(lhs, rhs Expression) *ScalarFunction {
	return NewFunction(EQ, types.NewFieldType(types.KindBool), lhs, rhs)
}

// NewCast wraps expr in a cast to tp.
func NewCast(expr Expression, tp *types.FieldType) *ScalarFunction {
	return NewFunction(Cast, tp.Clone(), expr)
}

// GetArgs returns the argument list.
func (sf *ScalarFunction) GetArgs() []Expression { return sf.args }

// Clone implements Expression.
func (sf *ScalarFunction) Clone() Expression {
	args := make([]Expression, 0, len(sf.args))
	for _, arg := range sf.args {
		args = append(args, arg.Clone())
	}
	return NewFunction(sf.FuncName, sf.RetType.Clone(), args...)
}

// Equal implements Expression.
func (sf *ScalarFunction) Equal(e Expression) bool {
	other, ok := e.(*ScalarFunction)
	if !ok || sf.FuncName != other.FuncName || len(sf.args) != len(other.args) {
		return false
	}
	for i, arg := range sf.args {
		if !arg.Equal(other.args[i]) {
			return false
		}
	}
	return true
}

// GetType implements Expression.
func (sf *ScalarFunction) GetType() *types.FieldType { return sf.RetType }

// String implements fmt.Stringer.
func (sf *ScalarFunction) String() string {
	argStrs := make([]string, 0, len(sf.args))
	for _, arg := range sf.args {
		argStrs = append(argStrs, arg.String())
	}
	return sf.FuncName + "(" + strings.Join(argStrs, ", ") + ")"
}
