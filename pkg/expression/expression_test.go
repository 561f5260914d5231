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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relopt/relopt/pkg/types"
)

func intCol(idx int) *Column {
	return NewColumn(idx, "", types.NewFieldType(types.KindInt))
}

func TestSplitAndComposeCNF(t *testing.T) {
	a := NewEQ(intCol(0), intCol(1))
	b := NewEQ(intCol(1), intCol(2))
	c := NewEQ(intCol(2), intCol(3))

	require.Nil(t, ComposeCNFCondition())
	require.Same(t, Expression(a), ComposeCNFCondition(a))

	composed := ComposeCNFCondition(a, ComposeCNFCondition(b, c))
	items := SplitCNFItems(composed)
	require.Len(t, items, 3)
	require.True(t, items[0].Equal(a))
	require.True(t, items[1].Equal(b))
	require.True(t, items[2].Equal(c))

	require.Nil(t, SplitCNFItems(nil))
}

func TestRemapColumns(t *testing.T) {
	cond := NewEQ(intCol(0), intCol(2))
	adjustments := []int{3, 0, -1, 0}
	remapped := RemapColumns(cond, adjustments)

	cols := ExtractColumns(remapped)
	require.Len(t, cols, 2)
	require.Equal(t, 3, cols[0].Index)
	require.Equal(t, 1, cols[1].Index)
	// The input is untouched.
	require.Equal(t, 0, ExtractColumns(cond)[0].Index)
}

func TestSubstituteColumns(t *testing.T) {
	cond := NewEQ(intCol(0), intCol(1))
	substituted := SubstituteColumns(cond, map[int]Expression{
		1: NewNull(types.NewFieldType(types.KindInt)),
	})
	sf := substituted.(*ScalarFunction)
	require.IsType(t, &Column{}, sf.GetArgs()[0])
	require.IsType(t, &Constant{}, sf.GetArgs()[1])
}

func TestExtractEquality(t *testing.T) {
	lhs, rhs, ok := ExtractEquality(NewEQ(intCol(1), intCol(4)))
	require.True(t, ok)
	require.Equal(t, 1, lhs.Index)
	require.Equal(t, 4, rhs.Index)

	_, _, ok = ExtractEquality(NewEQ(intCol(1), NewNull(types.NewFieldType(types.KindInt))))
	require.False(t, ok)

	lt := NewFunction(LT, types.NewFieldType(types.KindBool), intCol(0), intCol(1))
	_, _, ok = ExtractEquality(lt)
	require.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	cond := NewEQ(intCol(0), intCol(1))
	clone := cond.Clone().(*ScalarFunction)
	clone.GetArgs()[0].(*Column).Index = 9
	require.Equal(t, 0, cond.GetArgs()[0].(*Column).Index)
	require.True(t, cond.Equal(NewEQ(intCol(0), intCol(1))))
	require.False(t, cond.Equal(clone))
}

func TestNullConstant(t *testing.T) {
	null := NewNull(&types.FieldType{Kind: types.KindInt, NotNull: true})
	require.Nil(t, null.Value)
	require.False(t, null.RetType.NotNull)
	require.Equal(t, "NULL", null.String())
}

func TestSchemaRenumbersAndMerges(t *testing.T) {
	left := NewSchema(
		NewColumn(5, "a", types.NewFieldType(types.KindInt)),
		NewColumn(7, "b", types.NewFieldType(types.KindString)),
	)
	require.Equal(t, 0, left.Columns[0].Index)
	require.Equal(t, 1, left.Columns[1].Index)

	right := NewSchema(NewColumn(0, "c", types.NewFieldType(types.KindInt)))
	merged := MergeSchema(left, right)
	require.Equal(t, 3, merged.Len())
	require.Equal(t, 2, merged.Columns[2].Index)
	require.Equal(t, "c", merged.Columns[2].Name)

	require.True(t, merged.Contains(intCol(2)))
	require.False(t, merged.Contains(intCol(3)))
}
