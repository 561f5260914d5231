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

package relbuilder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relopt/relopt/pkg/expression"
	"github.com/relopt/relopt/pkg/planner/core/base"
	"github.com/relopt/relopt/pkg/planner/core/operator/logicalop"
	"github.com/relopt/relopt/pkg/types"
)

func testScan(name string, cols int) *logicalop.DataSource {
	fields := make([]*expression.Column, 0, cols)
	for i := 0; i < cols; i++ {
		fields = append(fields, expression.NewColumn(i, name, types.NewFieldType(types.KindInt)))
	}
	return logicalop.NewDataSource(name, expression.NewSchema(fields...))
}

func TestBuilderAssemblesJoinFilterProject(t *testing.T) {
	left := testScan("l", 2)
	right := testScan("r", 1)
	cond := expression.NewEQ(
		expression.NewColumn(0, "", types.NewFieldType(types.KindInt)),
		expression.NewColumn(2, "", types.NewFieldType(types.KindInt)))

	plan, err := New().
		Push(left).
		Push(right).
		Join(base.InnerJoin, cond).
		Filter(expression.NewEQ(
			expression.NewColumn(1, "", types.NewFieldType(types.KindInt)),
			expression.NewColumn(2, "", types.NewFieldType(types.KindInt)))).
		Project([]expression.Expression{
			expression.NewColumn(0, "k", types.NewFieldType(types.KindInt)),
		}, []string{"k"}).
		Build()
	require.NoError(t, err)

	proj, ok := plan.(*logicalop.LogicalProjection)
	require.True(t, ok)
	require.Equal(t, 1, proj.Schema().Len())
	sel, ok := proj.Children()[0].(*logicalop.LogicalSelection)
	require.True(t, ok)
	join, ok := sel.Children()[0].(*logicalop.LogicalJoin)
	require.True(t, ok)
	require.Same(t, base.LogicalPlan(left), join.Children()[0])
	require.Same(t, base.LogicalPlan(right), join.Children()[1])
	require.Equal(t, 3, join.Schema().Len())
}

func TestBuilderNilFilterIsNoOp(t *testing.T) {
	scan := testScan("t", 1)
	plan, err := New().Push(scan).Filter(nil).Build()
	require.NoError(t, err)
	require.Same(t, base.LogicalPlan(scan), plan)
}

func TestBuilderErrorsPropagate(t *testing.T) {
	_, err := New().Build()
	require.Error(t, err)

	_, err = New().Push(testScan("t", 1)).Join(base.InnerJoin, nil).Build()
	require.Error(t, err)

	_, err = New().
		Push(testScan("t", 1)).
		Project([]expression.Expression{
			expression.NewColumn(0, "", types.NewFieldType(types.KindInt)),
		}, []string{"a", "b"}).
		Build()
	require.Error(t, err)

	_, err = New().Push(testScan("a", 1)).Push(testScan("b", 1)).Build()
	require.Error(t, err)
}

func TestBuilderPeek(t *testing.T) {
	scan := testScan("t", 1)
	b := New().Push(scan)
	require.Same(t, base.LogicalPlan(scan), b.Peek())
	require.Nil(t, New().Peek())
}
