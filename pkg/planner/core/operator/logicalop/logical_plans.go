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

package logicalop

import (
	"github.com/relopt/relopt/pkg/expression"
	"github.com/relopt/relopt/pkg/planner/core/base"
)

var (
	_ base.LogicalPlan = &DataSource{}
	_ base.LogicalPlan = &LogicalJoin{}
	_ base.LogicalPlan = &LogicalProjection{}
	_ base.LogicalPlan = &LogicalSelection{}
)

// DataSource represents a scan of a stored table or the opaque root of a
// subquery handed to the optimizer as a single join factor.
type DataSource struct {
	basePlan

	// TableName is empty for subquery factors.
	TableName string
}

// NewDataSource builds a DataSource with the given output schema.
func NewDataSource(tableName string, schema *expression.Schema) *DataSource {
	ds := &DataSource{basePlan: newBasePlan("DataSource"), TableName: tableName}
	ds.SetSchema(schema)
	return ds
}

// LogicalJoin is the logical join plan.
type LogicalJoin struct {
	basePlan

	JoinType base.JoinType
	// EqualConditions are equalities between one left-side and one right-side
	// column; offsets are in the join's merged schema.
	EqualConditions []*expression.ScalarFunction
	// OtherConditions are the remaining join conditions.
	OtherConditions []expression.Expression
}

// NewJoin builds a join of the two children. The condition is split into
// equality and other conditions; its offsets must already be in the merged
// schema of left and right. For a semi join the output schema is the left
// side's schema only.
func NewJoin(tp base.JoinType, left, right base.LogicalPlan, cond expression.Expression) *LogicalJoin {
	join := &LogicalJoin{basePlan: newBasePlan("Join"), JoinType: tp}
	join.SetChildren(left, right)
	if tp == base.SemiJoin {
		join.SetSchema(left.Schema().Clone())
	} else {
		join.SetSchema(expression.MergeSchema(left.Schema(), right.Schema()))
	}
	for _, item := range expression.SplitCNFItems(cond) {
		if lhs, rhs, ok := expression.ExtractEquality(item); ok &&
			lhs.Index < left.Schema().Len() && rhs.Index >= left.Schema().Len() {
			join.EqualConditions = append(join.EqualConditions, item.(*expression.ScalarFunction))
			continue
		}
		join.OtherConditions = append(join.OtherConditions, item)
	}
	return join
}

// Conditions returns all join conditions as one CNF list.
func (p *LogicalJoin) Conditions() []expression.Expression {
	conds := make([]expression.Expression, 0, len(p.EqualConditions)+len(p.OtherConditions))
	for _, eq := range p.EqualConditions {
		conds = append(conds, eq)
	}
	conds = append(conds, p.OtherConditions...)
	return conds
}

// LogicalProjection represents a select fields plan.
type LogicalProjection struct {
	basePlan

	Exprs []expression.Expression
}

// NewProjection builds a projection over child. Output column names are taken
// from names; a nil names slice falls back to the expression strings.
func NewProjection(child base.LogicalPlan, exprs []expression.Expression, names []string) *LogicalProjection {
	proj := &LogicalProjection{basePlan: newBasePlan("Projection"), Exprs: exprs}
	proj.SetChildren(child)
	cols := make([]*expression.Column, 0, len(exprs))
	for i, expr := range exprs {
		name := expr.String()
		if names != nil {
			name = names[i]
		}
		cols = append(cols, expression.NewColumn(i, name, expr.GetType().Clone()))
	}
	proj.SetSchema(expression.NewSchema(cols...))
	return proj
}

// LogicalSelection means a filter.
type LogicalSelection struct {
	basePlan

	Conditions []expression.Expression
}

// NewSelection builds a filter over child.
func NewSelection(child base.LogicalPlan, conds []expression.Expression) *LogicalSelection {
	sel := &LogicalSelection{basePlan: newBasePlan("Selection"), Conditions: conds}
	sel.SetChildren(child)
	sel.SetSchema(child.Schema().Clone())
	return sel
}
