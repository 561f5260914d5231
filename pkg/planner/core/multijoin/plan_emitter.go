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

package multijoin

import (
	"github.com/cockroachdb/errors"

	"github.com/relopt/relopt/pkg/expression"
	"github.com/relopt/relopt/pkg/planner/core/base"
	"github.com/relopt/relopt/pkg/planner/core/relbuilder"
)

// CandidatePlan is one finished ordering: a plan whose output schema matches
// the original N-way join field for field, ready for the downstream chooser.
type CandidatePlan struct {
	// StartFactor is the factor the greedy search grew this ordering from.
	StartFactor int
	// TreeOrder lists the factors in final tree order, left to right.
	TreeOrder []int
	// Plan restores the original field order and names over the join tree and
	// reapplies the residual filter.
	Plan base.LogicalPlan
}

// planEmitter turns finished join trees into candidate plans.
type planEmitter struct {
	fs  *FactorSet
	sel *semiJoinSelector
}

// emit caps the tree with a projection walking the original factor order.
// Fields of replaced factors resolve through the replacement projections
// already in the tree, so every original field has exactly one source offset.
// The restoring projection puts fields back at their original positions,
// letting the residual filter apply with its offsets untouched.
func (e *planEmitter) emit(tree *joinTree, start int) (*CandidatePlan, error) {
	plan, fieldMap, err := tree.materialize(e.fs, e.sel)
	if err != nil {
		return nil, err
	}
	total := e.fs.TotalFields()
	exprs := make([]expression.Expression, 0, total)
	names := make([]string, 0, total)
	for field := 0; field < total; field++ {
		offset := fieldMap[field]
		if offset < 0 {
			return nil, errors.AssertionFailedf(
				"finished tree for start factor %d does not carry field %d", start, field)
		}
		name := e.fs.FieldName(field)
		exprs = append(exprs, expression.NewColumn(offset, name, e.fs.FieldType(field).Clone()))
		names = append(names, name)
	}
	final, err := relbuilder.New().
		Push(plan).
		Project(exprs, names).
		Filter(e.fs.Residual()).
		Build()
	if err != nil {
		return nil, err
	}
	return &CandidatePlan{
		StartFactor: start,
		TreeOrder:   tree.order,
		Plan:        final,
	}, nil
}
