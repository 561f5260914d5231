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
	"sync/atomic"

	"github.com/relopt/relopt/pkg/expression"
	"github.com/relopt/relopt/pkg/planner/core/base"
)

var planIDAlloc atomic.Int64

func allocPlanID() int {
	return int(planIDAlloc.Add(1))
}

type basePlan struct {
	tp       string
	id       int
	schema   *expression.Schema
	children []base.LogicalPlan
}

func newBasePlan(tp string) basePlan {
	return basePlan{tp: tp, id: allocPlanID()}
}

// ID implements base.LogicalPlan.
func (p *basePlan) ID() int { return p.id }

// TP implements base.LogicalPlan.
func (p *basePlan) TP() string { return p.tp }

// Schema implements base.LogicalPlan.
func (p *basePlan) Schema() *expression.Schema { return p.schema }

// SetSchema sets the output schema.
func (p *basePlan) SetSchema(schema *expression.Schema) { p.schema = schema }

// Children implements base.LogicalPlan.
func (p *basePlan) Children() []base.LogicalPlan { return p.children }

// SetChildren implements base.LogicalPlan.
func (p *basePlan) SetChildren(children ...base.LogicalPlan) { p.children = children }
