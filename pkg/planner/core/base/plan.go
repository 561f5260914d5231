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

package base

import "github.com/relopt/relopt/pkg/expression"

// LogicalPlan is a relational operator tree node. Planning stages build and
// rewrite these; nothing here executes.
type LogicalPlan interface {
	// ID returns the unique id of the plan node.
	ID() int
	// TP returns the type name of the plan node.
	TP() string
	// Schema returns the output schema.
	Schema() *expression.Schema
	// Children returns the child plans.
	Children() []LogicalPlan
	// SetChildren replaces the child plans.
	SetChildren(...LogicalPlan)
}

// JoinType contains CrossJoin, InnerJoin, LeftOuterJoin, RightOuterJoin, FullOuterJoin, SemiJoin.
type JoinType int

// Join types.
const (
	// InnerJoin means inner join.
	InnerJoin JoinType = iota
	// LeftOuterJoin means left join, the right side may be padded with NULLs.
	LeftOuterJoin
	// RightOuterJoin means right join, the left side may be padded with NULLs.
	RightOuterJoin
	// FullOuterJoin means full join, both sides may be padded with NULLs.
	FullOuterJoin
	// SemiJoin keeps left rows that have a match on the right; only the left
	// side's fields appear in the output.
	SemiJoin
)

// IsOuterJoin returns true if it's a left/right/full outer join.
func (tp JoinType) IsOuterJoin() bool {
	return tp == LeftOuterJoin || tp == RightOuterJoin || tp == FullOuterJoin
}

// String implements fmt.Stringer.
func (tp JoinType) String() string {
	switch tp {
	case InnerJoin:
		return "inner join"
	case LeftOuterJoin:
		return "left outer join"
	case RightOuterJoin:
		return "right outer join"
	case FullOuterJoin:
		return "full outer join"
	case SemiJoin:
		return "semi join"
	}
	return "unsupported join type"
}
