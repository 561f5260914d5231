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

// Package relbuilder provides a stack-style builder for logical plan trees.
// Planning stages push intermediate relations and stack new operators on top;
// the resulting nodes are opaque inputs to the next builder call.
package relbuilder

import (
	"github.com/pingcap/errors"

	"github.com/relopt/relopt/pkg/expression"
	"github.com/relopt/relopt/pkg/planner/core/base"
	"github.com/relopt/relopt/pkg/planner/core/operator/logicalop"
)

// Builder assembles logical plans bottom-up over an operand stack.
type Builder struct {
	stack []base.LogicalPlan
	err   error
}

// New creates an empty Builder.
func New() *Builder {
	return &Builder{}
}

// Push puts a relation on the stack.
func (b *Builder) Push(p base.LogicalPlan) *Builder {
	if b.err != nil {
		return b
	}
	b.stack = append(b.stack, p)
	return b
}

// Peek returns the top of the stack without popping it.
func (b *Builder) Peek() base.LogicalPlan {
	if b.err != nil || len(b.stack) == 0 {
		return nil
	}
	return b.stack[len(b.stack)-1]
}

func (b *Builder) pop() base.LogicalPlan {
	if b.err != nil {
		return nil
	}
	if len(b.stack) == 0 {
		b.err = errors.New("relbuilder: pop from an empty stack")
		return nil
	}
	p := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return p
}

// Project replaces the top relation with a projection over it.
func (b *Builder) Project(exprs []expression.Expression, names []string) *Builder {
	child := b.pop()
	if b.err != nil {
		return b
	}
	if names != nil && len(names) != len(exprs) {
		b.err = errors.Errorf("relbuilder: %d names for %d projection exprs", len(names), len(exprs))
		return b
	}
	return b.Push(logicalop.NewProjection(child, exprs, names))
}

// Join pops the two top relations (right on top) and pushes their join. The
// condition's offsets must be in the merged field space of the operands.
func (b *Builder) Join(tp base.JoinType, cond expression.Expression) *Builder {
	right := b.pop()
	left := b.pop()
	if b.err != nil {
		return b
	}
	return b.Push(logicalop.NewJoin(tp, left, right, cond))
}

// Filter replaces the top relation with a selection over it. A nil condition
// is a no-op.
func (b *Builder) Filter(cond expression.Expression) *Builder {
	if b.err != nil || cond == nil {
		return b
	}
	child := b.pop()
	if b.err != nil {
		return b
	}
	return b.Push(logicalop.NewSelection(child, expression.SplitCNFItems(cond)))
}

// Build pops and returns the finished plan. It errors if the stack does not
// hold exactly one relation or any prior step failed.
func (b *Builder) Build() (base.LogicalPlan, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.stack) != 1 {
		return nil, errors.Errorf("relbuilder: expected a single relation on the stack, got %d", len(b.stack))
	}
	p := b.stack[0]
	b.stack = b.stack[:0]
	return p, nil
}
