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
	"fmt"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/relopt/relopt/pkg/expression"
	"github.com/relopt/relopt/pkg/planner/core/base"
	"github.com/relopt/relopt/pkg/planner/core/relbuilder"
)

type treeKind int

const (
	treeLeaf treeKind = iota
	treeJoin
	treeReplacement
)

// joinTree is one node of a candidate ordering under construction. Nodes are
// immutable once built, so push-down alternatives can share subtrees freely.
//
// Join conditions and replacement filters are stored in the original combined
// field space; materialization remaps them into each node's output schema.
type joinTree struct {
	kind treeKind

	// treeLeaf
	factor int

	// treeJoin
	left, right *joinTree
	joinType    base.JoinType
	cond        []*Predicate

	// treeReplacement: wrapped gains the replaced factor's fields as a
	// projection, no join executed.
	wrapped  *joinTree
	replaced int
	// filter holds predicates applied on top of a replacement projection or a
	// start leaf; stored in the original combined field space like cond.
	filter []*Predicate

	// coverage has a bit per factor represented by this subtree, replaced
	// factors included.
	coverage *bitset.BitSet
	// order is the subtree's factors in tree order, left to right.
	order []int

	// materialization cache
	plan base.LogicalPlan
	// fieldMap maps each combined-space field to its offset in plan's output,
	// or -1 when the subtree does not carry it.
	fieldMap []int
}

func newLeafTree(fs *FactorSet, factor int) *joinTree {
	t := &joinTree{
		kind:     treeLeaf,
		factor:   factor,
		coverage: bitset.New(uint(fs.FactorCount())),
		order:    []int{factor},
	}
	t.coverage.Set(uint(factor))
	return t
}

func newJoinNode(left, right *joinTree, joinType base.JoinType, cond []*Predicate) *joinTree {
	t := &joinTree{
		kind:     treeJoin,
		factor:   noFactor,
		left:     left,
		right:    right,
		joinType: joinType,
		cond:     cond,
		coverage: left.coverage.Union(right.coverage),
	}
	t.order = append(t.order, left.order...)
	t.order = append(t.order, right.order...)
	return t
}

// newReplacementNode splices the replaced factor into wrapped as a projection.
// anchor, when not noFactor, is the factor the replaced one must directly
// follow in tree order.
func newReplacementNode(wrapped *joinTree, replaced, anchor int, filter []*Predicate) *joinTree {
	t := &joinTree{
		kind:     treeReplacement,
		factor:   noFactor,
		wrapped:  wrapped,
		replaced: replaced,
		filter:   filter,
		coverage: wrapped.coverage.Clone(),
	}
	t.coverage.Set(uint(replaced))
	t.order = make([]int, 0, len(wrapped.order)+1)
	inserted := false
	for _, f := range wrapped.order {
		t.order = append(t.order, f)
		if f == anchor {
			t.order = append(t.order, replaced)
			inserted = true
		}
	}
	if !inserted {
		t.order = append(t.order, replaced)
	}
	return t
}

// Contains reports whether the subtree covers the factor.
func (t *joinTree) Contains(factor int) bool {
	return t.coverage.Test(uint(factor))
}

// width is the number of fields in the subtree's output row.
func (t *joinTree) width(fs *FactorSet) int {
	switch t.kind {
	case treeLeaf:
		return fs.Factor(t.factor).FieldCount
	case treeJoin:
		return t.left.width(fs) + t.right.width(fs)
	default:
		return t.wrapped.width(fs) + fs.Factor(t.replaced).FieldCount
	}
}

// rowWidthCost totals the output width of every join node in the subtree.
// Among cost-tied alternatives the search prefers the smaller total, the tree
// carrying narrower intermediate rows.
func (t *joinTree) rowWidthCost(fs *FactorSet) int {
	switch t.kind {
	case treeLeaf:
		return 0
	case treeJoin:
		return t.width(fs) + t.left.rowWidthCost(fs) + t.right.rowWidthCost(fs)
	default:
		return t.wrapped.rowWidthCost(fs)
	}
}

// materialize builds the subtree's logical plan and field map, caching both.
func (t *joinTree) materialize(fs *FactorSet, sel *semiJoinSelector) (base.LogicalPlan, []int, error) {
	if t.plan != nil {
		return t.plan, t.fieldMap, nil
	}
	var err error
	switch t.kind {
	case treeLeaf:
		err = t.materializeLeaf(fs, sel)
	case treeJoin:
		err = t.materializeJoin(fs, sel)
	default:
		err = t.materializeReplacement(fs, sel)
	}
	if err != nil {
		return nil, nil, err
	}
	return t.plan, t.fieldMap, nil
}

func (t *joinTree) materializeLeaf(fs *FactorSet, sel *semiJoinSelector) error {
	plan, err := sel.leafPlan(t.factor)
	if err != nil {
		return err
	}
	factor := fs.Factor(t.factor)
	fieldMap := newFieldMap(fs.TotalFields())
	for j := 0; j < factor.FieldCount; j++ {
		fieldMap[factor.FieldStart+j] = j
	}
	if len(t.filter) > 0 {
		plan, err = relbuilder.New().
			Push(plan).
			Filter(remapPredicates(t.filter, fieldMap)).
			Build()
		if err != nil {
			return err
		}
	}
	t.plan, t.fieldMap = plan, fieldMap
	return nil
}

func (t *joinTree) materializeJoin(fs *FactorSet, sel *semiJoinSelector) error {
	leftPlan, leftMap, err := t.left.materialize(fs, sel)
	if err != nil {
		return err
	}
	rightPlan, rightMap, err := t.right.materialize(fs, sel)
	if err != nil {
		return err
	}
	leftWidth := leftPlan.Schema().Len()
	fieldMap := newFieldMap(fs.TotalFields())
	for f := range fieldMap {
		if leftMap[f] >= 0 {
			fieldMap[f] = leftMap[f]
		} else if rightMap[f] >= 0 {
			fieldMap[f] = leftWidth + rightMap[f]
		}
	}
	plan, err := relbuilder.New().
		Push(leftPlan).
		Push(rightPlan).
		Join(t.joinType, remapPredicates(t.cond, fieldMap)).
		Build()
	if err != nil {
		return err
	}
	t.plan, t.fieldMap = plan, fieldMap
	return nil
}

func (t *joinTree) materializeReplacement(fs *FactorSet, sel *semiJoinSelector) error {
	childPlan, childMap, err := t.wrapped.materialize(fs, sel)
	if err != nil {
		return err
	}
	factor := fs.Factor(t.replaced)
	childSchema := childPlan.Schema()
	childWidth := childSchema.Len()

	exprs := make([]expression.Expression, 0, childWidth+factor.FieldCount)
	names := make([]string, 0, childWidth+factor.FieldCount)
	for i, col := range childSchema.Columns {
		exprs = append(exprs, expression.NewColumn(i, col.Name, col.RetType.Clone()))
		names = append(names, col.Name)
	}
	fieldMap := newFieldMap(fs.TotalFields())
	copy(fieldMap, childMap)
	for j := 0; j < factor.FieldCount; j++ {
		field := factor.FieldStart + j
		tp := fs.FieldType(field)
		if target, ok := factor.KeyMapping[j]; ok && childMap[target] >= 0 {
			exprs = append(exprs, expression.NewColumn(childMap[target], fs.FieldName(field), tp.Clone()))
		} else {
			exprs = append(exprs, expression.NewCast(expression.NewNull(tp), tp))
		}
		names = append(names, fs.FieldName(field))
		fieldMap[field] = childWidth + j
	}

	plan, err := relbuilder.New().
		Push(childPlan).
		Project(exprs, names).
		Filter(remapPredicates(t.filter, fieldMap)).
		Build()
	if err != nil {
		return err
	}
	t.plan, t.fieldMap = plan, fieldMap
	return nil
}

// remapPredicates composes preds into one CNF condition in the output space
// described by fieldMap. A nil result means no condition.
func remapPredicates(preds []*Predicate, fieldMap []int) expression.Expression {
	if len(preds) == 0 {
		return nil
	}
	adjustments := make([]int, len(fieldMap))
	for f, target := range fieldMap {
		if target >= 0 {
			adjustments[f] = target - f
		}
	}
	exprs := make([]expression.Expression, 0, len(preds))
	for _, pred := range preds {
		exprs = append(exprs, expression.RemapColumns(pred.Expr, adjustments))
	}
	return expression.ComposeCNFCondition(exprs...)
}

func newFieldMap(totalFields int) []int {
	m := make([]int, totalFields)
	for i := range m {
		m[i] = -1
	}
	return m
}

// String renders the tree shape for trace logging.
func (t *joinTree) String() string {
	switch t.kind {
	case treeLeaf:
		return strconv.Itoa(t.factor)
	case treeJoin:
		kind := "inner"
		switch t.joinType {
		case base.LeftOuterJoin:
			kind = "left"
		case base.RightOuterJoin:
			kind = "right"
		case base.FullOuterJoin:
			kind = "full"
		case base.SemiJoin:
			kind = "semi"
		}
		return fmt.Sprintf("%s(%s, %s)", kind, t.left, t.right)
	default:
		var sb strings.Builder
		fmt.Fprintf(&sb, "replace%d(%s)", t.replaced, t.wrapped)
		return sb.String()
	}
}
