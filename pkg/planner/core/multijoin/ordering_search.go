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
	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/relopt/relopt/pkg/planner/core/base"
	"github.com/relopt/relopt/pkg/util/logutil"
)

// orderingSearch grows one greedy join tree per viable start factor: at every
// step the factor with the strongest predicate tie to the tree is inserted,
// either pushed down into a subtree or joined on top, whichever the cost
// oracle prefers.
type orderingSearch struct {
	fs      *FactorSet
	md      Metadata
	sel     *semiJoinSelector
	weights *weightMatrix
	epsilon float64
}

// buildOrdering grows a complete tree starting from the given factor. A nil
// tree with a nil error means no legal placement sequence exists for this
// start; an error means the search violated one of its own invariants.
func (s *orderingSearch) buildOrdering(start int) (*joinTree, error) {
	fs := s.fs
	n := fs.FactorCount()
	placed := bitset.New(uint(n))
	pending := make([]*Predicate, len(fs.Predicates()))
	copy(pending, fs.Predicates())

	var tree *joinTree
	previous := noFactor
	for int(placed.Count()) < n {
		next := s.chooseNext(tree, placed, previous, start, pending)
		if next == noFactor {
			logutil.BgLogger().Debug("no legal placement, ordering abandoned",
				zap.Int("startFactor", start),
				zap.Uint("placed", placed.Count()))
			return nil, nil
		}
		newTree, err := s.insert(tree, next, &pending)
		if err != nil {
			return nil, err
		}
		tree = newTree
		placed.Set(uint(next))
		previous = next
	}

	if len(pending) > 0 {
		return nil, errors.AssertionFailedf(
			"join ordering for start factor %d finished with %d unincorporated predicates",
			start, len(pending))
	}
	if err := checkTreeOrder(tree, n); err != nil {
		return nil, err
	}
	return tree, nil
}

// chooseNext picks the factor to insert. The start factor goes first, a
// self-join partner of the previous factor is forced next, and otherwise the
// legal factor with the highest weight against the placed set wins, ties
// broken by higher distinct join-key count, then by first found.
func (s *orderingSearch) chooseNext(tree *joinTree, placed *bitset.BitSet, previous, start int, pending []*Predicate) int {
	fs := s.fs
	if tree == nil {
		return start
	}
	if previous != noFactor {
		if partner := fs.Factor(previous).SelfJoinPartner; partner != noFactor && !placed.Test(uint(partner)) {
			return partner
		}
	}

	best := noFactor
	bestWeight := -1
	bestKeyCard := 0.0
	bestKeyKnown := false
	keyCardCached := false
	for i := 0; i < fs.FactorCount(); i++ {
		if placed.Test(uint(i)) || !s.legalNext(i, placed) {
			continue
		}
		w := s.weights.MaxWeightAgainst(i, placed)
		if w < bestWeight {
			continue
		}
		if w > bestWeight {
			best, bestWeight = i, w
			keyCardCached = false
			continue
		}
		// Weight tie: the candidate with more distinct join-key values joins
		// more selectively later, keep it out longer. An unknown estimate on
		// either side leaves the incumbent in place.
		if !keyCardCached {
			bestKeyCard, bestKeyKnown = s.joinKeyCardinality(best, placed, pending)
			keyCardCached = true
		}
		cand, ok := s.joinKeyCardinality(i, placed, pending)
		if ok && bestKeyKnown && cand > bestKeyCard {
			best, bestKeyCard = i, cand
		}
	}
	return best
}

// legalNext applies the structural placement rules.
func (s *orderingSearch) legalNext(idx int, placed *bitset.BitSet) bool {
	fs := s.fs
	factor := fs.Factor(idx)
	// A removable dimension waits for its fact factor.
	if factor.JoinRemovalTarget != noFactor && !placed.Test(uint(factor.JoinRemovalTarget)) {
		return false
	}
	// A null-generating factor waits for its whole preserved side.
	if factor.NullGenerating {
		spec := fs.OuterSpec(idx)
		if spec == nil || !isSubsetOf(spec.Deps, placed) {
			return false
		}
	}
	// The right member of a self-join pair only ever follows its left member.
	for _, pair := range fs.SelfJoinPairs() {
		if pair.Right == idx && !placed.Test(uint(pair.Left)) {
			return false
		}
	}
	return true
}

// joinKeyCardinality estimates the distinct count of the candidate's local
// join-key fields over the pending equi-join predicates tying it to the
// placed factors.
func (s *orderingSearch) joinKeyCardinality(idx int, placed *bitset.BitSet, pending []*Predicate) (float64, bool) {
	factor := s.fs.Factor(idx)
	keys := bitset.New(uint(factor.FieldCount))
	for _, pred := range pending {
		if !pred.IsEquiJoin() || !pred.FactorRefs.Test(uint(idx)) {
			continue
		}
		other, ok := pred.FactorRefs.NextSet(0)
		if int(other) == idx {
			other, ok = pred.FactorRefs.NextSet(other + 1)
		}
		if !ok || !placed.Test(other) {
			continue
		}
		own := pred.eqLhs.Index
		if s.fs.FactorOfField(own) != idx {
			own = pred.eqRhs.Index
		}
		keys.Set(uint(own - factor.FieldStart))
	}
	if keys.Count() == 0 {
		return 0, false
	}
	return s.md.DistinctRowCount(factor.Plan, keys)
}

// insert places the next factor into the tree, consuming the predicates the
// placement incorporates from the pending list.
func (s *orderingSearch) insert(tree *joinTree, next int, pending *[]*Predicate) (*joinTree, error) {
	fs := s.fs
	factor := fs.Factor(next)

	switch {
	case tree == nil:
		// Predicates local to the start factor apply as a filter on its leaf;
		// no later insertion would sweep them into a join condition.
		leaf := newLeafTree(fs, next)
		leaf.filter = takeCovered(pending, leaf.coverage, next)
		return leaf, nil

	case factor.RemovableOuter:
		// The outer join vanished; its condition is consumed unapplied.
		dropPredicates(pending, fs.OuterSpec(next).Cond)
		filter := takeCovered(pending, tree.coverage, next)
		return newReplacementNode(tree, next, noFactor, filter), nil

	case factor.JoinRemovalTarget != noFactor:
		reducer := s.sel.chosen[factor.JoinRemovalTarget]
		if reducer == nil || reducer.dim != next {
			return nil, errors.AssertionFailedf(
				"factor %d annotated for join removal against %d without a matching reducer",
				next, factor.JoinRemovalTarget)
		}
		dropPredicates(pending, reducer.preds)
		filter := takeCovered(pending, tree.coverage, next)
		return newReplacementNode(tree, next, noFactor, filter), nil

	case s.isRightOfPair(next):
		// The paired scan is redundant; its fields alias the left member's.
		partner := factor.SelfJoinPartner
		dropPairPredicates(pending, partner, next)
		filter := takeCovered(pending, tree.coverage, next)
		return newReplacementNode(tree, next, partner, filter), nil
	}

	eligible := takeCovered(pending, tree.coverage, next)
	pushTree, err := s.pushDown(tree, next, eligible)
	if err != nil {
		return nil, err
	}
	topTree, err := s.addOnTop(tree, next, eligible)
	if err != nil {
		return nil, err
	}
	return s.preferTree(pushTree, topTree)
}

func (s *orderingSearch) isRightOfPair(idx int) bool {
	for _, pair := range s.fs.SelfJoinPairs() {
		if pair.Right == idx {
			return true
		}
	}
	return false
}

// pushDown tries to sink the factor into the subtree already holding all the
// placed factors its predicates need. It returns nil when no child can host
// the factor.
func (s *orderingSearch) pushDown(tree *joinTree, next int, eligible []*Predicate) (*joinTree, error) {
	if tree.kind != treeJoin {
		return nil, nil
	}
	needed := factorsNeeded(next, eligible, s.fs.FactorCount())
	pool := make([]*Predicate, len(eligible))
	copy(pool, eligible)

	var result *joinTree
	var err error
	switch {
	case isSubsetOf(needed, tree.left.coverage):
		result, err = s.insertInto(tree.left, next, &pool)
		if err == nil {
			cond := appendTaken(tree.cond, &pool, result.coverage.Union(tree.right.coverage))
			result = newJoinNode(result, tree.right, tree.joinType, cond)
		}
	case tree.joinType == base.InnerJoin && isSubsetOf(needed, tree.right.coverage):
		// Never sink into the null-producing side of an outer join.
		result, err = s.insertInto(tree.right, next, &pool)
		if err == nil {
			cond := appendTaken(tree.cond, &pool, tree.left.coverage.Union(result.coverage))
			result = newJoinNode(tree.left, result, tree.joinType, cond)
		}
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(pool) > 0 {
		return nil, errors.AssertionFailedf(
			"push-down of factor %d stranded %d predicates", next, len(pool))
	}
	return result, nil
}

// insertInto recurses to the deepest join able to host the factor, then joins
// the factor against the subtree found there. Replacement nodes are atomic:
// sinking below one could separate a self-join pair's tree positions.
func (s *orderingSearch) insertInto(sub *joinTree, next int, pool *[]*Predicate) (*joinTree, error) {
	if sub.kind == treeJoin {
		needed := factorsNeeded(next, *pool, s.fs.FactorCount())
		if isSubsetOf(needed, sub.left.coverage) {
			newLeft, err := s.insertInto(sub.left, next, pool)
			if err != nil {
				return nil, err
			}
			cond := appendTaken(sub.cond, pool, newLeft.coverage.Union(sub.right.coverage))
			return newJoinNode(newLeft, sub.right, sub.joinType, cond), nil
		}
		if sub.joinType == base.InnerJoin && isSubsetOf(needed, sub.right.coverage) {
			newRight, err := s.insertInto(sub.right, next, pool)
			if err != nil {
				return nil, err
			}
			cond := appendTaken(sub.cond, pool, sub.left.coverage.Union(newRight.coverage))
			return newJoinNode(sub.left, newRight, sub.joinType, cond), nil
		}
	}
	cond := appendTaken(nil, pool, withFactor(sub.coverage, next))
	return s.newJoinWith(sub, next, cond)
}

// addOnTop joins the factor directly against the whole current tree.
func (s *orderingSearch) addOnTop(tree *joinTree, next int, eligible []*Predicate) (*joinTree, error) {
	cond := make([]*Predicate, len(eligible))
	copy(cond, eligible)
	return s.newJoinWith(tree, next, cond)
}

// newJoinWith builds the physical join of a subtree and a new leaf, deciding
// join kind and operand order. A null-generating factor is always the right,
// null-producing side of a left outer join; otherwise the smaller estimated
// input goes on the left.
func (s *orderingSearch) newJoinWith(sub *joinTree, next int, cond []*Predicate) (*joinTree, error) {
	leaf := newLeafTree(s.fs, next)
	if s.fs.Factor(next).NullGenerating {
		return newJoinNode(sub, leaf, base.LeftOuterJoin, cond), nil
	}
	swap, err := s.leafGoesLeft(sub, leaf, next)
	if err != nil {
		return nil, err
	}
	if swap {
		return newJoinNode(leaf, sub, base.InnerJoin, cond), nil
	}
	return newJoinNode(sub, leaf, base.InnerJoin, cond), nil
}

func (s *orderingSearch) leafGoesLeft(sub, leaf *joinTree, next int) (bool, error) {
	leafRows, okLeaf := s.sel.rowCount(next)
	subPlan, _, err := sub.materialize(s.fs, s.sel)
	if err != nil {
		return false, err
	}
	subRows, okSub := s.md.RowCount(subPlan)
	if !okLeaf || !okSub {
		return false, nil
	}
	if leafRows != subRows {
		return leafRows < subRows, nil
	}
	return leaf.rowWidthCost(s.fs) < sub.rowWidthCost(s.fs), nil
}

// preferTree picks between the push-down and add-on-top alternatives:
// strictly cheaper cumulative cost wins, an epsilon tie falls back to the
// smaller row-width cost, and unknown costs degrade to row-width alone.
func (s *orderingSearch) preferTree(pushTree, topTree *joinTree) (*joinTree, error) {
	if pushTree == nil {
		return topTree, nil
	}
	pushPlan, _, err := pushTree.materialize(s.fs, s.sel)
	if err != nil {
		return nil, err
	}
	topPlan, _, err := topTree.materialize(s.fs, s.sel)
	if err != nil {
		return nil, err
	}
	pushCost, okPush := s.md.CumulativeCost(pushPlan)
	topCost, okTop := s.md.CumulativeCost(topPlan)
	if okPush && okTop && !pushCost.ApproxEqual(topCost, s.epsilon) {
		if pushCost.Less(topCost) {
			return pushTree, nil
		}
		return topTree, nil
	}
	if topTree.rowWidthCost(s.fs) < pushTree.rowWidthCost(s.fs) {
		return topTree, nil
	}
	return pushTree, nil
}

// factorsNeeded is the set of already-placed factors referenced together with
// the new factor by any eligible predicate.
func factorsNeeded(next int, eligible []*Predicate, factorCount int) *bitset.BitSet {
	needed := bitset.New(uint(factorCount))
	for _, pred := range eligible {
		if pred.FactorRefs.Test(uint(next)) {
			needed.InPlaceUnion(pred.FactorRefs)
		}
	}
	needed.Clear(uint(next))
	return needed
}

// takeCovered removes and returns the predicates whose factor references are
// fully inside coverage plus the extra factor.
func takeCovered(pending *[]*Predicate, coverage *bitset.BitSet, extra int) []*Predicate {
	full := withFactor(coverage, extra)
	var taken []*Predicate
	kept := (*pending)[:0]
	for _, pred := range *pending {
		if isSubsetOf(pred.FactorRefs, full) {
			taken = append(taken, pred)
		} else {
			kept = append(kept, pred)
		}
	}
	*pending = kept
	return taken
}

// appendTaken moves the pool predicates covered by coverage onto cond.
func appendTaken(cond []*Predicate, pool *[]*Predicate, coverage *bitset.BitSet) []*Predicate {
	out := make([]*Predicate, len(cond), len(cond)+len(*pool))
	copy(out, cond)
	kept := (*pool)[:0]
	for _, pred := range *pool {
		if isSubsetOf(pred.FactorRefs, coverage) {
			out = append(out, pred)
		} else {
			kept = append(kept, pred)
		}
	}
	*pool = kept
	return out
}

// dropPredicates removes the given predicates from the pending list; they are
// consumed by an elimination and deliberately never re-applied.
func dropPredicates(pending *[]*Predicate, consumed []*Predicate) {
	drop := make(map[*Predicate]struct{}, len(consumed))
	for _, pred := range consumed {
		drop[pred] = struct{}{}
	}
	kept := (*pending)[:0]
	for _, pred := range *pending {
		if _, gone := drop[pred]; !gone {
			kept = append(kept, pred)
		}
	}
	*pending = kept
}

// dropPairPredicates removes the inner predicates referencing exactly the
// self-join pair; the pair's unique-key equality is satisfied by construction
// once the right member aliases the left.
func dropPairPredicates(pending *[]*Predicate, left, right int) {
	kept := (*pending)[:0]
	for _, pred := range *pending {
		if pred.outerFor == noFactor &&
			pred.FactorRefs.Count() == 2 &&
			pred.FactorRefs.Test(uint(left)) && pred.FactorRefs.Test(uint(right)) {
			continue
		}
		kept = append(kept, pred)
	}
	*pending = kept
}

func withFactor(coverage *bitset.BitSet, factor int) *bitset.BitSet {
	full := coverage.Clone()
	full.Set(uint(factor))
	return full
}

// checkTreeOrder validates that the finished tree's order is a permutation of
// all factor indices.
func checkTreeOrder(tree *joinTree, n int) error {
	if len(tree.order) != n {
		return errors.AssertionFailedf("tree order has %d entries for %d factors", len(tree.order), n)
	}
	seen := bitset.New(uint(n))
	for _, f := range tree.order {
		if f < 0 || f >= n || seen.Test(uint(f)) {
			return errors.AssertionFailedf("tree order %v is not a permutation", tree.order)
		}
		seen.Set(uint(f))
	}
	return nil
}
