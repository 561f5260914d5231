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
	"go.uber.org/zap"

	"github.com/relopt/relopt/pkg/expression"
	"github.com/relopt/relopt/pkg/planner/core/base"
	"github.com/relopt/relopt/pkg/planner/core/relbuilder"
	"github.com/relopt/relopt/pkg/util/logutil"
)

// DefaultMaxSemiJoinRounds bounds the semi-join selection loop. Selection is
// expected to converge well before the cap; hitting it is not an error, it
// just forfeits any further candidates.
const DefaultMaxSemiJoinRounds = 10

// semiJoinReducer is one candidate semi-join: the dimension side filters the
// fact side down to rows with a matching key before the real join runs.
type semiJoinReducer struct {
	dim, fact int
	preds     []*Predicate
	dimKeys   *bitset.BitSet // local to dim
	factKeys  *bitset.BitSet // local to fact
	// selectivity is the estimated fraction of fact rows surviving the
	// semi-join.
	selectivity float64
}

// semiJoinSelector derives, scores and iteratively applies per-factor
// semi-join reducers. It only refines the cardinality estimates the ordering
// search consults; it never reorders anything itself.
type semiJoinSelector struct {
	fs        *FactorSet
	md        Metadata
	maxRounds int

	// adjusted holds per-factor row counts after applied reducers; negative
	// means unknown.
	adjusted []float64
	// chosen maps a fact factor to its applied reducer.
	chosen map[int]*semiJoinReducer
	// leafPlans caches the semi-join-substituted leaf relation per factor.
	leafPlans map[int]base.LogicalPlan
}

func newSemiJoinSelector(fs *FactorSet, md Metadata, maxRounds int) *semiJoinSelector {
	s := &semiJoinSelector{
		fs:        fs,
		md:        md,
		maxRounds: maxRounds,
		adjusted:  make([]float64, fs.FactorCount()),
		chosen:    make(map[int]*semiJoinReducer),
		leafPlans: make(map[int]base.LogicalPlan),
	}
	for i := range s.adjusted {
		if rows, ok := md.RowCount(fs.Factor(i).Plan); ok {
			s.adjusted[i] = rows
		} else {
			s.adjusted[i] = -1
		}
	}
	return s
}

// rowCount returns the factor's estimated row count with applied semi-joins
// folded in.
func (s *semiJoinSelector) rowCount(idx int) (float64, bool) {
	if s.adjusted[idx] < 0 {
		return 0, false
	}
	return s.adjusted[idx], true
}

// run performs the bounded greedy selection: repeatedly apply the single most
// beneficial remaining reducer, updating the fact side's cardinality.
func (s *semiJoinSelector) run() {
	candidates := s.deriveCandidates()
	round := 0
	for ; round < s.maxRounds && len(candidates) > 0; round++ {
		bestIdx := -1
		bestBenefit := 0.0
		for i, cand := range candidates {
			rows, ok := s.rowCount(cand.fact)
			if !ok {
				continue
			}
			benefit := rows * (1 - cand.selectivity)
			if benefit > bestBenefit {
				bestBenefit = benefit
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		best := candidates[bestIdx]
		s.chosen[best.fact] = best
		s.adjusted[best.fact] *= best.selectivity
		// One reducer per fact factor; drop the displaced candidates.
		kept := candidates[:0]
		for _, cand := range candidates {
			if cand.fact != best.fact {
				kept = append(kept, cand)
			}
		}
		candidates = kept
	}
	if round == s.maxRounds && len(candidates) > 0 {
		logutil.BgLogger().Debug("semi-join selection stopped at round cap",
			zap.Int("rounds", round),
			zap.Int("remainingCandidates", len(candidates)))
	}
	s.annotateJoinRemovals()
}

// deriveCandidates finds every (dimension, fact) pair connected by equi-join
// predicates whose dimension-side key is unique.
func (s *semiJoinSelector) deriveCandidates() []*semiJoinReducer {
	fs := s.fs
	type pairKey struct{ lo, hi int }
	byPair := make(map[pairKey][]*Predicate)
	var pairOrder []pairKey
	for _, pred := range fs.Predicates() {
		if pred.outerFor != noFactor || !pred.IsEquiJoin() {
			continue
		}
		lo, okLo := pred.FactorRefs.NextSet(0)
		hi, okHi := pred.FactorRefs.NextSet(lo + 1)
		if !okLo || !okHi {
			continue
		}
		key := pairKey{int(lo), int(hi)}
		if _, seen := byPair[key]; !seen {
			pairOrder = append(pairOrder, key)
		}
		byPair[key] = append(byPair[key], pred)
	}

	var candidates []*semiJoinReducer
	for _, key := range pairOrder {
		if cand := s.makeCandidate(key.lo, key.hi, byPair[key]); cand != nil {
			candidates = append(candidates, cand)
		}
	}
	return candidates
}

func (s *semiJoinSelector) makeCandidate(a, b int, preds []*Predicate) *semiJoinReducer {
	fs := s.fs
	if fs.Factor(a).NullGenerating || fs.Factor(b).NullGenerating ||
		fs.Factor(a).Removable() || fs.Factor(b).Removable() {
		return nil
	}
	rowsA, okA := s.rowCount(a)
	rowsB, okB := s.rowCount(b)
	if !okA || !okB {
		return nil
	}
	fact, dim := a, b
	if rowsA < rowsB {
		fact, dim = b, a
	}

	dimFactor := fs.Factor(dim)
	factFactor := fs.Factor(fact)
	dimKeys := bitset.New(uint(dimFactor.FieldCount))
	factKeys := bitset.New(uint(factFactor.FieldCount))
	for _, pred := range preds {
		dimField, factField := pred.eqLhs.Index, pred.eqRhs.Index
		if fs.FactorOfField(dimField) != dim {
			dimField, factField = factField, dimField
		}
		dimKeys.Set(uint(dimField - dimFactor.FieldStart))
		factKeys.Set(uint(factField - factFactor.FieldStart))
	}
	if !s.md.ColumnsUniqueWhenNullsFiltered(dimFactor.Plan, dimKeys) {
		return nil
	}

	sel, ok := s.estimateSelectivity(dimFactor, factFactor, dimKeys, factKeys, preds)
	if !ok || sel >= 1 {
		return nil
	}
	return &semiJoinReducer{
		dim:         dim,
		fact:        fact,
		preds:       preds,
		dimKeys:     dimKeys,
		factKeys:    factKeys,
		selectivity: sel,
	}
}

func (s *semiJoinSelector) estimateSelectivity(dim, fact *JoinFactor, dimKeys, factKeys *bitset.BitSet, preds []*Predicate) (float64, bool) {
	dimDistinct, okDim := s.md.DistinctRowCount(dim.Plan, dimKeys)
	factDistinct, okFact := s.md.DistinctRowCount(fact.Plan, factKeys)
	if okDim && okFact && factDistinct > 0 {
		sel := dimDistinct / factDistinct
		if sel > 1 {
			sel = 1
		}
		return sel, true
	}
	exprs := make([]expression.Expression, 0, len(preds))
	for _, pred := range preds {
		exprs = append(exprs, pred.Expr)
	}
	return s.md.Selectivity(fact.Plan, expression.ComposeCNFCondition(exprs...))
}

// annotateJoinRemovals marks chosen dimensions whose every referenced field is
// a join key: their physical join can be dropped entirely, the fact side's
// matching columns substituting for the keys.
func (s *semiJoinSelector) annotateJoinRemovals() {
	for fact, reducer := range s.chosen {
		dim := s.fs.Factor(reducer.dim)
		if dim.Removable() || dim.SelfJoinPartner != noFactor {
			continue
		}
		referenced := s.dimReferencedFields(reducer)
		if !isSubsetOf(referenced, reducer.dimKeys) {
			continue
		}
		dim.JoinRemovalTarget = fact
		dim.KeyMapping = make(map[int]int, len(reducer.preds))
		for _, pred := range reducer.preds {
			dimField, factField := pred.eqLhs.Index, pred.eqRhs.Index
			if s.fs.FactorOfField(dimField) != reducer.dim {
				dimField, factField = factField, dimField
			}
			dim.KeyMapping[dimField-dim.FieldStart] = factField
		}
		logutil.BgLogger().Debug("dimension join removal recorded",
			zap.Int("dimension", reducer.dim),
			zap.Int("fact", fact))
	}
}

// dimReferencedFields collects every local field of the reducer's dimension
// referenced by the projection or by any predicate.
func (s *semiJoinSelector) dimReferencedFields(reducer *semiJoinReducer) *bitset.BitSet {
	dim := s.fs.Factor(reducer.dim)
	referenced := dim.ProjFields.Clone()
	for _, pred := range s.fs.Predicates() {
		if !pred.FactorRefs.Test(uint(reducer.dim)) {
			continue
		}
		for field, ok := pred.FieldRefs.NextSet(uint(dim.FieldStart)); ok && int(field) < dim.FieldStart+dim.FieldCount; field, ok = pred.FieldRefs.NextSet(field + 1) {
			referenced.Set(field - uint(dim.FieldStart))
		}
	}
	return referenced
}

// leafPlan returns the relation to place at the factor's leaf: the original
// plan, or a semi-join of it against the chosen reducer's dimension.
func (s *semiJoinSelector) leafPlan(idx int) (base.LogicalPlan, error) {
	if plan, ok := s.leafPlans[idx]; ok {
		return plan, nil
	}
	factor := s.fs.Factor(idx)
	reducer := s.chosen[idx]
	if reducer == nil {
		return factor.Plan, nil
	}
	dim := s.fs.Factor(reducer.dim)
	adjustments := make([]int, s.fs.TotalFields())
	for i := 0; i < factor.FieldCount; i++ {
		adjustments[factor.FieldStart+i] = -factor.FieldStart
	}
	for i := 0; i < dim.FieldCount; i++ {
		adjustments[dim.FieldStart+i] = factor.FieldCount - dim.FieldStart
	}
	conds := make([]expression.Expression, 0, len(reducer.preds))
	for _, pred := range reducer.preds {
		conds = append(conds, expression.RemapColumns(pred.Expr, adjustments))
	}
	plan, err := relbuilder.New().
		Push(factor.Plan).
		Push(dim.Plan).
		Join(base.SemiJoin, expression.ComposeCNFCondition(conds...)).
		Build()
	if err != nil {
		return nil, err
	}
	s.leafPlans[idx] = plan
	return plan, nil
}

func isSubsetOf(sub, super *bitset.BitSet) bool {
	return sub.Difference(super).Count() == 0
}
