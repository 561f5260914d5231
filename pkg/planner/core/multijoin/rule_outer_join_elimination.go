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

	"github.com/relopt/relopt/pkg/util/logutil"
)

// outerJoinEliminator marks null-generating factors whose join can be planned
// away: nothing above the join uses their fields, their join keys are unique,
// so the outer join can never add or drop a preserved-side row.
type outerJoinEliminator struct {
	fs *FactorSet
	md Metadata

	// refCounts counts, per factor and local field, the references from
	// projected fields and from predicates not already consumed by a removed
	// factor's outer-join condition. A factor's own outer-join condition does
	// not count against its own fields: the condition disappears together with
	// the factor.
	refCounts [][]int
}

// eliminateOuterJoins runs outer-join elimination to a fixed point. Removing
// one factor decrements the reference counters of its join partners' key
// fields, which can expose new removable factors, so changed factors are
// re-scanned through an explicit worklist.
func eliminateOuterJoins(fs *FactorSet, md Metadata) {
	if fs.IsFullOuter() {
		return
	}
	e := &outerJoinEliminator{fs: fs, md: md}
	e.buildRefCounts()

	queue := make([]int, 0, fs.FactorCount())
	queued := bitset.New(uint(fs.FactorCount()))
	for i := 0; i < fs.FactorCount(); i++ {
		if fs.Factor(i).NullGenerating && !fs.Factor(i).RemovableOuter {
			queue = append(queue, i)
			queued.Set(uint(i))
		}
	}
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		queued.Clear(uint(idx))
		changed := e.tryEliminate(idx)
		if changed == nil {
			continue
		}
		for j, ok := changed.NextSet(0); ok; j, ok = changed.NextSet(j + 1) {
			factor := fs.Factor(int(j))
			if factor.NullGenerating && !factor.RemovableOuter && !queued.Test(j) {
				queue = append(queue, int(j))
				queued.Set(j)
			}
		}
	}
}

func (e *outerJoinEliminator) buildRefCounts() {
	fs := e.fs
	e.refCounts = make([][]int, fs.FactorCount())
	for i := 0; i < fs.FactorCount(); i++ {
		factor := fs.Factor(i)
		counts := make([]int, factor.FieldCount)
		for j, ok := factor.ProjFields.NextSet(0); ok; j, ok = factor.ProjFields.NextSet(j + 1) {
			counts[j]++
		}
		e.refCounts[i] = counts
	}
	for _, pred := range fs.Predicates() {
		if e.consumed(pred) {
			continue
		}
		e.addPredRefs(pred, 1)
	}
}

// consumed reports whether pred belongs to the outer-join condition of a
// factor that is already marked removable; such predicates no longer count as
// references.
func (e *outerJoinEliminator) consumed(pred *Predicate) bool {
	return pred.outerFor != noFactor && e.fs.Factor(pred.outerFor).RemovableOuter
}

func (e *outerJoinEliminator) addPredRefs(pred *Predicate, delta int) {
	for field, ok := pred.FieldRefs.NextSet(0); ok; field, ok = pred.FieldRefs.NextSet(field + 1) {
		factor, ordinal := e.fs.LocalField(int(field))
		if factor == pred.outerFor {
			continue
		}
		e.refCounts[factor][ordinal] += delta
	}
}

// tryEliminate checks one null-generating factor and, on success, marks it
// removable and decrements the opposite side's counters. It returns the set
// of factors whose counters changed, or nil.
func (e *outerJoinEliminator) tryEliminate(idx int) *bitset.BitSet {
	fs := e.fs
	factor := fs.Factor(idx)
	spec := fs.OuterSpec(idx)
	if factor.RemovableOuter || spec == nil {
		return nil
	}
	// Only a factor contributing no fields above the join can disappear.
	if factor.ProjFields.Count() > 0 {
		return nil
	}

	// Decompose the outer-join condition into equality conjuncts with exactly
	// one side in this factor's field range.
	joinKeys := bitset.New(uint(factor.FieldCount))
	otherJoinKeys := make(map[int]int) // local key ordinal -> opposite combined-space field
	for _, pred := range spec.Cond {
		if pred.eqLhs == nil {
			continue
		}
		lhsOwned := fs.FactorOfField(pred.eqLhs.Index) == idx
		rhsOwned := fs.FactorOfField(pred.eqRhs.Index) == idx
		if lhsOwned == rhsOwned {
			continue
		}
		own, other := pred.eqLhs.Index, pred.eqRhs.Index
		if rhsOwned {
			own, other = other, own
		}
		ordinal := own - factor.FieldStart
		joinKeys.Set(uint(ordinal))
		otherJoinKeys[ordinal] = other
	}
	if joinKeys.Count() == 0 {
		return nil
	}

	// Every externally referenced field must be referenced at most once and
	// must be one of the join keys, so the replacement projection can stand in
	// for it.
	for ordinal, count := range e.refCounts[idx] {
		if count == 0 {
			continue
		}
		if count > 1 || !joinKeys.Test(uint(ordinal)) {
			return nil
		}
	}

	if !e.md.ColumnsUniqueWhenNullsFiltered(factor.Plan, joinKeys) {
		return nil
	}

	factor.RemovableOuter = true
	factor.KeyMapping = otherJoinKeys
	logutil.BgLogger().Debug("outer join eliminated",
		zap.Int("factor", idx),
		zap.Uint("joinKeys", joinKeys.Count()))

	// The factor's outer-join condition disappears with it; drop its
	// contribution to the opposite side's counters.
	changed := bitset.New(uint(fs.FactorCount()))
	for _, pred := range spec.Cond {
		for field, ok := pred.FieldRefs.NextSet(0); ok; field, ok = pred.FieldRefs.NextSet(field + 1) {
			owner, ordinal := fs.LocalField(int(field))
			if owner == idx {
				continue
			}
			e.refCounts[owner][ordinal]--
			changed.Set(uint(owner))
		}
	}
	return changed
}
