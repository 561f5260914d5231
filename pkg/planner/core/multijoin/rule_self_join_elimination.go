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

// eliminateSelfJoins pairs factors that scan the same stored table joined on
// a unique key. The pair's right member never joins physically: the search
// splices it in as a projection directly after the left member, redirecting
// its column references through the recorded mapping. A candidate pair
// failing any check is silently left unpaired.
func eliminateSelfJoins(fs *FactorSet, md Metadata) {
	if fs.IsFullOuter() {
		return
	}

	// Group the simple factors by table identity, keeping first-seen order.
	groups := make(map[TableID][]int)
	var order []TableID
	for i := 0; i < fs.FactorCount(); i++ {
		factor := fs.Factor(i)
		if factor.NullGenerating || factor.Removable() || factor.SelfJoinPartner != noFactor {
			continue
		}
		id, ok := md.TableID(factor.Plan)
		if !ok {
			continue
		}
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], i)
	}

	// Each table identity contributes at most one pair, and only when it
	// appears exactly twice.
	for _, id := range order {
		indexes := groups[id]
		if len(indexes) != 2 {
			continue
		}
		tryPairSelfJoin(fs, md, indexes[0], indexes[1])
	}
}

func tryPairSelfJoin(fs *FactorSet, md Metadata, leftIdx, rightIdx int) {
	left := fs.Factor(leftIdx)
	right := fs.Factor(rightIdx)

	// The join predicates referencing exactly this pair must all be plain
	// equalities whose two sides renumber to the same origin column.
	pairRefs := bitset.New(uint(fs.FactorCount()))
	pairRefs.Set(uint(leftIdx)).Set(uint(rightIdx))
	leftKeys := bitset.New(uint(left.FieldCount))
	seen := false
	for _, pred := range fs.Predicates() {
		if pred.outerFor != noFactor || !pred.FactorRefs.Equal(pairRefs) {
			continue
		}
		if pred.eqLhs == nil {
			return
		}
		lhs, rhs := pred.eqLhs.Index, pred.eqRhs.Index
		if fs.FactorOfField(lhs) == rightIdx {
			lhs, rhs = rhs, lhs
		}
		lOrigin, okL := md.ColumnOrigin(left.Plan, lhs-left.FieldStart)
		rOrigin, okR := md.ColumnOrigin(right.Plan, rhs-right.FieldStart)
		if !okL || !okR || lOrigin != rOrigin {
			return
		}
		leftKeys.Set(uint(lhs - left.FieldStart))
		seen = true
	}
	if !seen {
		return
	}
	if !md.ColumnsUniqueWhenNullsFiltered(left.Plan, leftKeys) {
		return
	}

	fs.pairs = append(fs.pairs, SelfJoinPair{Left: leftIdx, Right: rightIdx})
	left.SelfJoinPartner = rightIdx
	right.SelfJoinPartner = leftIdx
	right.KeyMapping = buildSelfJoinColumnMapping(fs, md, left, right)
	logutil.BgLogger().Debug("self join pair recorded",
		zap.Int("left", leftIdx),
		zap.Int("right", rightIdx))
}

// buildSelfJoinColumnMapping maps each of the right factor's local fields to
// the left factor's field with the same origin column, where one exists. The
// plan emitter uses it to redirect references above the join.
func buildSelfJoinColumnMapping(fs *FactorSet, md Metadata, left, right *JoinFactor) map[int]int {
	byOrdinal := make(map[int]int, left.FieldCount)
	for j := 0; j < left.FieldCount; j++ {
		if origin, ok := md.ColumnOrigin(left.Plan, j); ok {
			byOrdinal[origin.Ordinal] = j
		}
	}
	mapping := make(map[int]int, right.FieldCount)
	for j := 0; j < right.FieldCount; j++ {
		origin, ok := md.ColumnOrigin(right.Plan, j)
		if !ok {
			continue
		}
		if lj, ok := byOrdinal[origin.Ordinal]; ok {
			mapping[j] = left.FieldStart + lj
		}
	}
	return mapping
}
