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
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relopt/relopt/pkg/expression"
	"github.com/relopt/relopt/pkg/types"
)

// fourFactorFixture is a fully connected inner join of four single-column
// factors with nothing eliminable.
func fourFactorFixture(t *testing.T) (*FactorSet, *mockMetadata) {
	plans := []FactorInput{
		{Plan: scan("F0", "k")},
		{Plan: scan("F1", "k")},
		{Plan: scan("F2", "k")},
		{Plan: scan("F3", "k")},
	}
	md := newMockMetadata()
	rows := []float64{100, 200, 300, 400}
	for i, in := range plans {
		md.rows[in.Plan] = rows[i]
	}
	var conds []expression.Expression
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			conds = append(conds, eq(i, j))
		}
	}
	fs, err := NewFactorSet(Input{Factors: plans, Conditions: conds})
	require.NoError(t, err)
	return fs, md
}

func TestFullyConnectedJoinYieldsOneCandidatePerStart(t *testing.T) {
	fs, md := fourFactorFixture(t)
	opt := NewOptimizer(md, DefaultConfig())
	plans, err := opt.Optimize(context.Background(), fs)
	require.NoError(t, err)
	require.Len(t, plans, 4)

	seenStarts := make(map[int]bool)
	for _, cand := range plans {
		seenStarts[cand.StartFactor] = true
		require.Equal(t, 3, countJoins(cand.Plan))
		require.ElementsMatch(t, []int{0, 1, 2, 3}, cand.TreeOrder)
		require.Equal(t, fs.TotalFields(), cand.Plan.Schema().Len())
	}
	require.Len(t, seenStarts, 4)
}

func TestPredicateConservation(t *testing.T) {
	fs, md := fourFactorFixture(t)
	opt := NewOptimizer(md, DefaultConfig())
	plans, err := opt.Optimize(context.Background(), fs)
	require.NoError(t, err)

	for _, cand := range plans {
		// Each of the six predicates lands on exactly one node: none dropped,
		// none duplicated.
		require.Len(t, collectConditions(cand.Plan), 6)
	}
}

func TestFieldNamesSurviveReordering(t *testing.T) {
	fs, md := fourFactorFixture(t)
	opt := NewOptimizer(md, DefaultConfig())
	plans, err := opt.Optimize(context.Background(), fs)
	require.NoError(t, err)

	want := make([]string, 0, fs.TotalFields())
	for f := 0; f < fs.TotalFields(); f++ {
		want = append(want, fs.FieldName(f))
	}
	for _, cand := range plans {
		got := make([]string, 0, len(want))
		for _, col := range cand.Plan.Schema().Columns {
			got = append(got, col.Name)
		}
		require.Equal(t, want, got)
	}
}

func TestOuterJoinDependencyOrdering(t *testing.T) {
	// A left-joins B (B not eliminable: its key is not unique), C inner-joins
	// B. Fields: A.k=0, A.v=1, B.k=2, C.k=3.
	a := scan("A", "k", "v")
	b := scan("B", "k")
	c := scan("C", "k")
	md := newMockMetadata()
	md.rows[a] = 100
	md.rows[b] = 40
	md.rows[c] = 20

	fs, err := NewFactorSet(Input{
		Factors: []FactorInput{
			{Plan: a},
			{Plan: b, NullGenerating: true, OuterCond: eq(0, 2), OuterDeps: []int{0}, ProjFields: []int{}},
			{Plan: c},
		},
		Conditions: []expression.Expression{eq(2, 3)},
	})
	require.NoError(t, err)

	opt := NewOptimizer(md, DefaultConfig())
	plans, err := opt.Optimize(context.Background(), fs)
	require.NoError(t, err)
	// B is null-generating, so only A and C can start.
	require.Len(t, plans, 2)

	for _, cand := range plans {
		posA, posB := -1, -1
		for pos, f := range cand.TreeOrder {
			switch f {
			case 0:
				posA = pos
			case 1:
				posB = pos
			}
		}
		require.Greater(t, posB, posA, "null-generating factor placed before its preserved side")
	}
}

func TestRemovableOuterFactorLeavesNoJoin(t *testing.T) {
	fs, md := outerElimFixture(t)
	opt := NewOptimizer(md, DefaultConfig())
	plans, err := opt.Optimize(context.Background(), fs)
	require.NoError(t, err)
	require.Len(t, plans, 2)

	for _, cand := range plans {
		// B's scan is gone and only A joins C.
		require.NotContains(t, collectScans(cand.Plan), "B")
		require.Equal(t, 1, countJoins(cand.Plan))
		// The output still carries B's field, aliased to A.k.
		require.Equal(t, 5, cand.Plan.Schema().Len())
		require.Equal(t, "B.k", cand.Plan.Schema().Columns[2].Name)
	}
}

func TestSelfJoinPairStaysAdjacentAndUnjoined(t *testing.T) {
	// T1 and T2 scan the same table on its unique id; C joins T1.
	// Fields: T1.id=0, T1.v=1, T2.id=2, T2.v=3, C.id=4.
	t1 := scan("T1", "id", "v")
	t2 := scan("T2", "id", "v")
	c := scan("C", "id")
	md := newMockMetadata()
	md.setTable(t1, 7)
	md.setTable(t2, 7)
	md.setUnique(t1, 0)
	md.setUnique(t2, 0)
	md.rows[t1] = 50
	md.rows[t2] = 50
	md.rows[c] = 20

	fs, err := NewFactorSet(Input{
		Factors:    []FactorInput{{Plan: t1}, {Plan: t2}, {Plan: c}},
		Conditions: []expression.Expression{eq(0, 2), eq(1, 4)},
	})
	require.NoError(t, err)

	opt := NewOptimizer(md, DefaultConfig())
	plans, err := opt.Optimize(context.Background(), fs)
	require.NoError(t, err)
	// T2, the pair's right member, cannot start.
	require.Len(t, plans, 2)

	for _, cand := range plans {
		posL, posR := -1, -1
		for pos, f := range cand.TreeOrder {
			switch f {
			case 0:
				posL = pos
			case 1:
				posR = pos
			}
		}
		require.Equal(t, posL+1, posR, "self-join pair torn apart in %v", cand.TreeOrder)
		// One fewer physical join than the naive three-way plan.
		require.Equal(t, 1, countJoins(cand.Plan))
		require.NotContains(t, collectScans(cand.Plan), "T2")
		require.Equal(t, 5, cand.Plan.Schema().Len())
	}
}

func TestResidualFilterCapsEveryCandidate(t *testing.T) {
	fs, md := fourFactorFixture(t)
	residual := expression.NewFunction(expression.GT,
		types.NewFieldType(types.KindBool),
		expression.NewColumn(0, "F0.k", fs.FieldType(0).Clone()),
		expression.NewColumn(3, "F3.k", fs.FieldType(3).Clone()))
	fs.residual = residual

	opt := NewOptimizer(md, DefaultConfig())
	plans, err := opt.Optimize(context.Background(), fs)
	require.NoError(t, err)
	require.Len(t, plans, 4)
	for _, cand := range plans {
		require.Equal(t, "Selection", cand.Plan.TP())
		require.Equal(t, fs.TotalFields(), cand.Plan.Schema().Len())
	}
}

func TestOptimizeHonorsCancellation(t *testing.T) {
	fs, md := fourFactorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opt := NewOptimizer(md, DefaultConfig())
	_, err := opt.Optimize(ctx, fs)
	require.Error(t, err)
}

func TestOrderingInfeasibleStartProducesNoCandidate(t *testing.T) {
	// Two factors whose only predicate is one factor's outer-join condition:
	// an ordering started anywhere still completes, but a start blocked by
	// dependencies is skipped upstream, so exactly one candidate appears.
	a := scan("A", "k")
	b := scan("B", "k")
	md := newMockMetadata()
	md.rows[a] = 10
	md.rows[b] = 10

	fs, err := NewFactorSet(Input{
		Factors: []FactorInput{
			{Plan: a},
			{Plan: b, NullGenerating: true, OuterCond: eq(0, 1), OuterDeps: []int{0}},
		},
	})
	require.NoError(t, err)
	opt := NewOptimizer(md, DefaultConfig())
	plans, err := opt.Optimize(context.Background(), fs)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, 0, plans[0].StartFactor)
	require.Equal(t, []int{0, 1}, plans[0].TreeOrder)
}

func TestWeightMatrixRanking(t *testing.T) {
	fs, _ := fourFactorFixture(t)
	m := newWeightMatrix(fs)
	require.Equal(t, equiJoinWeight, m.Weight(0, 1))
	require.Equal(t, m.Weight(1, 2), m.Weight(2, 1))
	require.Equal(t, equiJoinWeight, m.MaxWeightAgainst(3, fieldSet(0, 1)))
	require.Zero(t, m.MaxWeightAgainst(3, fieldSet()))
}

func TestWeightMatrixGenericPredicateWeighsOne(t *testing.T) {
	// A pair tied only by a non-equality predicate still scores, below any
	// equi-join edge but above a disconnected pair.
	a := scan("A", "k")
	b := scan("B", "k")
	c := scan("C", "k")
	lt := expression.NewFunction(expression.LT,
		types.NewFieldType(types.KindBool),
		expression.NewColumn(0, "", types.NewFieldType(types.KindInt)),
		expression.NewColumn(1, "", types.NewFieldType(types.KindInt)))
	fs, err := NewFactorSet(Input{
		Factors:    []FactorInput{{Plan: a}, {Plan: b}, {Plan: c}},
		Conditions: []expression.Expression{lt},
	})
	require.NoError(t, err)

	m := newWeightMatrix(fs)
	require.Equal(t, 1, m.Weight(0, 1))
	require.Zero(t, m.Weight(0, 2))
	require.Greater(t, equiJoinWeight, 1)
}

func TestSingleFactorConditionBecomesFilter(t *testing.T) {
	// A condition confined to one factor never reaches a join; it must land as
	// a filter instead of stranding in the pending list.
	a := scan("A", "k", "v")
	md := newMockMetadata()
	md.rows[a] = 10

	fs, err := NewFactorSet(Input{
		Factors:    []FactorInput{{Plan: a}},
		Conditions: []expression.Expression{eq(0, 1)},
	})
	require.NoError(t, err)

	opt := NewOptimizer(md, DefaultConfig())
	plans, err := opt.Optimize(context.Background(), fs)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, []int{0}, plans[0].TreeOrder)
	require.Zero(t, countJoins(plans[0].Plan))
	require.Len(t, collectConditions(plans[0].Plan), 1)
	require.Equal(t, fs.TotalFields(), plans[0].Plan.Schema().Len())
}

func TestDisconnectedFactorJoinsCartesian(t *testing.T) {
	// A and B share a predicate; C is tied to nothing. The search still places
	// C, joining it with an empty condition.
	a := scan("A", "k")
	b := scan("B", "k")
	c := scan("C", "k")
	md := newMockMetadata()
	md.rows[a] = 10
	md.rows[b] = 100
	md.rows[c] = 200

	fs, err := NewFactorSet(Input{
		Factors:    []FactorInput{{Plan: a}, {Plan: b}, {Plan: c}},
		Conditions: []expression.Expression{eq(0, 1)},
	})
	require.NoError(t, err)

	opt := NewOptimizer(md, DefaultConfig())
	plans, err := opt.Optimize(context.Background(), fs)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	for _, cand := range plans {
		require.Equal(t, 2, countJoins(cand.Plan))
		require.ElementsMatch(t, []int{0, 1, 2}, cand.TreeOrder)
		// The lone predicate survives exactly once; the cartesian join adds
		// nothing.
		require.Len(t, collectConditions(cand.Plan), 1)
	}
}

func TestWeightTieKeepsIncumbentOnUnknownCardinality(t *testing.T) {
	// B and C are equally tied to A. With B's join-key cardinality unknown the
	// tie-break must stand aside rather than let C's one-sided estimate win.
	a := scan("A", "k")
	b := scan("B", "k")
	c := scan("C", "k")
	md := newMockMetadata()
	md.setDistinct(c, 50, 0)

	fs, err := NewFactorSet(Input{
		Factors:    []FactorInput{{Plan: a}, {Plan: b}, {Plan: c}},
		Conditions: []expression.Expression{eq(0, 1), eq(0, 2)},
	})
	require.NoError(t, err)
	search := &orderingSearch{
		fs:      fs,
		md:      md,
		sel:     newSemiJoinSelector(fs, md, DefaultMaxSemiJoinRounds),
		weights: newWeightMatrix(fs),
		epsilon: DefaultCostEpsilon,
	}

	placed := fieldSet(0)
	require.Equal(t, 1, search.chooseNext(newLeafTree(fs, 0), placed, 0, 0, fs.Predicates()))

	// With both sides known the higher cardinality wins.
	md.setDistinct(b, 20, 0)
	require.Equal(t, 2, search.chooseNext(newLeafTree(fs, 0), placed, 0, 0, fs.Predicates()))
}
