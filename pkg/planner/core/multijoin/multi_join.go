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

// Package multijoin implements the heuristic join-order optimizer: given the
// factors of an N-way join it derives elimination and semi-join annotations,
// then grows one greedy join tree per viable start factor and emits the
// candidate plans for a downstream cost-based chooser.
package multijoin

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/pingcap/errors"

	"github.com/relopt/relopt/pkg/expression"
	"github.com/relopt/relopt/pkg/planner/core/base"
	"github.com/relopt/relopt/pkg/types"
)

// noFactor marks an unset factor-index annotation.
const noFactor = -1

// JoinFactor is one input relation of the N-way join. Factors are never
// removed from the set: elimination attaches annotations, and eliminated
// factors keep a virtual representation in the output schema.
type JoinFactor struct {
	// Index is the factor's position in the original join, 0..N-1.
	Index int
	// Plan is the relation supplying this factor's rows.
	Plan base.LogicalPlan
	// FieldStart and FieldCount locate the factor's slice of the combined
	// field space.
	FieldStart int
	FieldCount int
	// NullGenerating is true if the factor is the null-producing side of an
	// outer join.
	NullGenerating bool
	// ProjFields are the local field ordinals referenced above the join.
	ProjFields *bitset.BitSet

	// RemovableOuter is set by outer-join elimination: the factor's join can
	// be replaced by a projection padding its fields with NULLs.
	RemovableOuter bool
	// SelfJoinPartner is the index of the factor this one forms a self-join
	// pair with, or noFactor.
	SelfJoinPartner int
	// JoinRemovalTarget is the index of the fact factor this dimension can be
	// replaced against, or noFactor.
	JoinRemovalTarget int
	// KeyMapping maps the factor's local key ordinals to the combined-space
	// fields that substitute for them once the factor's join is removed. For
	// the right member of a self-join pair it maps every local field with a
	// matching origin column to the left member's field.
	KeyMapping map[int]int
}

// Removable reports whether the factor's physical join is planned away.
func (f *JoinFactor) Removable() bool {
	return f.RemovableOuter || f.JoinRemovalTarget != noFactor
}

// Predicate is an immutable join condition plus its derived reference sets.
type Predicate struct {
	// Expr is the condition, with column offsets in the combined field space.
	Expr expression.Expression
	// FactorRefs has a bit per factor index the condition touches.
	FactorRefs *bitset.BitSet
	// FieldRefs has a bit per combined-space field the condition touches.
	FieldRefs *bitset.BitSet

	// outerFor is the factor whose outer-join condition this predicate
	// belongs to, or noFactor for ordinary inner-join filters.
	outerFor int
	// eqLhs/eqRhs are set when the condition is an equality between two bare
	// columns; only those can serve as join keys.
	eqLhs, eqRhs *expression.Column
}

// IsEquiJoin reports whether the predicate is an equality between two single
// fields of two different factors.
func (p *Predicate) IsEquiJoin() bool {
	return p.eqLhs != nil && p.FactorRefs.Count() == 2
}

// OuterJoinSpec describes the outer join a null-generating factor belongs to.
type OuterJoinSpec struct {
	// Cond is the outer-join condition, as predicates over the combined field
	// space.
	Cond []*Predicate
	// Deps are the factors of the non-null-generating side. The factor cannot
	// enter a join tree before all of them.
	Deps *bitset.BitSet
}

// SelfJoinPair is an ordered pair of factors proven to scan the same stored
// table joined on a unique key. Left always precedes Right in tree order, and
// the two must stay adjacent.
type SelfJoinPair struct {
	Left  int
	Right int
}

// FactorSet is the registry of join factors, predicates and outer-join
// structure for one N-way join. It is built once and mutated only by the
// elimination and semi-join passes, which attach annotations.
type FactorSet struct {
	factors  []*JoinFactor
	preds    []*Predicate
	outer    []*OuterJoinSpec
	pairs    []SelfJoinPair
	residual expression.Expression

	totalFields int
	fullOuter   bool
	fieldNames  []string
	fieldTypes  []*types.FieldType
}

// FactorInput describes one factor handed to NewFactorSet.
type FactorInput struct {
	Plan base.LogicalPlan
	// NullGenerating factors carry their outer-join condition and the set of
	// factors of the preserved side.
	NullGenerating bool
	OuterCond      expression.Expression
	OuterDeps      []int
	// ProjFields lists the factor's local field ordinals referenced above the
	// join; nil means all of them are.
	ProjFields []int
}

// Input is the original N-way join handed to the optimizer.
type Input struct {
	Factors []FactorInput
	// Conditions are the inner-join conditions, offsets in the combined field
	// space (factor fields concatenated in input order).
	Conditions []expression.Expression
	// Residual is the post-join filter reapplied on top of every candidate.
	Residual expression.Expression
	// FullOuter marks the overall join as a full outer join, which disables
	// the elimination passes.
	FullOuter bool
}

// NewFactorSet validates the input and builds the factor registry.
func NewFactorSet(in Input) (*FactorSet, error) {
	if len(in.Factors) == 0 {
		return nil, errors.New("multijoin: no join factors")
	}
	fs := &FactorSet{
		factors:   make([]*JoinFactor, 0, len(in.Factors)),
		outer:     make([]*OuterJoinSpec, len(in.Factors)),
		residual:  in.Residual,
		fullOuter: in.FullOuter,
	}
	offset := 0
	for i, fin := range in.Factors {
		if fin.Plan == nil {
			return nil, errors.Errorf("multijoin: factor %d has no plan", i)
		}
		schema := fin.Plan.Schema()
		factor := &JoinFactor{
			Index:             i,
			Plan:              fin.Plan,
			FieldStart:        offset,
			FieldCount:        schema.Len(),
			NullGenerating:    fin.NullGenerating,
			ProjFields:        bitset.New(uint(schema.Len())),
			SelfJoinPartner:   noFactor,
			JoinRemovalTarget: noFactor,
		}
		if fin.ProjFields == nil {
			for j := 0; j < schema.Len(); j++ {
				factor.ProjFields.Set(uint(j))
			}
		} else {
			for _, j := range fin.ProjFields {
				if j < 0 || j >= schema.Len() {
					return nil, errors.Errorf("multijoin: factor %d projects field %d out of range", i, j)
				}
				factor.ProjFields.Set(uint(j))
			}
		}
		for _, col := range schema.Columns {
			fs.fieldNames = append(fs.fieldNames, col.Name)
			fs.fieldTypes = append(fs.fieldTypes, col.RetType.Clone())
		}
		fs.factors = append(fs.factors, factor)
		offset += schema.Len()
	}
	fs.totalFields = offset

	for i, fin := range in.Factors {
		if !fin.NullGenerating {
			if fin.OuterCond != nil || fin.OuterDeps != nil {
				return nil, errors.Errorf("multijoin: factor %d has outer-join info but is not null-generating", i)
			}
			continue
		}
		spec := &OuterJoinSpec{Deps: bitset.New(uint(len(in.Factors)))}
		for _, dep := range fin.OuterDeps {
			if dep < 0 || dep >= len(in.Factors) || dep == i {
				return nil, errors.Errorf("multijoin: factor %d has invalid outer dependency %d", i, dep)
			}
			spec.Deps.Set(uint(dep))
		}
		for _, item := range expression.SplitCNFItems(fin.OuterCond) {
			pred, err := fs.newPredicate(item, i)
			if err != nil {
				return nil, err
			}
			spec.Cond = append(spec.Cond, pred)
			fs.preds = append(fs.preds, pred)
		}
		fs.outer[i] = spec
	}

	for _, cond := range in.Conditions {
		for _, item := range expression.SplitCNFItems(cond) {
			pred, err := fs.newPredicate(item, noFactor)
			if err != nil {
				return nil, err
			}
			fs.preds = append(fs.preds, pred)
		}
	}
	return fs, nil
}

func (fs *FactorSet) newPredicate(expr expression.Expression, outerFor int) (*Predicate, error) {
	pred := &Predicate{
		Expr:       expr,
		FactorRefs: bitset.New(uint(len(fs.factors))),
		FieldRefs:  bitset.New(uint(fs.totalFields)),
		outerFor:   outerFor,
	}
	for _, col := range expression.ExtractColumns(expr) {
		if col.Index < 0 || col.Index >= fs.totalFields {
			return nil, errors.Errorf("multijoin: predicate %s references field %d out of range", expr, col.Index)
		}
		pred.FieldRefs.Set(uint(col.Index))
		pred.FactorRefs.Set(uint(fs.FactorOfField(col.Index)))
	}
	if lhs, rhs, ok := expression.ExtractEquality(expr); ok {
		pred.eqLhs, pred.eqRhs = lhs, rhs
	}
	return pred, nil
}

// FactorCount returns N.
func (fs *FactorSet) FactorCount() int { return len(fs.factors) }

// Factor returns the i-th factor.
func (fs *FactorSet) Factor(i int) *JoinFactor { return fs.factors[i] }

// Predicates returns all predicates, outer-join conditions included.
func (fs *FactorSet) Predicates() []*Predicate { return fs.preds }

// OuterSpec returns the outer-join structure of factor i, or nil.
func (fs *FactorSet) OuterSpec(i int) *OuterJoinSpec { return fs.outer[i] }

// SelfJoinPairs returns the pairs recorded by self-join elimination.
func (fs *FactorSet) SelfJoinPairs() []SelfJoinPair { return fs.pairs }

// Residual returns the post-join filter, possibly nil.
func (fs *FactorSet) Residual() expression.Expression { return fs.residual }

// TotalFields returns the width of the combined field space.
func (fs *FactorSet) TotalFields() int { return fs.totalFields }

// IsFullOuter reports whether the overall join is a full outer join.
func (fs *FactorSet) IsFullOuter() bool { return fs.fullOuter }

// FieldName returns the original name of the given combined-space field.
func (fs *FactorSet) FieldName(field int) string { return fs.fieldNames[field] }

// FieldType returns the declared type of the given combined-space field.
func (fs *FactorSet) FieldType(field int) *types.FieldType { return fs.fieldTypes[field] }

// FactorOfField maps a combined-space field index to its factor index.
func (fs *FactorSet) FactorOfField(field int) int {
	for i := len(fs.factors) - 1; i >= 0; i-- {
		if field >= fs.factors[i].FieldStart {
			return i
		}
	}
	return noFactor
}

// LocalField converts a combined-space field index into the owning factor's
// local ordinal.
func (fs *FactorSet) LocalField(field int) (factor, ordinal int) {
	factor = fs.FactorOfField(field)
	return factor, field - fs.factors[factor].FieldStart
}
