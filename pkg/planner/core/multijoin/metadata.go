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
	"math"

	"github.com/bits-and-blooms/bitset"

	"github.com/relopt/relopt/pkg/expression"
	"github.com/relopt/relopt/pkg/planner/core/base"
)

// TableID identifies a stored table in the catalog.
type TableID int64

// ColumnOrigin names the stored column a relation's output field is computed
// from, when there is exactly one.
type ColumnOrigin struct {
	Table   TableID
	Ordinal int
}

// Cost is the cumulative cost of a relation as reported by the metadata
// oracle. It is totally ordered; comparisons inside the optimizer use
// ApproxEqual so that noise below the configured epsilon does not flip
// decisions.
type Cost float64

// Less reports whether c is strictly cheaper than other.
func (c Cost) Less(other Cost) bool { return c < other }

// ApproxEqual reports whether the two costs are equal within a relative
// epsilon.
func (c Cost) ApproxEqual(other Cost, epsilon float64) bool {
	diff := math.Abs(float64(c - other))
	scale := math.Max(math.Abs(float64(c)), math.Abs(float64(other)))
	if scale == 0 {
		return true
	}
	return diff <= epsilon*scale
}

// Metadata is the catalog and cost oracle the optimizer consults. Every query
// may answer "unknown" (ok == false); the search then degrades to weight-only
// comparisons instead of failing.
//
// Field bitsets are in the local field space of the relation being asked
// about.
type Metadata interface {
	// TableID returns the identity of the stored table p scans, if p is a
	// plain scan of exactly one table.
	TableID(p base.LogicalPlan) (TableID, bool)
	// ColumnOrigin returns the stored column the given output field of p
	// originates from.
	ColumnOrigin(p base.LogicalPlan, field int) (ColumnOrigin, bool)
	// ColumnsUniqueWhenNullsFiltered reports whether the given fields form a
	// unique key of p once rows with NULLs in those fields are filtered out.
	ColumnsUniqueWhenNullsFiltered(p base.LogicalPlan, fields *bitset.BitSet) bool
	// RowCount estimates the number of rows produced by p.
	RowCount(p base.LogicalPlan) (float64, bool)
	// DistinctRowCount estimates the number of distinct values of the given
	// fields of p.
	DistinctRowCount(p base.LogicalPlan, fields *bitset.BitSet) (float64, bool)
	// Selectivity estimates the fraction of p's rows satisfying cond.
	Selectivity(p base.LogicalPlan, cond expression.Expression) (float64, bool)
	// CumulativeCost returns the total cost of computing p.
	CumulativeCost(p base.LogicalPlan) (Cost, bool)
}
