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
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/relopt/relopt/pkg/expression"
	"github.com/relopt/relopt/pkg/planner/core/base"
	"github.com/relopt/relopt/pkg/planner/core/operator/logicalop"
	"github.com/relopt/relopt/pkg/types"
)

// mockMetadata is a deterministic metadata oracle for tests. Leaf relations
// are registered explicitly; estimates for synthesized joins and projections
// are derived recursively so cost comparisons inside the search see real
// numbers.
type mockMetadata struct {
	tables   map[base.LogicalPlan]TableID
	origins  map[base.LogicalPlan][]ColumnOrigin
	uniques  map[base.LogicalPlan][]*bitset.BitSet
	rows     map[base.LogicalPlan]float64
	distinct map[base.LogicalPlan]map[string]float64
	sel      map[base.LogicalPlan]float64
}

func newMockMetadata() *mockMetadata {
	return &mockMetadata{
		tables:   make(map[base.LogicalPlan]TableID),
		origins:  make(map[base.LogicalPlan][]ColumnOrigin),
		uniques:  make(map[base.LogicalPlan][]*bitset.BitSet),
		rows:     make(map[base.LogicalPlan]float64),
		distinct: make(map[base.LogicalPlan]map[string]float64),
		sel:      make(map[base.LogicalPlan]float64),
	}
}

func fieldsKey(fields *bitset.BitSet) string {
	var sb strings.Builder
	for i, ok := fields.NextSet(0); ok; i, ok = fields.NextSet(i + 1) {
		fmt.Fprintf(&sb, "%d,", i)
	}
	return sb.String()
}

func fieldSet(fields ...int) *bitset.BitSet {
	s := bitset.New(8)
	for _, f := range fields {
		s.Set(uint(f))
	}
	return s
}

func (m *mockMetadata) setTable(p base.LogicalPlan, id TableID) {
	m.tables[p] = id
	for i := 0; i < p.Schema().Len(); i++ {
		m.origins[p] = append(m.origins[p], ColumnOrigin{Table: id, Ordinal: i})
	}
}

func (m *mockMetadata) setUnique(p base.LogicalPlan, fields ...int) {
	m.uniques[p] = append(m.uniques[p], fieldSet(fields...))
}

func (m *mockMetadata) setDistinct(p base.LogicalPlan, count float64, fields ...int) {
	if m.distinct[p] == nil {
		m.distinct[p] = make(map[string]float64)
	}
	m.distinct[p][fieldsKey(fieldSet(fields...))] = count
}

func (m *mockMetadata) TableID(p base.LogicalPlan) (TableID, bool) {
	id, ok := m.tables[p]
	return id, ok
}

func (m *mockMetadata) ColumnOrigin(p base.LogicalPlan, field int) (ColumnOrigin, bool) {
	origins, ok := m.origins[p]
	if !ok || field < 0 || field >= len(origins) {
		return ColumnOrigin{}, false
	}
	return origins[field], true
}

// ColumnsUniqueWhenNullsFiltered answers true when the queried fields contain
// some registered unique key.
func (m *mockMetadata) ColumnsUniqueWhenNullsFiltered(p base.LogicalPlan, fields *bitset.BitSet) bool {
	for _, key := range m.uniques[p] {
		if isSubsetOf(key, fields) {
			return true
		}
	}
	return false
}

func (m *mockMetadata) RowCount(p base.LogicalPlan) (float64, bool) {
	if r, ok := m.rows[p]; ok {
		return r, true
	}
	switch v := p.(type) {
	case *logicalop.LogicalJoin:
		l, okL := m.RowCount(v.Children()[0])
		r, okR := m.RowCount(v.Children()[1])
		if !okL || !okR {
			return 0, false
		}
		if v.JoinType == base.SemiJoin {
			return l / 2, true
		}
		if l > r {
			return l, true
		}
		return r, true
	case *logicalop.LogicalProjection, *logicalop.LogicalSelection:
		return m.RowCount(v.Children()[0])
	}
	return 0, false
}

func (m *mockMetadata) DistinctRowCount(p base.LogicalPlan, fields *bitset.BitSet) (float64, bool) {
	if perSet, ok := m.distinct[p]; ok {
		if d, ok := perSet[fieldsKey(fields)]; ok {
			return d, true
		}
	}
	return 0, false
}

func (m *mockMetadata) Selectivity(p base.LogicalPlan, cond expression.Expression) (float64, bool) {
	s, ok := m.sel[p]
	return s, ok
}

// CumulativeCost charges every node the rows it processes.
func (m *mockMetadata) CumulativeCost(p base.LogicalPlan) (Cost, bool) {
	rows, ok := m.RowCount(p)
	if !ok {
		return 0, false
	}
	total := rows
	for _, child := range p.Children() {
		c, ok := m.CumulativeCost(child)
		if !ok {
			return 0, false
		}
		total += float64(c)
	}
	return Cost(total), true
}

// scan builds a leaf DataSource with int columns named name.col0, name.col1...
func scan(name string, cols ...string) *logicalop.DataSource {
	fields := make([]*expression.Column, 0, len(cols))
	for i, col := range cols {
		fields = append(fields, expression.NewColumn(i, name+"."+col, types.NewFieldType(types.KindInt)))
	}
	return logicalop.NewDataSource(name, expression.NewSchema(fields...))
}

// eq builds an equality between two combined-space fields.
func eq(a, b int) expression.Expression {
	return expression.NewEQ(
		expression.NewColumn(a, "", types.NewFieldType(types.KindInt)),
		expression.NewColumn(b, "", types.NewFieldType(types.KindInt)),
	)
}

// countJoins walks a plan counting physical join nodes.
func countJoins(p base.LogicalPlan) int {
	count := 0
	if _, ok := p.(*logicalop.LogicalJoin); ok {
		count++
	}
	for _, child := range p.Children() {
		count += countJoins(child)
	}
	return count
}

// collectScans returns the table names of every DataSource leaf in the plan.
func collectScans(p base.LogicalPlan) []string {
	if ds, ok := p.(*logicalop.DataSource); ok {
		return []string{ds.TableName}
	}
	var names []string
	for _, child := range p.Children() {
		names = append(names, collectScans(child)...)
	}
	return names
}

// collectConditions gathers every join condition and filter conjunct in the
// plan, skipping semi-join reducers (their conditions duplicate consumed
// reducer predicates by design).
func collectConditions(p base.LogicalPlan) []expression.Expression {
	var conds []expression.Expression
	switch v := p.(type) {
	case *logicalop.LogicalJoin:
		if v.JoinType != base.SemiJoin {
			conds = append(conds, v.Conditions()...)
		}
	case *logicalop.LogicalSelection:
		conds = append(conds, v.Conditions...)
	}
	for _, child := range p.Children() {
		conds = append(conds, collectConditions(child)...)
	}
	return conds
}
