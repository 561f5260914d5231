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

import "github.com/bits-and-blooms/bitset"

// weightMatrix is the symmetric factor-pair connectivity score: how strongly
// two factors are tied by join predicates. The ordering search ranks candidate
// next factors by their strongest edge into the factors already joined.
type weightMatrix struct {
	n       int
	weights []int
}

// newWeightMatrix scores every factor pair. An equi-join predicate contributes
// equiJoinWeight to its pair; any other predicate contributes one to every
// pair of factors it touches.
func newWeightMatrix(fs *FactorSet) *weightMatrix {
	n := fs.FactorCount()
	m := &weightMatrix{n: n, weights: make([]int, n*n)}
	for _, pred := range fs.Predicates() {
		refs := factorRefList(pred.FactorRefs)
		if len(refs) < 2 {
			continue
		}
		w := 1
		if pred.IsEquiJoin() {
			w = equiJoinWeight
		}
		for a := 0; a < len(refs); a++ {
			for b := a + 1; b < len(refs); b++ {
				m.add(refs[a], refs[b], w)
			}
		}
	}
	return m
}

// equiJoinWeight makes an equality between bare columns outrank a pair tied
// only by generic predicates.
const equiJoinWeight = 3

func (m *weightMatrix) add(i, j, w int) {
	m.weights[i*m.n+j] += w
	m.weights[j*m.n+i] += w
}

// Weight returns the connectivity score between factors i and j.
func (m *weightMatrix) Weight(i, j int) int {
	return m.weights[i*m.n+j]
}

// MaxWeightAgainst returns the candidate factor's strongest tie to any factor
// in the joined set. The max, not the sum: one strong join edge should pull a
// candidate in even when it is otherwise unrelated to the rest of the tree.
func (m *weightMatrix) MaxWeightAgainst(candidate int, joined *bitset.BitSet) int {
	best := 0
	for j, ok := joined.NextSet(0); ok; j, ok = joined.NextSet(j + 1) {
		if w := m.Weight(candidate, int(j)); w > best {
			best = w
		}
	}
	return best
}

func factorRefList(refs *bitset.BitSet) []int {
	out := make([]int, 0, refs.Count())
	for i, ok := refs.NextSet(0); ok; i, ok = refs.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}
