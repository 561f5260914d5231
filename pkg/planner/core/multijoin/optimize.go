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

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/relopt/relopt/pkg/util/logutil"
)

// DefaultCostEpsilon is the relative tolerance under which two cumulative
// costs count as tied.
const DefaultCostEpsilon = 1e-5

// Config carries the optimizer's tuning knobs.
type Config struct {
	// MaxSemiJoinRounds caps the semi-join selection loop.
	MaxSemiJoinRounds int
	// CostEpsilon is the relative cost tolerance for tie detection.
	CostEpsilon float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxSemiJoinRounds: DefaultMaxSemiJoinRounds,
		CostEpsilon:       DefaultCostEpsilon,
	}
}

// Optimizer runs the full heuristic pipeline over one FactorSet: elimination
// and semi-join annotation, then one greedy ordering per viable start factor.
// It is stateless across invocations; a single Optimizer can serve any number
// of sequential Optimize calls.
type Optimizer struct {
	md  Metadata
	cfg Config
}

// NewOptimizer builds an Optimizer over the given metadata oracle.
// Non-positive config values fall back to the defaults.
func NewOptimizer(md Metadata, cfg Config) *Optimizer {
	if cfg.MaxSemiJoinRounds <= 0 {
		cfg.MaxSemiJoinRounds = DefaultMaxSemiJoinRounds
	}
	if cfg.CostEpsilon <= 0 {
		cfg.CostEpsilon = DefaultCostEpsilon
	}
	return &Optimizer{md: md, cfg: cfg}
}

// Optimize annotates the FactorSet in place and returns the candidate plans,
// un-ranked; choosing among them is the caller's cost model's job. The
// context is checked once per start factor, the natural coarse-grained
// cancellation point.
func (o *Optimizer) Optimize(ctx context.Context, fs *FactorSet) ([]*CandidatePlan, error) {
	eliminateOuterJoins(fs, o.md)
	sel := newSemiJoinSelector(fs, o.md, o.cfg.MaxSemiJoinRounds)
	sel.run()
	eliminateSelfJoins(fs, o.md)

	search := &orderingSearch{
		fs:      fs,
		md:      o.md,
		sel:     sel,
		weights: newWeightMatrix(fs),
		epsilon: o.cfg.CostEpsilon,
	}
	emitter := &planEmitter{fs: fs, sel: sel}

	plans := make([]*CandidatePlan, 0, fs.FactorCount())
	for i := 0; i < fs.FactorCount(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		if !o.viableStart(fs, i) {
			continue
		}
		tree, err := search.buildOrdering(i)
		if err != nil {
			return nil, err
		}
		if tree == nil {
			continue
		}
		cand, err := emitter.emit(tree, i)
		if err != nil {
			return nil, err
		}
		logutil.BgLogger().Debug("candidate ordering emitted",
			zap.Int("startFactor", i),
			zap.String("tree", tree.String()))
		plans = append(plans, cand)
	}
	return plans, nil
}

// viableStart rules out factors that cannot legally or usefully begin an
// ordering: null-generating factors must wait for their preserved side,
// removable dimensions for their fact, and the right member of a self-join
// pair for its left.
func (o *Optimizer) viableStart(fs *FactorSet, idx int) bool {
	factor := fs.Factor(idx)
	if factor.NullGenerating || factor.JoinRemovalTarget != noFactor {
		return false
	}
	for _, pair := range fs.SelfJoinPairs() {
		if pair.Right == idx {
			return false
		}
	}
	return true
}
