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

package expression

import "github.com/relopt/relopt/pkg/types"

// CNFExprs stands for a CNF expression.
type CNFExprs []Expression

// SplitCNFItems splits a condition into its top-level AND conjuncts.
func SplitCNFItems(cond Expression) []Expression {
	if cond == nil {
		return nil
	}
	sf, ok := cond.(*ScalarFunction)
	if !ok || sf.FuncName != LogicAnd {
		return []Expression{cond}
	}
	var items []Expression
	for _, arg := range sf.GetArgs() {
		items = append(items, SplitCNFItems(arg)...)
	}
	return items
}

// ComposeCNFCondition joins conditions with AND. It returns nil for an empty
// input and the single condition unchanged for a one-element input.
func ComposeCNFCondition(conds ...Expression) Expression {
	var result Expression
	for _, cond := range conds {
		if cond == nil {
			continue
		}
		if result == nil {
			result = cond
			continue
		}
		result = NewFunction(LogicAnd, types.NewFieldType(types.KindBool), result, cond)
	}
	return result
}
