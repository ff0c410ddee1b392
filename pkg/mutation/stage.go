// Copyright 2024 The Cockroach Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package mutation

// Stage is one sequential step of a mutation pipeline: a block of rows
// read, filtered by zero or more predicates, with zero or more columns
// recomputed, before handing the block to the next stage. Grounded on
// MutationsInterpreter.cpp's Stage/MutationActions split.
type Stage struct {
	// Filters are ANDed together; a row survives the stage only if all
	// of them evaluate true.
	Filters []Expr

	// ColumnToExpr maps output column name to the expression that
	// recomputes it in this stage (UPDATE replacements, or materialized
	// column rewrites).
	ColumnToExpr map[string]Expr

	// OutputColumns is the declared set of columns this stage must
	// produce; populated backward from the stage that consumes it
	// during compilation.
	OutputColumns []string

	// Compiled holds the ActionsChain produced for this stage by the
	// Analyzer during Plan's backward compilation pass.
	Compiled *ActionsChain
}

func newStage() *Stage {
	return &Stage{ColumnToExpr: map[string]Expr{}}
}

// sortedUpdateColumns returns the stage's ColumnToExpr keys in
// deterministic (lexicographic) order, since map iteration order is not
// stable and the planner's output must be.
func (s *Stage) sortedUpdateColumns() []string {
	return sortedKeys(s.ColumnToExpr)
}
