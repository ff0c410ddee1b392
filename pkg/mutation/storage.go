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

import "context"

// ColumnMeta describes one ordinary column of a Storage.
type ColumnMeta struct {
	Name string
	Type string
}

// MaterializedColumnMeta describes a column whose value is computed from
// other columns rather than stored directly; it cannot be the direct
// target of an UPDATE (§4.F validation).
type MaterializedColumnMeta struct {
	Name string
	Type string
	Expr Expr
}

// IndexMeta describes a secondary index available for MATERIALIZE INDEX.
type IndexMeta struct {
	Name string
	Expr Expr
}

// Storage is the planner's view of the table being mutated: its column
// set, which columns are materialized (and from what), which columns
// form the key (partition/order/version — never updatable), and which
// secondary indices exist. A real engine's table object implements this;
// the planner never touches physical storage itself.
type Storage interface {
	Name() string
	Columns() []ColumnMeta
	MaterializedColumns() map[string]MaterializedColumnMeta
	KeyColumns() []string
	SecondaryIndices() map[string]IndexMeta
}

// ActionKind classifies one step of a compiled ActionsChain.
type ActionKind int

const (
	// ActionFilter evaluates an expression into a synthetic boolean
	// column used to restrict rows passing through the stage.
	ActionFilter ActionKind = iota
	// ActionProject evaluates an expression into a synthetic column.
	ActionProject
	// ActionCopyColumn writes a previously projected synthetic column
	// over a real output column, completing an UPDATE's replacement.
	ActionCopyColumn
	// ActionFinalize restricts the working column set to the stage's
	// declared output columns.
	ActionFinalize
)

// ActionStep is one instruction of a compiled stage.
type ActionStep struct {
	Kind   ActionKind
	Column string
	Expr   Expr
}

// ActionsChain is what an Analyzer produces for a single Stage: the set
// of input columns the stage needs read from its predecessor, and the
// ordered steps that compute its declared output columns.
type ActionsChain struct {
	RequiredColumns []string
	Steps           []ActionStep
}

// Analyzer is the external, out-of-scope (§1) collaborator that resolves
// expression text into column dependencies and compiled actions. The
// planner calls it once per stage, backward from the last stage to the
// first, threading each stage's required input columns into its
// predecessor's declared output set.
type Analyzer interface {
	AnalyzeStage(ctx context.Context, storage Storage, stage *Stage) (*ActionsChain, error)
}

// CountExecutor runs a `SELECT count() WHERE predicate` against storage,
// used by IsStorageTouchedByMutations' fast path (§4.F).
type CountExecutor interface {
	Count(ctx context.Context, storage Storage, predicate Expr) (uint64, error)
}
