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

// Package mutation plans ALTER TABLE ... UPDATE/DELETE/MATERIALIZE INDEX
// commands into a sequential pipeline of Stages, mirroring
// MutationsInterpreter.cpp (§4.F). It never executes the pipeline itself
// — Storage, Analyzer and CountExecutor are black-box collaborators
// supplied by the surrounding engine.
package mutation

import (
	"context"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Plan is the output of compiling a batch of commands: an ordered
// pipeline of stages, plus whether a secondary index needs recomputing.
// ID tags the plan for log correlation, the same way extloader tags
// each in-flight loading attempt.
type Plan struct {
	ID                  string
	Stages              []*Stage
	NeedsIndexRecompute bool
}

// Planner compiles Commands against a fixed Storage, using Analyzer to
// resolve expression column dependencies.
type Planner struct {
	storage  Storage
	analyzer Analyzer
}

// NewPlanner constructs a Planner. If analyzer is nil, a default
// dependency-only analyzer is used (sufficient to drive staging and
// column-dependency propagation without a real expression compiler).
func NewPlanner(storage Storage, analyzer Analyzer) *Planner {
	if analyzer == nil {
		analyzer = simpleAnalyzer{}
	}
	return &Planner{storage: storage, analyzer: analyzer}
}

// Plan validates and compiles commands into a Plan. Commands are applied
// in order; DELETE and UPDATE contribute to the pipeline being built,
// MATERIALIZE INDEX only marks that a final index-recompute stage is
// needed (§4.F).
func (p *Planner) Plan(ctx context.Context, commands []Command) (*Plan, error) {
	if err := p.validate(commands); err != nil {
		return nil, err
	}

	stages, needsIndexRecompute, err := p.buildStages(commands)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return &Plan{ID: uuid.New().String()}, nil
	}

	last := stages[len(stages)-1]
	if len(last.OutputColumns) == 0 {
		last.OutputColumns = p.allColumnNames()
	}

	for i := len(stages) - 1; i >= 0; i-- {
		chain, err := p.analyzer.AnalyzeStage(ctx, p.storage, stages[i])
		if err != nil {
			return nil, errors.Wrapf(err, "compiling mutation stage %d", i)
		}
		stages[i].Compiled = chain
		if i > 0 {
			stages[i-1].OutputColumns = unionSorted(stages[i-1].OutputColumns, chain.RequiredColumns)
		}
	}

	return &Plan{ID: uuid.New().String(), Stages: stages, NeedsIndexRecompute: needsIndexRecompute}, nil
}

// validate enforces §4.F's validation rules ahead of staging: an updated
// column must exist, must not be materialized, and neither it nor any
// materialized column that depends on it may be a key column.
func (p *Planner) validate(commands []Command) error {
	columns := map[string]ColumnMeta{}
	for _, c := range p.storage.Columns() {
		columns[c.Name] = c
	}
	materialized := p.storage.MaterializedColumns()
	keyColumns := map[string]bool{}
	for _, k := range p.storage.KeyColumns() {
		keyColumns[k] = true
	}

	for _, cmd := range commands {
		switch cmd.Kind {
		case CommandUpdate:
			for col := range cmd.Updates {
				if _, ok := materialized[col]; ok {
					return errors.Wrapf(ErrCannotUpdateColumn, "column %q is materialized", col)
				}
				if _, ok := columns[col]; !ok {
					return errors.Wrapf(ErrNoSuchColumn, "column %q", col)
				}
				if keyColumns[col] {
					return errors.Wrapf(ErrCannotUpdateColumn, "column %q is part of the table key", col)
				}
			}
			for name, mc := range materialized {
				if !keyColumns[name] {
					continue
				}
				if dependsOnAny(mc.Expr, cmd.Updates) {
					return errors.Wrapf(ErrCannotUpdateColumn,
						"materialized key column %q depends on an updated column", name)
				}
			}
		case CommandMaterializeIndex:
			if _, ok := p.storage.SecondaryIndices()[cmd.IndexName]; !ok {
				return errors.Wrapf(ErrBadArguments, "no such index %q", cmd.IndexName)
			}
		}
	}
	return nil
}

// buildStages applies the §4.F staging rule in command order.
func (p *Planner) buildStages(commands []Command) (stages []*Stage, needsIndexRecompute bool, err error) {
	indexColumns := map[string]bool{}

	for _, cmd := range commands {
		switch cmd.Kind {
		case CommandDelete:
			stage := lastFilterOnlyStage(stages)
			if stage == nil {
				stage = newStage()
				stages = append(stages, stage)
			}
			stage.Filters = append(stage.Filters, Not(cmd.Predicate))

		case CommandUpdate:
			// UPDATE always opens a fresh filter-only stage ahead of its
			// own update stage, cleanly separating predicate evaluation
			// from the column rewrite that follows it.
			stages = append(stages, newStage())

			updateStage := newStage()
			for _, col := range sortedKeys(cmd.Updates) {
				expr := cmd.Updates[col]
				colType := p.columnType(col)
				updateStage.ColumnToExpr[col] = Cast(If(cmd.Predicate, expr, Ident(col)), colType)
			}
			stages = append(stages, updateStage)

			affected := affectedMaterializedColumns(p.storage.MaterializedColumns(), cmd.Updates)
			if len(affected) > 0 {
				rewriteStage := newStage()
				for _, name := range affected {
					mc := p.storage.MaterializedColumns()[name]
					rewriteStage.ColumnToExpr[name] = mc.Expr
				}
				stages = append(stages, rewriteStage)
			}

		case CommandMaterializeIndex:
			needsIndexRecompute = true
			idx := p.storage.SecondaryIndices()[cmd.IndexName]
			for _, c := range idx.Expr.Columns() {
				indexColumns[c] = true
			}

		default:
			return nil, false, errors.Newf("unknown mutation command kind %v", cmd.Kind)
		}
	}

	if needsIndexRecompute {
		finalStage := newStage()
		for _, c := range sortedKeysBool(indexColumns) {
			finalStage.ColumnToExpr[c] = Ident(c)
		}
		stages = append(stages, finalStage)
	}

	return stages, needsIndexRecompute, nil
}

// lastFilterOnlyStage returns the last stage if it has no column
// rewrites yet (so a run of consecutive DELETEs shares one filter
// stage), or nil if a new stage must be opened.
func lastFilterOnlyStage(stages []*Stage) *Stage {
	if len(stages) == 0 {
		return nil
	}
	last := stages[len(stages)-1]
	if len(last.ColumnToExpr) == 0 {
		return last
	}
	return nil
}

func (p *Planner) columnType(name string) string {
	for _, c := range p.storage.Columns() {
		if c.Name == name {
			return c.Type
		}
	}
	return ""
}

func (p *Planner) allColumnNames() []string {
	var names []string
	for _, c := range p.storage.Columns() {
		names = append(names, c.Name)
	}
	for name := range p.storage.MaterializedColumns() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// affectedMaterializedColumns returns, in sorted order, the materialized
// columns whose expression reads any of the given updated columns.
func affectedMaterializedColumns(materialized map[string]MaterializedColumnMeta, updates map[string]Expr) []string {
	var out []string
	for name, mc := range materialized {
		if dependsOnAny(mc.Expr, updates) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func dependsOnAny(e Expr, updates map[string]Expr) bool {
	if e == nil {
		return false
	}
	for _, col := range e.Columns() {
		if _, ok := updates[col]; ok {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]Expr) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysBool(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func unionSorted(a, b []string) []string {
	seen := map[string]bool{}
	for _, s := range a {
		seen[s] = true
	}
	out := append([]string{}, a...)
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// IsStorageTouchedByMutations answers whether any row of storage matches
// the OR of all commands' predicates, used to skip planning entirely
// when a mutation would be a no-op (§4.F). A nil predicate (a command
// with no WHERE clause) short-circuits to true without consulting
// executor. Calls are rate-limited since this typically issues a real
// COUNT query against storage.
func (p *Planner) IsStorageTouchedByMutations(
	ctx context.Context, commands []Command, executor CountExecutor, limiter *rate.Limiter,
) (bool, error) {
	var predicates []Expr
	for _, cmd := range commands {
		switch cmd.Kind {
		case CommandDelete, CommandUpdate:
			if cmd.Predicate == nil {
				return true, nil
			}
			predicates = append(predicates, cmd.Predicate)
		case CommandMaterializeIndex:
			return true, nil
		}
	}
	if len(predicates) == 0 {
		return false, nil
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	count, err := executor.Count(ctx, p.storage, Or(predicates...))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// simpleAnalyzer is the default Analyzer: it resolves a stage's required
// input columns purely from Expr.Columns(), without real type checking
// or constant folding. It is deterministic, which the planner's output
// stability depends on.
type simpleAnalyzer struct{}

func (simpleAnalyzer) AnalyzeStage(_ context.Context, _ Storage, stage *Stage) (*ActionsChain, error) {
	required := map[string]bool{}
	var steps []ActionStep

	for i, f := range stage.Filters {
		name := filterColumnName(i)
		steps = append(steps, ActionStep{Kind: ActionFilter, Column: name, Expr: f})
		for _, c := range f.Columns() {
			required[c] = true
		}
	}

	produced := map[string]bool{}
	for _, col := range stage.sortedUpdateColumns() {
		expr := stage.ColumnToExpr[col]
		tmp := "_tmp_" + col
		steps = append(steps, ActionStep{Kind: ActionProject, Column: tmp, Expr: expr})
		steps = append(steps, ActionStep{Kind: ActionCopyColumn, Column: col, Expr: Ident(tmp)})
		produced[col] = true
		for _, c := range expr.Columns() {
			required[c] = true
		}
	}

	for _, oc := range stage.OutputColumns {
		if !produced[oc] {
			required[oc] = true
		}
	}
	steps = append(steps, ActionStep{Kind: ActionFinalize})

	return &ActionsChain{RequiredColumns: sortedKeysBool(required), Steps: steps}, nil
}

func filterColumnName(i int) string {
	return "_filter_" + strconv.Itoa(i)
}
