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

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeStorage struct {
	name         string
	columns      []ColumnMeta
	materialized map[string]MaterializedColumnMeta
	keyColumns   []string
	indices      map[string]IndexMeta
}

func (s *fakeStorage) Name() string          { return s.name }
func (s *fakeStorage) Columns() []ColumnMeta { return s.columns }
func (s *fakeStorage) MaterializedColumns() map[string]MaterializedColumnMeta {
	return s.materialized
}
func (s *fakeStorage) KeyColumns() []string              { return s.keyColumns }
func (s *fakeStorage) SecondaryIndices() map[string]IndexMeta { return s.indices }

// kvTable reproduces the §8 scenario 6 table: ordinary columns k (key)
// and v, a materialized column v2 = multiply(v, 2).
func kvTable() *fakeStorage {
	return &fakeStorage{
		name: "kv",
		columns: []ColumnMeta{
			{Name: "k", Type: "UInt32"},
			{Name: "v", Type: "UInt32"},
		},
		materialized: map[string]MaterializedColumnMeta{
			"v2": {Name: "v2", Type: "UInt32", Expr: Call("multiply", Ident("v"), Literal("2"))},
		},
		keyColumns: []string{"k"},
		indices:    map[string]IndexMeta{},
	}
}

// TestUpdateReproducesMaterializedRewrite reproduces scenario 6 from §8:
// UPDATE v = v + 1 WHERE k > 10, on a table with v2 materialized from v.
func TestUpdateReproducesMaterializedRewrite(t *testing.T) {
	storage := kvTable()
	planner := NewPlanner(storage, nil)

	predicate := Call("greater", Ident("k"), Literal("10"))
	cmd := Command{
		Kind:      CommandUpdate,
		Predicate: predicate,
		Updates:   map[string]Expr{"v": Call("plus", Ident("v"), Literal("1"))},
	}

	plan, err := planner.Plan(context.Background(), []Command{cmd})
	require.NoError(t, err)
	require.Len(t, plan.Stages, 3, "filter-only stage, update stage, materialized rewrite stage")

	updateStage := plan.Stages[1]
	require.Contains(t, updateStage.ColumnToExpr, "v")
	require.Equal(t,
		"CAST(if(greater(k, 10), plus(v, 1), v), 'UInt32')",
		updateStage.ColumnToExpr["v"].String())

	rewriteStage := plan.Stages[2]
	require.Contains(t, rewriteStage.ColumnToExpr, "v2")
	require.Equal(t, "multiply(v, 2)", rewriteStage.ColumnToExpr["v2"].String())

	last := plan.Stages[len(plan.Stages)-1]
	require.Equal(t, []string{"k", "v", "v2"}, last.OutputColumns)
}

func TestUpdateCannotTargetKeyColumn(t *testing.T) {
	storage := kvTable()
	planner := NewPlanner(storage, nil)
	cmd := Command{Kind: CommandUpdate, Predicate: Literal("1"), Updates: map[string]Expr{"k": Literal("0")}}
	_, err := planner.Plan(context.Background(), []Command{cmd})
	require.True(t, IsCannotUpdateColumn(err))
}

func TestUpdateCannotTargetMaterializedColumn(t *testing.T) {
	storage := kvTable()
	planner := NewPlanner(storage, nil)
	cmd := Command{Kind: CommandUpdate, Predicate: Literal("1"), Updates: map[string]Expr{"v2": Literal("0")}}
	_, err := planner.Plan(context.Background(), []Command{cmd})
	require.True(t, IsCannotUpdateColumn(err))
}

func TestUpdateUnknownColumnIsNoSuchColumn(t *testing.T) {
	storage := kvTable()
	planner := NewPlanner(storage, nil)
	cmd := Command{Kind: CommandUpdate, Predicate: Literal("1"), Updates: map[string]Expr{"nope": Literal("0")}}
	_, err := planner.Plan(context.Background(), []Command{cmd})
	require.True(t, IsNoSuchColumn(err))
}

func TestMaterializeIndexUnknownNameIsBadArguments(t *testing.T) {
	storage := kvTable()
	planner := NewPlanner(storage, nil)
	cmd := Command{Kind: CommandMaterializeIndex, IndexName: "nope"}
	_, err := planner.Plan(context.Background(), []Command{cmd})
	require.True(t, IsBadArguments(err))
}

func TestConsecutiveDeletesShareOneFilterStage(t *testing.T) {
	storage := kvTable()
	planner := NewPlanner(storage, nil)
	commands := []Command{
		{Kind: CommandDelete, Predicate: Call("equals", Ident("k"), Literal("1"))},
		{Kind: CommandDelete, Predicate: Call("equals", Ident("k"), Literal("2"))},
	}
	plan, err := planner.Plan(context.Background(), commands)
	require.NoError(t, err)
	require.Len(t, plan.Stages, 1)
	require.Len(t, plan.Stages[0].Filters, 2)
}

func TestMaterializeIndexAppendsFinalStage(t *testing.T) {
	storage := kvTable()
	storage.indices = map[string]IndexMeta{
		"idx_v": {Name: "idx_v", Expr: Ident("v")},
	}
	planner := NewPlanner(storage, nil)
	cmd := Command{Kind: CommandMaterializeIndex, IndexName: "idx_v"}
	plan, err := planner.Plan(context.Background(), []Command{cmd})
	require.NoError(t, err)
	require.True(t, plan.NeedsIndexRecompute)
	require.Len(t, plan.Stages, 1)
	require.Contains(t, plan.Stages[0].ColumnToExpr, "v")
}

type fakeCounter struct {
	calls int
	count uint64
	err   error
}

func (f *fakeCounter) Count(ctx context.Context, storage Storage, predicate Expr) (uint64, error) {
	f.calls++
	return f.count, f.err
}

func TestIsStorageTouchedByMutationsNilPredicateShortCircuits(t *testing.T) {
	storage := kvTable()
	planner := NewPlanner(storage, nil)
	counter := &fakeCounter{}
	touched, err := planner.IsStorageTouchedByMutations(context.Background(),
		[]Command{{Kind: CommandDelete}}, counter, nil)
	require.NoError(t, err)
	require.True(t, touched)
	require.Equal(t, 0, counter.calls)
}

func TestIsStorageTouchedByMutationsConsultsExecutor(t *testing.T) {
	storage := kvTable()
	planner := NewPlanner(storage, nil)
	counter := &fakeCounter{count: 0}
	limiter := rate.NewLimiter(rate.Inf, 1)
	touched, err := planner.IsStorageTouchedByMutations(context.Background(),
		[]Command{{Kind: CommandDelete, Predicate: Call("equals", Ident("k"), Literal("1"))}}, counter, limiter)
	require.NoError(t, err)
	require.False(t, touched)
	require.Equal(t, 1, counter.calls)

	counter.count = 5
	touched, err = planner.IsStorageTouchedByMutations(context.Background(),
		[]Command{{Kind: CommandDelete, Predicate: Call("equals", Ident("k"), Literal("1"))}}, counter, limiter)
	require.NoError(t, err)
	require.True(t, touched)
}
