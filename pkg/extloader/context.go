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

package extloader

import "context"

// loadingChainKey tags the chain of object names currently being loaded
// on this logical call stack, so a factory's Create callback can call
// LoadStrict for a sibling (acceptable, per §9) while a self-cycle is
// detected and rejected as LOGICAL_ERROR rather than deadlocking.
type loadingChainKey struct{}

func withLoadingName(ctx context.Context, name string) context.Context {
	chain, _ := ctx.Value(loadingChainKey{}).([]string)
	next := make([]string, len(chain)+1)
	copy(next, chain)
	next[len(chain)] = name
	return context.WithValue(ctx, loadingChainKey{}, next)
}

func loadingChainContains(ctx context.Context, name string) bool {
	chain, _ := ctx.Value(loadingChainKey{}).([]string)
	for _, n := range chain {
		if n == name {
			return true
		}
	}
	return false
}
