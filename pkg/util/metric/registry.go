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

// Package metric is a trimmed descendant of util/metric/registry.go's
// Registry/Iterable pattern, used here to realize the "global mutable
// state — profile counters" design note: a process-wide registry of
// atomic counters, initialized once, never torn down, read best-effort.
package metric

import "sync/atomic"

// Counter is a monotonically increasing, atomically-updated counter.
type Counter struct {
	count int64
}

// Inc adds delta to the counter.
func (c *Counter) Inc(delta int64) { atomic.AddInt64(&c.count, delta) }

// Value returns the counter's current value.
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.count) }

// Registry bundles named counters for a single point of introspection,
// mirroring the teacher's Registry.
type Registry struct {
	counters map[string]*Counter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{counters: map[string]*Counter{}}
}

// Counter returns (creating if absent) the named counter. Registration is
// expected at startup; this is not safe to call concurrently with itself
// once the registry is shared across goroutines for read-only use.
func (r *Registry) Counter(name string) *Counter {
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{}
	r.counters[name] = c
	return c
}

// Snapshot returns a point-in-time copy of every counter's value.
func (r *Registry) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		out[name] = c.Value()
	}
	return out
}
