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

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestBackoffSampling reproduces scenario 4 from §8: with
// backoff_initial=1s, backoff_max=60s, error_count=5, sampled delays
// should fall in [1s, 60s] with a mean within a factor of 2 of
// min(60, 1 + 2^4/2).
func TestBackoffSampling(t *testing.T) {
	settings := UpdateSettings{BackoffInitial: time.Second, BackoffMax: 60 * time.Second}
	now := time.Now()

	const trials = 10000
	var total time.Duration
	for i := 0; i < trials; i++ {
		next := CalculateNextUpdateTime(nil, 5, settings, now)
		delay := next.Sub(now)
		require.GreaterOrEqual(t, delay, time.Second)
		require.LessOrEqual(t, delay, 60*time.Second)
		total += delay
	}
	mean := total / trials
	expected := time.Duration(1+16/2) * time.Second // min(60, 1 + 2^4/2) == 9s
	require.Greater(t, mean, expected/2)
	require.Less(t, mean, expected*2)
}

func TestNextUpdateTimeNoUpdateSupportIsMax(t *testing.T) {
	obj := &fakeObjectNoUpdates{}
	settings := DefaultUpdateSettings()
	got := CalculateNextUpdateTime(obj, 0, settings, time.Now())
	require.Equal(t, maxTime, got)
}

type fakeObjectNoUpdates struct{}

func (f *fakeObjectNoUpdates) Name() string { return "x" }
func (f *fakeObjectNoUpdates) IsModified(ctx context.Context) (bool, error) {
	return false, nil
}
func (f *fakeObjectNoUpdates) SupportsUpdates() bool { return false }
func (f *fakeObjectNoUpdates) Lifetime() Lifetime    { return Lifetime{} }
func (f *fakeObjectNoUpdates) Clone() (Loadable, error) { return f, nil }
