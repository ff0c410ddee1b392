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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	name string
	gen  int
}

func (f *fakeObject) Name() string                                       { return f.name }
func (f *fakeObject) IsModified(ctx context.Context) (bool, error)       { return false, nil }
func (f *fakeObject) SupportsUpdates() bool                              { return true }
func (f *fakeObject) Lifetime() Lifetime                                 { return Lifetime{MinSeconds: 60, MaxSeconds: 120} }
func (f *fakeObject) Clone() (Loadable, error)                           { return &fakeObject{name: f.name, gen: f.gen}, nil }

// fakeFactory builds fakeObjects, optionally failing, controlled by a
// per-name switch so tests can flip a single object's factory from
// succeeding to failing mid-test (scenario 3 in §8).
type fakeFactory struct {
	mu     sync.Mutex
	fail   map[string]bool
	builds int32
}

func newFakeFactory() *fakeFactory { return &fakeFactory{fail: map[string]bool{}} }

func (f *fakeFactory) setFail(name string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[name] = fail
}

func (f *fakeFactory) Create(ctx context.Context, name string, cfg ObjectConfig) (Loadable, error) {
	atomic.AddInt32(&f.builds, 1)
	f.mu.Lock()
	fail := f.fail[name]
	f.mu.Unlock()
	if fail {
		return nil, errTestFailure
	}
	return &fakeObject{name: name}, nil
}

var errTestFailure = &testError{"synthetic factory failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func snapshotWith(names ...string) *Snapshot {
	objs := map[string]ObjectConfig{}
	for _, n := range names {
		objs[n] = ObjectConfig{KeyInConfig: "dictionary", Parsed: n}
	}
	return &Snapshot{Objects: objs}
}

// TestLoaderHappyPath reproduces scenario 2 from §8.
func TestLoaderHappyPath(t *testing.T) {
	factory := newFakeFactory()
	d := NewDispatcher(factory, DefaultUpdateSettings(), nil)
	d.SetConfiguration(context.Background(), snapshotWith("foo"))

	result, err := d.Load(context.Background(), "foo", 0)
	require.NoError(t, err)
	require.Equal(t, Loaded, result.Status)
	require.Equal(t, Loaded, d.GetCurrentStatus("foo"))

	d.Reload(context.Background(), "foo", false)
	result2, err := d.Load(context.Background(), "foo", 0)
	require.NoError(t, err)
	require.Equal(t, Loaded, result2.Status)
	require.NotNil(t, result2.Object)
}

// TestLoaderFailureRetainsVersion reproduces scenario 3 from §8.
func TestLoaderFailureRetainsVersion(t *testing.T) {
	factory := newFakeFactory()
	d := NewDispatcher(factory, DefaultUpdateSettings(), nil)
	d.SetConfiguration(context.Background(), snapshotWith("foo"))

	result, err := d.Load(context.Background(), "foo", 0)
	require.NoError(t, err)
	require.Equal(t, Loaded, result.Status)
	v1 := result.Object

	factory.setFail("foo", true)
	d.Reload(context.Background(), "foo", false)

	result2, err := d.Load(context.Background(), "foo", 0)
	require.NoError(t, err)
	require.Equal(t, Failed, result2.Status)
	require.Equal(t, v1, result2.Object)
	require.Error(t, result2.Exception)
	require.Equal(t, 1, result2.ErrorCount)
}

// TestConfigHotSwap reproduces scenario 5 from §8.
func TestConfigHotSwap(t *testing.T) {
	factory := newFakeFactory()
	d := NewDispatcher(factory, DefaultUpdateSettings(), nil)

	d.SetConfiguration(context.Background(), snapshotWith("a", "b"))
	_, err := d.Load(context.Background(), "a", 0)
	require.NoError(t, err)
	_, err = d.Load(context.Background(), "b", 0)
	require.NoError(t, err)

	d.SetConfiguration(context.Background(), snapshotWith("b", "c"))

	require.Equal(t, NotExist, d.GetCurrentStatus("a"))
	require.Equal(t, Loaded, d.GetCurrentStatus("b")) // unchanged config, untouched

	_, err = d.Load(context.Background(), "c", 0)
	require.NoError(t, err)

	results := d.GetCurrentLoadResults(nil)
	names := map[string]bool{}
	for _, r := range results {
		names[r.Name] = true
	}
	require.Equal(t, map[string]bool{"b": true, "c": true}, names)
}

func TestLoadStrictUnknownNameIsBadArguments(t *testing.T) {
	d := NewDispatcher(newFakeFactory(), DefaultUpdateSettings(), nil)
	_, err := d.LoadStrict(context.Background(), "nope")
	require.True(t, IsBadArguments(err))
}

func TestLoadStrictReraisesStoredError(t *testing.T) {
	factory := newFakeFactory()
	factory.setFail("foo", true)
	d := NewDispatcher(factory, DefaultUpdateSettings(), nil)
	d.SetConfiguration(context.Background(), snapshotWith("foo"))

	_, err := d.LoadStrict(context.Background(), "foo")
	require.Error(t, err)
	require.Equal(t, errTestFailure.Error(), err.Error())
}

func TestLoadTimeoutReturnsBeforeReady(t *testing.T) {
	factory := newFakeFactory()
	d := NewDispatcher(factory, DefaultUpdateSettings(), nil)
	d.EnableAsyncLoading(true)
	// The create callback is not slowed down: with a 1ns timeout the
	// asynchronous load may or may not have finished when Load returns,
	// and only the absence of an error is checked.
	d.SetConfiguration(context.Background(), snapshotWith("slow"))
	_, err := d.Load(context.Background(), "slow", time.Nanosecond)
	require.NoError(t, err)
}

func TestReloadOutdatedConvergesAfterFailure(t *testing.T) {
	factory := newFakeFactory()
	factory.setFail("foo", true)
	settings := UpdateSettings{CheckPeriod: time.Second, BackoffInitial: 0, BackoffMax: 0}
	d := NewDispatcher(factory, settings, nil)
	d.SetConfiguration(context.Background(), snapshotWith("foo"))
	d.EnableAlwaysLoadEverything(context.Background(), true)

	_, err := d.Load(context.Background(), "foo", 0)
	require.NoError(t, err)
	require.Equal(t, Failed, d.GetCurrentStatus("foo"))

	factory.setFail("foo", false)
	isModified := func(ctx context.Context, obj Loadable) (bool, error) { return true, nil }
	for i := 0; i < 5; i++ {
		d.ReloadOutdated(context.Background(), isModified)
		if d.GetCurrentStatus("foo") == Loaded {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, Loaded, d.GetCurrentStatus("foo"))
}
