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
	"reflect"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jcdang/ClickHouse/pkg/util/log"
	"github.com/jcdang/ClickHouse/pkg/util/metric"
)

// info is the per-named-object record from §3, exclusively owned by the
// Dispatcher.
type info struct {
	config       ObjectConfig
	object       Loadable
	err          error
	loadingSeq   uint64 // 0 == not currently loading
	loadingTag   string // uuid logged alongside loadingSeq for traceability
	loadStart    time.Time
	loadEnd      time.Time
	errorCount   int
	configChanged bool
	forcedReload bool
	nextUpdate   time.Time
}

// status derives the Status enumeration from §3. "loaded" is defined, per
// the testable property in §8, as object present AND no stored exception
// — so a retained object after a failed reload reports FAILED, not
// LOADED, even though GetCurrentLoadResult still exposes the old object.
func (i *info) status() Status {
	loaded := i.object != nil && i.err == nil
	failed := i.err != nil
	loading := i.loadingSeq != 0

	switch {
	case loaded && !loading:
		return Loaded
	case loaded && loading:
		return LoadedAndReloading
	case failed && !loading:
		return Failed
	case failed && loading:
		return FailedAndReloading
	case !loaded && !failed && loading:
		return Loading
	default:
		return NotLoaded
	}
}

// ready reports whether a blocking Load can return: a resolved outcome
// exists and, per the "forced_to_reload" invariant in §3, no forced
// reload is still pending.
func (i *info) ready() bool {
	if i.forcedReload {
		return false
	}
	return i.loadingSeq == 0 && (i.object != nil || i.err != nil)
}

// Dispatcher owns the state of every declared object and schedules loads
// synchronously or on a worker pool, per §4.D. Grounded on
// ExternalLoader.cpp's LoadingDispatcher.
type Dispatcher struct {
	mu   sync.Mutex
	cond *sync.Cond

	infos                map[string]*info
	factory              ObjectFactory
	settings             UpdateSettings
	alwaysLoadEverything bool
	asyncLoading         bool
	nextSeq              uint64

	metrics *metric.Registry
	group   errgroup.Group // tracks in-flight async loads, joined by Close
}

// NewDispatcher constructs a Dispatcher with no registered objects.
func NewDispatcher(factory ObjectFactory, settings UpdateSettings, metrics *metric.Registry) *Dispatcher {
	if metrics == nil {
		metrics = metric.NewRegistry()
	}
	d := &Dispatcher{
		infos:    map[string]*info{},
		factory:  factory,
		settings: settings,
		metrics:  metrics,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Close waits for every in-flight asynchronous load to finish, the way
// the original's destructor joins every recorded worker thread (§5
// "Shared resources").
func (d *Dispatcher) Close() error {
	return d.group.Wait()
}

func configsEqual(a, b ObjectConfig) bool {
	return a.KeyInConfig == b.KeyInConfig && reflect.DeepEqual(a.Parsed, b.Parsed)
}

// SetConfiguration diffs snap against the current registry, per §4.D:
// changed configs cancel+restart in-flight or already-loaded objects,
// new names are registered (and started if alwaysLoadEverything),
// removed names are dropped.
func (d *Dispatcher) SetConfiguration(ctx context.Context, snap *Snapshot) {
	d.mu.Lock()
	var toRun []func()

	for name, cfg := range snap.Objects {
		existing, ok := d.infos[name]
		if !ok {
			newInfo := &info{config: cfg}
			d.infos[name] = newInfo
			if d.alwaysLoadEverything {
				if run := d.startLoadingLocked(ctx, name, newInfo); run != nil {
					toRun = append(toRun, run)
				}
			}
			continue
		}
		if !configsEqual(existing.config, cfg) {
			existing.config = cfg
			existing.configChanged = true
			if existing.loadingSeq != 0 || existing.object != nil || existing.err != nil {
				d.cancelLoadingLocked(existing)
				if run := d.startLoadingLocked(ctx, name, existing); run != nil {
					toRun = append(toRun, run)
				}
			}
		}
	}

	for name := range d.infos {
		if _, ok := snap.Objects[name]; !ok {
			delete(d.infos, name)
		}
	}
	d.mu.Unlock()

	for _, run := range toRun {
		run()
	}
}

// EnableAlwaysLoadEverything toggles immediate scheduling of newly
// inserted infos; when turned on, any not-yet-loading infos are started.
func (d *Dispatcher) EnableAlwaysLoadEverything(ctx context.Context, enable bool) {
	d.mu.Lock()
	d.alwaysLoadEverything = enable
	var toRun []func()
	if enable {
		for name, inf := range d.infos {
			if inf.loadingSeq == 0 && inf.object == nil && inf.err == nil {
				if run := d.startLoadingLocked(ctx, name, inf); run != nil {
					toRun = append(toRun, run)
				}
			}
		}
	}
	d.mu.Unlock()
	for _, run := range toRun {
		run()
	}
}

// EnableAsyncLoading toggles inline vs worker-pool dispatch.
func (d *Dispatcher) EnableAsyncLoading(enable bool) {
	d.mu.Lock()
	d.asyncLoading = enable
	d.mu.Unlock()
}

// startLoadingLocked prepares an info for loading and either spawns the
// work on the worker pool (returning nil) or returns a closure the caller
// must run after releasing the dispatcher mutex — the create callback is
// always invoked with no lock held (§5 "Suspension points").
func (d *Dispatcher) startLoadingLocked(ctx context.Context, name string, inf *info) func() {
	d.nextSeq++
	seq := d.nextSeq
	inf.loadingSeq = seq
	inf.loadingTag = uuid.New().String()
	inf.loadStart = time.Now()
	d.metrics.Counter("extloader.loads_started").Inc(1)

	cfg := inf.config
	prevObject := inf.object
	// The previous object is cloned only when its config is unchanged and
	// the reload was not forced by Reload, which always rebuilds it.
	reusePrevious := !inf.configChanged && !inf.forcedReload

	work := func() { d.doLoading(ctx, name, seq, cfg, prevObject, reusePrevious) }

	if d.asyncLoading {
		d.group.Go(func() error {
			work()
			return nil
		})
		return nil
	}
	return work
}

// cancelLoadingLocked advisorily cancels an in-flight load: loading_id is
// cleared so the worker discards its result on completion (§5
// "Cancellation semantics").
func (d *Dispatcher) cancelLoadingLocked(inf *info) {
	inf.loadingSeq = 0
}

// doLoading runs the create/clone callback with no lock held, then
// reports the outcome back through finishLoading.
func (d *Dispatcher) doLoading(ctx context.Context, name string, seq uint64, cfg ObjectConfig, prevObject Loadable, reusePrevious bool) {
	loadCtx := withLoadingName(ctx, name)

	var obj Loadable
	var err error
	if reusePrevious && prevObject != nil && prevObject.SupportsUpdates() {
		obj, err = prevObject.Clone()
	} else {
		obj, err = d.factory.Create(loadCtx, name, cfg)
	}
	if obj == nil && err == nil {
		err = errors.Mark(errors.Newf("extloader: create callback for %q returned neither object nor error", name), ErrLogicalError)
	}
	d.finishLoading(name, seq, obj, err)
}

func (d *Dispatcher) finishLoading(name string, seq uint64, obj Loadable, err error) {
	d.mu.Lock()
	defer func() {
		d.cond.Broadcast()
		d.mu.Unlock()
	}()

	inf, ok := d.infos[name]
	if !ok || inf.loadingSeq != seq {
		// Object removed or loading was cancelled/superseded; the result
		// is discarded (§5 "Cancellation semantics").
		return
	}

	inf.loadEnd = time.Now()
	inf.loadingSeq = 0
	inf.configChanged = false
	inf.forcedReload = false

	if err != nil {
		inf.err = err
		inf.errorCount++
		d.metrics.Counter("extloader.loads_failed").Inc(1)
		log.Warningf("extloader: loading %q (id %d, tag %s) failed (attempt %d): %v", name, seq, inf.loadingTag, inf.errorCount, err)
	} else {
		inf.object = obj
		inf.err = nil
		inf.errorCount = 0
	}
	inf.nextUpdate = CalculateNextUpdateTime(inf.object, inf.errorCount, d.settings, time.Now())
}

// waitReady blocks, with d.mu held, until inf.ready() or timeout elapses
// (timeout<=0 means wait indefinitely).
func (d *Dispatcher) waitReady(inf *info, timeout time.Duration) {
	if timeout <= 0 {
		for !inf.ready() {
			d.cond.Wait()
		}
		return
	}
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		d.mu.Lock()
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer timer.Stop()
	for !inf.ready() && time.Now().Before(deadline) {
		d.cond.Wait()
	}
}

func (d *Dispatcher) loadResultLocked(name string, inf *info) LoadResult {
	return LoadResult{
		Name:       name,
		Status:     inf.status(),
		Object:     inf.object,
		Exception:  inf.err,
		LoadingID:  inf.loadingTag,
		LoadStart:  inf.loadStart,
		LoadEnd:    inf.loadEnd,
		ErrorCount: inf.errorCount,
		NextUpdate: inf.nextUpdate,
		ConfigPath: inf.config.ConfigPath,
		ConfigOnly: inf.object == nil && inf.err == nil,
	}
}

// Load starts loading name if it is not already in flight, then blocks
// until it becomes ready() or timeout elapses (timeout<=0: block
// indefinitely), per §4.D.
func (d *Dispatcher) Load(ctx context.Context, name string, timeout time.Duration) (LoadResult, error) {
	d.mu.Lock()
	inf, ok := d.infos[name]
	if !ok {
		d.mu.Unlock()
		return LoadResult{}, errors.Mark(errors.Newf("extloader: %q is not a configured object", name), ErrBadArguments)
	}
	var run func()
	if inf.loadingSeq == 0 && !inf.ready() {
		run = d.startLoadingLocked(ctx, name, inf)
	}
	d.mu.Unlock()

	if run != nil {
		run()
	}

	d.mu.Lock()
	d.waitReady(inf, timeout)
	result := d.loadResultLocked(name, inf)
	d.mu.Unlock()
	return result, nil
}

// LoadStrict is Load with an infinite timeout; if the final state is
// FAILED, the stored error is re-raised, and an unknown name is
// BAD_ARGUMENTS. A self-referential load (a create callback trying to
// load the very name it is constructing) is rejected as LOGICAL_ERROR
// per §9, rather than deadlocking.
func (d *Dispatcher) LoadStrict(ctx context.Context, name string) (Loadable, error) {
	if loadingChainContains(ctx, name) {
		return nil, errors.Mark(errors.Newf("extloader: self-referential load of %q", name), ErrLogicalError)
	}
	result, err := d.Load(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	if result.Exception != nil {
		return nil, result.Exception
	}
	return result.Object, nil
}

// LoadFiltered loads every name for which filter returns true.
func (d *Dispatcher) LoadFiltered(ctx context.Context, filter func(name string) bool, timeout time.Duration) []LoadResult {
	d.mu.Lock()
	var names []string
	for name := range d.infos {
		if filter == nil || filter(name) {
			names = append(names, name)
		}
	}
	d.mu.Unlock()

	results := make([]LoadResult, 0, len(names))
	for _, n := range names {
		r, err := d.Load(ctx, n, timeout)
		if err == nil {
			results = append(results, r)
		}
	}
	return results
}

// Reload cancels any current load for name, marks it forced, and
// restarts. If the object was never loaded and loadNeverLoading is
// false, this is a no-op, per §4.D.
func (d *Dispatcher) Reload(ctx context.Context, name string, loadNeverLoading bool) {
	d.mu.Lock()
	inf, ok := d.infos[name]
	if !ok {
		d.mu.Unlock()
		return
	}
	if inf.object == nil && !loadNeverLoading {
		d.mu.Unlock()
		return
	}
	d.cancelLoadingLocked(inf)
	inf.forcedReload = true
	run := d.startLoadingLocked(ctx, name, inf)
	d.mu.Unlock()
	if run != nil {
		run()
	}
}

// GetCurrentStatus returns the status for name, or NotExist if unknown.
func (d *Dispatcher) GetCurrentStatus(name string) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	inf, ok := d.infos[name]
	if !ok {
		return NotExist
	}
	return inf.status()
}

// GetCurrentLoadResult returns the current LoadResult for name.
func (d *Dispatcher) GetCurrentLoadResult(name string) (LoadResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inf, ok := d.infos[name]
	if !ok {
		return LoadResult{Name: name, Status: NotExist}, false
	}
	return d.loadResultLocked(name, inf), true
}

// GetCurrentLoadResults returns results for every name matching filter
// (or every registered name if filter is nil).
func (d *Dispatcher) GetCurrentLoadResults(filter func(name string) bool) []LoadResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]LoadResult, 0, len(d.infos))
	for name, inf := range d.infos {
		if filter != nil && !filter(name) {
			continue
		}
		out = append(out, d.loadResultLocked(name, inf))
	}
	return out
}

// GetCurrentlyLoadedObjects returns every currently-loaded object
// (status LOADED or LOADED_AND_RELOADING) matching filter.
func (d *Dispatcher) GetCurrentlyLoadedObjects(filter func(name string) bool) []Loadable {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Loadable
	for name, inf := range d.infos {
		if filter != nil && !filter(name) {
			continue
		}
		if inf.object != nil && inf.err == nil {
			out = append(out, inf.object)
		}
	}
	return out
}

// GetNumberOfCurrentlyLoadedObjects returns the count of loaded objects.
func (d *Dispatcher) GetNumberOfCurrentlyLoadedObjects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, inf := range d.infos {
		if inf.object != nil && inf.err == nil {
			n++
		}
	}
	return n
}

// IsModifiedFunc determines whether a loaded object's underlying source
// has changed since it was loaded, per §6's Loadable.IsModified contract.
type IsModifiedFunc func(ctx context.Context, obj Loadable) (bool, error)

// ReloadOutdated implements the two-pass algorithm from §4.D: collect
// candidates under lock, call isModified with no lock held, then
// re-acquire the lock to start loading (if modified) or merely refresh
// next_update_time (if not), re-validating that nothing changed
// out-from-under us in between.
func (d *Dispatcher) ReloadOutdated(ctx context.Context, isModified IsModifiedFunc) {
	now := time.Now()

	type candidate struct {
		name string
		inf  *info
		obj  Loadable
	}

	d.mu.Lock()
	var loadedCandidates []candidate
	var failedCandidates []candidate
	for name, inf := range d.infos {
		if inf.loadingSeq != 0 || inf.nextUpdate.After(now) {
			continue
		}
		switch {
		case inf.object != nil:
			loadedCandidates = append(loadedCandidates, candidate{name: name, inf: inf, obj: inf.object})
		case inf.err != nil:
			// failed() objects are always retried, unconditional on
			// isModified: there is no prior successful load to ask
			// whether it changed (§4.D step 3, ExternalLoader.cpp's
			// `else if (info.failed())` branch).
			failedCandidates = append(failedCandidates, candidate{name: name, inf: inf})
		}
	}
	d.mu.Unlock()

	modified := make(map[string]bool, len(loadedCandidates))
	for _, c := range loadedCandidates {
		ok, err := isModified(ctx, c.obj)
		if err != nil {
			log.Warningf("extloader: is_object_modified(%q) failed: %v", c.name, err)
			// Conservatively treat as modified only when the object
			// declares it can report updates at all (§4.D step 2);
			// otherwise leave it alone this round.
			ok = c.obj.SupportsUpdates()
		}
		modified[c.name] = ok
	}

	d.mu.Lock()
	var toRun []func()
	nowInner := time.Now()
	for _, c := range loadedCandidates {
		inf := c.inf
		if inf.loadingSeq != 0 || inf.nextUpdate.After(nowInner) {
			continue // state changed since pass 1
		}
		if modified[c.name] {
			if run := d.startLoadingLocked(ctx, c.name, inf); run != nil {
				toRun = append(toRun, run)
			}
		} else {
			inf.nextUpdate = CalculateNextUpdateTime(inf.object, inf.errorCount, d.settings, nowInner)
		}
	}
	for _, c := range failedCandidates {
		inf := c.inf
		if inf.loadingSeq != 0 || inf.nextUpdate.After(nowInner) || inf.object != nil {
			continue // state changed since pass 1
		}
		if run := d.startLoadingLocked(ctx, c.name, inf); run != nil {
			toRun = append(toRun, run)
		}
	}
	d.mu.Unlock()

	for _, run := range toRun {
		run()
	}
}
