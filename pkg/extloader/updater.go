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
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jcdang/ClickHouse/pkg/util/log"
)

// CalculateNextUpdateTime implements the §4.E next-update-time policy.
// With no prior errors, it samples uniformly from the object's declared
// [min,max] lifetime (or returns a time far in the future if the object
// declares no update support or a degenerate lifetime). With errorCount>0
// it applies exponential backoff: sample uniformly from
// [0, 2^(errorCount-1)), add backoff_initial, clamp to backoff_max.
func CalculateNextUpdateTime(obj Loadable, errorCount int, settings UpdateSettings, now time.Time) time.Time {
	if errorCount == 0 {
		if obj == nil || !obj.SupportsUpdates() {
			return maxTime
		}
		lt := obj.Lifetime()
		if lt.MinSeconds == 0 || lt.MaxSeconds == 0 {
			return maxTime
		}
		span := lt.MaxSeconds - lt.MinSeconds
		delay := lt.MinSeconds
		if span > 0 {
			delay += uint64(rand.Int63n(int64(span) + 1))
		}
		return now.Add(time.Duration(delay) * time.Second)
	}

	upperBound := math.Pow(2, float64(errorCount-1))
	backoff := settings.BackoffInitial
	if upperBound > 1 {
		backoff += time.Duration(rand.Int63n(int64(upperBound))) * time.Second
	}
	if backoff > settings.BackoffMax {
		backoff = settings.BackoffMax
	}
	return now.Add(backoff)
}

// maxTime stands in for the original's TimePoint::max(): an object that
// declares no update support (or a degenerate lifetime) is scheduled so
// far out it is never picked up by ReloadOutdated.
var maxTime = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// ConfigReader is the subset of ConfigFilesReader the updater depends on,
// so tests can substitute a stub.
type ConfigReader interface {
	Read(ignoreTimestamps bool) (*Snapshot, error)
}

// PeriodicUpdater is a single background goroutine that re-reads configs
// and reloads outdated objects on a timer, per §4.E. Grounded on
// ExternalLoader.cpp's PeriodicUpdater.
type PeriodicUpdater struct {
	mu       sync.Mutex
	enabled  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	settings UpdateSettings

	reader     ConfigReader
	dispatcher *Dispatcher
	isModified IsModifiedFunc
}

// NewPeriodicUpdater constructs a disabled updater; call Enable to start
// its background goroutine.
func NewPeriodicUpdater(reader ConfigReader, dispatcher *Dispatcher, isModified IsModifiedFunc, settings UpdateSettings) *PeriodicUpdater {
	return &PeriodicUpdater{reader: reader, dispatcher: dispatcher, isModified: isModified, settings: settings}
}

// Enable starts (or, if already running, leaves alone) the background
// update loop.
func (u *PeriodicUpdater) Enable(ctx context.Context) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.enabled {
		return
	}
	u.enabled = true
	u.stopCh = make(chan struct{})
	u.doneCh = make(chan struct{})
	go u.loop(ctx, u.stopCh, u.doneCh)
}

// Disable stops the background update loop and waits for it to exit.
func (u *PeriodicUpdater) Disable() {
	u.mu.Lock()
	if !u.enabled {
		u.mu.Unlock()
		return
	}
	u.enabled = false
	stopCh := u.stopCh
	doneCh := u.doneCh
	u.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (u *PeriodicUpdater) loop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	period := u.settings.CheckPeriod
	if period <= 0 {
		period = 5 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			u.tick(ctx)
		}
	}
}

func (u *PeriodicUpdater) tick(ctx context.Context) {
	snap, err := u.reader.Read(false)
	if err != nil {
		log.Warningf("extloader: periodic config read failed: %v", err)
		return
	}
	u.dispatcher.SetConfiguration(ctx, snap)
	u.dispatcher.ReloadOutdated(ctx, u.isModified)
}
