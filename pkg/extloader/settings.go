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
	"time"

	"github.com/spf13/viper"
)

// UpdateSettings holds the periodic updater's tunables (§4.E). It is
// loaded via viper the way OpenActa-haystack loads its own daemon
// settings, giving the updater's check-period and backoff constants a
// real external-configuration path without pulling in the SQL settings
// subsystem (out of scope per §1).
type UpdateSettings struct {
	CheckPeriod          time.Duration
	AlwaysLoadEverything bool
	AsyncLoading         bool
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
}

// DefaultUpdateSettings matches the spec's defaults: a small check-period
// (5s) and conservative backoff bounds.
func DefaultUpdateSettings() UpdateSettings {
	return UpdateSettings{
		CheckPeriod:    5 * time.Second,
		BackoffInitial: time.Second,
		BackoffMax:     60 * time.Second,
	}
}

// LoadUpdateSettings reads update settings from the given viper instance,
// falling back to DefaultUpdateSettings for any key that is unset. v may
// be configured by the caller to read from file, env, or flags before
// calling this, the way a real deployment's settings layer works.
func LoadUpdateSettings(v *viper.Viper) UpdateSettings {
	s := DefaultUpdateSettings()
	if v == nil {
		return s
	}
	if v.IsSet("check_period_seconds") {
		s.CheckPeriod = time.Duration(v.GetInt64("check_period_seconds")) * time.Second
	}
	if v.IsSet("always_load_everything") {
		s.AlwaysLoadEverything = v.GetBool("always_load_everything")
	}
	if v.IsSet("async_loading") {
		s.AsyncLoading = v.GetBool("async_loading")
	}
	if v.IsSet("backoff_initial_seconds") {
		s.BackoffInitial = time.Duration(v.GetInt64("backoff_initial_seconds")) * time.Second
	}
	if v.IsSet("backoff_max_seconds") {
		s.BackoffMax = time.Duration(v.GetInt64("backoff_max_seconds")) * time.Second
	}
	return s
}
