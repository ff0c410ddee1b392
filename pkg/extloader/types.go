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

// Package extloader implements the dynamic object loader described in
// §4.C-§4.E: a config files reader, a loading dispatcher that owns the
// state of every declared object, and a periodic updater that drives both
// on a timer. Grounded on
// dbms/src/Interpreters/ExternalLoader.cpp.
package extloader

import (
	"context"
	"time"
)

// Status mirrors §3's Info status derivation and §6's enumeration. The
// ordinals match the order given in the spec so introspection queries can
// rely on them.
type Status int8

const (
	NotLoaded Status = iota
	Loaded
	Failed
	Loading
	LoadedAndReloading
	FailedAndReloading
	NotExist
)

func (s Status) String() string {
	switch s {
	case NotLoaded:
		return "NOT_LOADED"
	case Loaded:
		return "LOADED"
	case Failed:
		return "FAILED"
	case Loading:
		return "LOADING"
	case LoadedAndReloading:
		return "LOADED_AND_RELOADING"
	case FailedAndReloading:
		return "FAILED_AND_RELOADING"
	case NotExist:
		return "NOT_EXIST"
	default:
		return "UNKNOWN"
	}
}

// StatusEnumValues returns every {name, ordinal} pair, for the
// introspection surfaces (HTTP/CLI) this spec treats as out of scope but
// whose contract (ExternalLoader.cpp:1196 getStatusEnumAllPossibleValues)
// is a natural one-line counterpart to GetCurrentStatus.
func StatusEnumValues() []struct {
	Name    string
	Ordinal int8
} {
	all := []Status{NotLoaded, Loaded, Failed, Loading, LoadedAndReloading, FailedAndReloading, NotExist}
	out := make([]struct {
		Name    string
		Ordinal int8
	}, len(all))
	for i, s := range all {
		out[i] = struct {
			Name    string
			Ordinal int8
		}{Name: s.String(), Ordinal: int8(s)}
	}
	return out
}

// Lifetime is an object's declared min/max reload interval, in seconds,
// per §4.E's "{min_sec, max_sec}".
type Lifetime struct {
	MinSeconds uint64
	MaxSeconds uint64
}

// Loadable is the per-object contract from §6: anything the dispatcher
// can construct from a config and periodically refresh.
type Loadable interface {
	Name() string
	// IsModified is invoked with no dispatcher lock held, per §5
	// "Suspension points"; callers that cannot determine modification
	// should return ErrModificationUnknown.
	IsModified(ctx context.Context) (bool, error)
	SupportsUpdates() bool
	Lifetime() Lifetime
	// Clone produces an independent copy of the object, used when a
	// reload's config is unchanged, the reload was not forced by
	// Dispatcher.Reload, and the object declares update support (§6
	// "Object factory").
	Clone() (Loadable, error)
}

// ObjectConfig is one parsed declaration from a config file, per §3
// "FileInfo" and §6.
type ObjectConfig struct {
	ConfigPath  string
	KeyInConfig string
	Parsed      any
}

// Snapshot is the immutable, shared name→config map produced by the
// config files reader (§3 "Snapshot", §6). Once published it is never
// mutated; callers share it by pointer.
type Snapshot struct {
	Objects map[string]ObjectConfig
}

// ObjectFactory is the user-supplied constructor contract from §6.
type ObjectFactory interface {
	// Create builds a new object from its configuration. Returning
	// (nil, nil) is a LOGICAL_ERROR per §4.D/§7: the callback must return
	// either an object or an error.
	Create(ctx context.Context, name string, cfg ObjectConfig) (Loadable, error)
}

// LoadResult is a read-only snapshot of an Info's externally visible
// state, returned by GetCurrentLoadResult(s).
type LoadResult struct {
	Name        string
	Status      Status
	Object      Loadable
	Exception   error
	LoadingID   string
	LoadStart   time.Time
	LoadEnd     time.Time
	ErrorCount  int
	NextUpdate  time.Time
	ConfigPath  string
	ConfigOnly  bool // config exists but object was never loaded
}
