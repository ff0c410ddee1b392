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

import "github.com/cockroachdb/errors"

// Sentinel errors realizing §4.D/§7's error taxonomy. Contract
// violations use these; user callback failures are wrapped and stored on
// the Info instead of being raised directly (§7 "Propagation policy").
var (
	// ErrBadArguments is raised by Load (and so by LoadStrict) for a name
	// that is not configured. LoadStrict waits without a timeout, so it
	// never returns while the object is still loading.
	ErrBadArguments = errors.New("BAD_ARGUMENTS")

	// ErrLogicalError indicates a bug: the create callback returned
	// neither an object nor an error, or a self-cycle was detected in
	// reentrant loading (§9).
	ErrLogicalError = errors.New("LOGICAL_ERROR")

	// ErrModificationUnknown is what a Loadable's IsModified should
	// return alongside (false, err) when it cannot determine whether it
	// changed; reloadOutdated treats this conservatively (§4.D step 2).
	ErrModificationUnknown = errors.New("modification status unknown")
)

// IsBadArguments reports whether err wraps ErrBadArguments.
func IsBadArguments(err error) bool { return errors.Is(err, ErrBadArguments) }

// IsLogicalError reports whether err wraps ErrLogicalError.
func IsLogicalError(err error) bool { return errors.Is(err, ErrLogicalError) }
