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

import "github.com/cockroachdb/errors"

// Sentinel errors mirroring the original planner's error codes (§4.F
// validation, §8 testable properties).
var (
	ErrCannotUpdateColumn = errors.New("CANNOT_UPDATE_COLUMN")
	ErrNoSuchColumn       = errors.New("NO_SUCH_COLUMN_IN_TABLE")
	ErrBadArguments       = errors.New("BAD_ARGUMENTS")
)

// IsCannotUpdateColumn reports whether err (or anything it wraps) is
// ErrCannotUpdateColumn.
func IsCannotUpdateColumn(err error) bool { return errors.Is(err, ErrCannotUpdateColumn) }

// IsNoSuchColumn reports whether err (or anything it wraps) is
// ErrNoSuchColumn.
func IsNoSuchColumn(err error) bool { return errors.Is(err, ErrNoSuchColumn) }

// IsBadArguments reports whether err (or anything it wraps) is
// ErrBadArguments.
func IsBadArguments(err error) bool { return errors.Is(err, ErrBadArguments) }
