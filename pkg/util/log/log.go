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

// Package log is a trimmed-down descendant of the leveled logger forked
// from glog (see util/log/clog.go in the original tree). It keeps the
// severity model and the Infof/Warningf/Errorf/Fatalf surface, with
// verbosity gating via VDepth/VEventf, but drops
// on-disk log file rotation: every caller in this module logs to a single
// io.Writer, which is all the dispatcher, updater, and config reader need.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Severity identifies the sort of log line, analogous to clog.go's Severity.
type Severity int32

const (
	Info Severity = iota
	Warning
	Error
	Fatal
)

var severityChar = [...]byte{'I', 'W', 'E', 'F'}

// verbosity is the global V-level threshold, set via SetVerbosity.
var verbosity int32

// SetVerbosity sets the threshold above which V(level) logging is a no-op.
func SetVerbosity(level int32) { atomic.StoreInt32(&verbosity, level) }

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

// SetOutput redirects all log output; tests use this to capture lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func output(sev Severity, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().UTC().Format("2006-01-02 15:04:05.000000")
	fmt.Fprintf(out, "%c%s %s\n", severityChar[sev], now, fmt.Sprintf(format, args...))
	if sev == Fatal {
		os.Exit(2)
	}
}

func Infof(format string, args ...interface{})    { output(Info, format, args...) }
func Warningf(format string, args ...interface{}) { output(Warning, format, args...) }
func Errorf(format string, args ...interface{})   { output(Error, format, args...) }
func Fatalf(format string, args ...interface{})   { output(Fatal, format, args...) }

// VDepth reports whether logging at the given verbosity level is enabled.
func VDepth(level int32) bool { return level <= atomic.LoadInt32(&verbosity) }

// VEventf logs at Info severity only if the configured verbosity is at
// least level, the way clog.go's V(level).Infof gate works.
func VEventf(level int32, format string, args ...interface{}) {
	if VDepth(level) {
		output(Info, format, args...)
	}
}

// Bytes renders a byte count the way cockroach's own log lines do,
// via go-humanize, for hashtable's serialized-payload debug logging.
func Bytes(n uint64) string { return humanize.Bytes(n) }
