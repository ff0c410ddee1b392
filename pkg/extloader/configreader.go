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
	"sort"
	"sync"
	"time"

	"github.com/jcdang/ClickHouse/pkg/util/log"
)

// Repository is the external collaborator interface from §6: lists
// config paths, checks existence and modification time, and parses a
// file into a name→raw-declaration map. The SQL parser/analyzer that
// would actually resolve expressions inside a parsed declaration is out
// of scope (§1); Repository.Load returns only the top-level declarations
// keyed by object name.
type Repository interface {
	// List returns the current set of config paths this repository owns.
	List() ([]string, error)
	Exists(path string) bool
	LastModificationTime(path string) (time.Time, error)
	// Load parses path and returns its top-level declarations whose key
	// matches markerPrefix (e.g. "dictionary"), keyed by the declaration's
	// "name" field.
	Load(path string, markerPrefix string) (map[string]ObjectConfig, error)
}

// fileInfo is the §3 "FileInfo" record: one config file's cached parse.
type fileInfo struct {
	path       string
	modTime    time.Time
	objects    map[string]ObjectConfig
	inUse      bool
}

// ConfigFilesReader scans a set of repositories, parses declarations,
// deduplicates by object name, and returns a snapshot, per §4.C.
// Grounded on ExternalLoader.cpp's ConfigFilesReader.
type ConfigFilesReader struct {
	mu             sync.Mutex
	repositories   []Repository
	markerPrefix   string
	files          map[string]*fileInfo // path -> fileInfo
	snapshot       *Snapshot
}

// NewConfigFilesReader constructs a reader that treats markerPrefix (e.g.
// "dictionary") as the configured external-config marker from §6.
func NewConfigFilesReader(markerPrefix string) *ConfigFilesReader {
	return &ConfigFilesReader{
		markerPrefix: markerPrefix,
		files:        map[string]*fileInfo{},
	}
}

// AddRepository registers a repository to be scanned on every Read.
func (r *ConfigFilesReader) AddRepository(repo Repository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repositories = append(r.repositories, repo)
}

// Read implements the §4.C algorithm: clear in_use marks, rescan every
// repository, purge files no longer present, and rebuild the snapshot
// only if something actually changed (pointer equality lets downstream
// skip work, per "Config diff stability").
func (r *ConfigFilesReader) Read(ignoreTimestamps bool) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, fi := range r.files {
		fi.inUse = false
	}

	changed := false
	for _, repo := range r.repositories {
		paths, err := repo.List()
		if err != nil {
			log.Warningf("extloader: listing config repository failed: %v", err)
			continue
		}
		for _, path := range paths {
			if r.readFileInfo(repo, path, ignoreTimestamps) {
				changed = true
			}
		}
	}

	for path, fi := range r.files {
		if !fi.inUse {
			delete(r.files, path)
			changed = true
		}
	}

	if !changed && r.snapshot != nil {
		return r.snapshot, nil
	}
	if !changed && r.snapshot == nil {
		r.snapshot = &Snapshot{Objects: map[string]ObjectConfig{}}
		return r.snapshot, nil
	}

	merged := map[string]ObjectConfig{}
	// Iterate in a stable order so "earlier file wins" is deterministic;
	// map iteration order in Go is randomized, so we sort paths.
	paths := make([]string, 0, len(r.files))
	for p := range r.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		fi := r.files[p]
		for name, cfg := range fi.objects {
			if _, exists := merged[name]; exists {
				log.Warningf("extloader: duplicate object name %q in %q, keeping the earlier declaration", name, p)
				continue
			}
			merged[name] = cfg
		}
	}

	r.snapshot = &Snapshot{Objects: merged}
	return r.snapshot, nil
}

// readFileInfo reports whether this path's contents changed (causing the
// caller to rebuild the snapshot), per §4.C's per-file algorithm.
func (r *ConfigFilesReader) readFileInfo(repo Repository, path string, ignoreTimestamps bool) bool {
	if !repo.Exists(path) {
		log.Warningf("extloader: config path %q no longer exists, skipping", path)
		return false
	}

	modTime, err := repo.LastModificationTime(path)
	if err != nil {
		log.Warningf("extloader: reading modification time of %q failed: %v", path, err)
		if fi, ok := r.files[path]; ok {
			fi.inUse = true
		}
		return false
	}

	if fi, ok := r.files[path]; ok {
		fi.inUse = true
		if !ignoreTimestamps && !modTime.After(fi.modTime) {
			return false
		}
	}

	objects, err := repo.Load(path, r.markerPrefix)
	if err != nil {
		log.Warningf("extloader: parsing %q failed, retaining previous contents: %v", path, err)
		if fi, ok := r.files[path]; ok {
			fi.inUse = true
		}
		return false
	}

	r.files[path] = &fileInfo{path: path, modTime: modTime, objects: objects, inUse: true}
	return true
}
