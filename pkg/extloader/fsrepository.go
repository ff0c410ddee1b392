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
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/jcdang/ClickHouse/pkg/util/log"
)

// fsRepository is a Repository (§6) backed by a directory of files on the
// local filesystem, with pluggable parsing so the same directory-scanning
// logic serves both the XML and TOML config flavors (see tomlrepository.go).
type fsRepository struct {
	dir     string
	pattern string
	parse   func(data []byte, markerPrefix string) (map[string]ObjectConfig, error)
}

// NewXMLRepository scans dir for files matching pattern (a filepath.Match
// glob, e.g. "*.xml") and parses them as hierarchical XML declarations,
// the config format named in §6.
func NewXMLRepository(dir, pattern string) Repository {
	return &fsRepository{dir: dir, pattern: pattern, parse: parseXML}
}

func (f *fsRepository) List() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "extloader: listing %q", f.dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		matched, err := filepath.Match(f.pattern, e.Name())
		if err != nil {
			return nil, err
		}
		if matched {
			paths = append(paths, filepath.Join(f.dir, e.Name()))
		}
	}
	return paths, nil
}

func (f *fsRepository) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (f *fsRepository) LastModificationTime(path string) (time.Time, error) {
	st, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return st.ModTime(), nil
}

func (f *fsRepository) Load(path, markerPrefix string) (map[string]ObjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	objects, err := f.parse(data, markerPrefix)
	if err != nil {
		return nil, err
	}
	for name, cfg := range objects {
		cfg.ConfigPath = path
		objects[name] = cfg
	}
	return objects, nil
}

// xmlRoot captures an arbitrary set of top-level elements without
// knowing their schema ahead of time; only the marker-prefixed entries
// (and their "name" child) are meaningful here, per §6.
type xmlRoot struct {
	XMLName xml.Name
	Entries []xmlEntry `xml:",any"`
}

type xmlEntry struct {
	XMLName xml.Name
	Inner   []byte `xml:",innerxml"`
}

type xmlNamed struct {
	Name string `xml:"name"`
}

func parseXML(data []byte, markerPrefix string) (map[string]ObjectConfig, error) {
	var root xmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	result := map[string]ObjectConfig{}
	for _, e := range root.Entries {
		key := e.XMLName.Local
		switch key {
		case "comment", "include_from":
			continue
		}
		if key != markerPrefix {
			log.Warningf("extloader: ignoring unknown top-level key %q", key)
			continue
		}

		var named xmlNamed
		wrapped := []byte(fmt.Sprintf("<%s>%s</%s>", key, e.Inner, key))
		if err := xml.Unmarshal(wrapped, &named); err != nil {
			return nil, errors.Wrapf(err, "extloader: parsing %q entry", key)
		}
		if named.Name == "" {
			log.Warningf("extloader: empty name for %q entry, skipping", key)
			continue
		}

		result[named.Name] = ObjectConfig{
			KeyInConfig: key,
			Parsed:      e.Inner,
		}
	}
	return result, nil
}
