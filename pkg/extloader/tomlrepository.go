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
	"github.com/BurntSushi/toml"

	"github.com/jcdang/ClickHouse/pkg/util/log"
)

// NewTOMLRepository is a second, TOML-flavored Repository implementation
// (§6): production dictionary loaders commonly support more than one
// config backend side by side (ClickHouse itself loads XML and YAML
// dictionaries from the same directory tree).
func NewTOMLRepository(dir, pattern string) Repository {
	return &fsRepository{dir: dir, pattern: pattern, parse: parseTOML}
}

func parseTOML(data []byte, markerPrefix string) (map[string]ObjectConfig, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	result := map[string]ObjectConfig{}
	for key, value := range raw {
		switch key {
		case "comment", "include_from":
			continue
		}
		if key != markerPrefix {
			log.Warningf("extloader: ignoring unknown top-level key %q", key)
			continue
		}

		entries := asEntryList(value)
		for _, entry := range entries {
			name, _ := entry["name"].(string)
			if name == "" {
				log.Warningf("extloader: empty name for %q entry, skipping", key)
				continue
			}
			result[name] = ObjectConfig{KeyInConfig: key, Parsed: entry}
		}
	}
	return result, nil
}

// asEntryList normalizes both `[dictionary]` (a single table) and
// `[[dictionary]]` (an array of tables) shapes to a uniform slice.
func asEntryList(value any) []map[string]any {
	switch v := value.(type) {
	case map[string]any:
		return []map[string]any{v}
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
