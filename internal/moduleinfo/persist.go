// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package moduleinfo

import (
	"encoding/json"
	"os"
)

// LoadModeMap reads module_mode.conf ({id -> mode} JSON), tolerating a
// missing or unparsable file as an empty map per spec §9's tolerant-
// JSON directive.
func LoadModeMap(path string) map[string]Mode {
	raw, err := os.ReadFile(path)
	if err != nil {
		return map[string]Mode{}
	}
	var m map[string]Mode
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]Mode{}
	}
	return m
}

// SaveModeMap overwrites path with m as indented JSON.
func SaveModeMap(path string, m map[string]Mode) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadRulesMap reads module_rules.conf ({id -> [{path, mode}]} JSON).
func LoadRulesMap(path string) map[string][]PathRule {
	raw, err := os.ReadFile(path)
	if err != nil {
		return map[string][]PathRule{}
	}
	var m map[string][]PathRule
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string][]PathRule{}
	}
	return m
}

// SaveRulesMap overwrites path with m as indented JSON.
func SaveRulesMap(path string, m map[string][]PathRule) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
