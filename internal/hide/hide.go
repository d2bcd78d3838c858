// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package hide manages the user hide-rules list (spec §4.6): an
// operator-maintained JSON array of absolute paths that should be
// hidden from the filesystem via the kernel's HIDE_RULE command.
package hide

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// List reads the persisted hide-rule path list, tolerating a missing
// or malformed file as empty.
func List(path string) []string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var paths []string
	if err := json.Unmarshal(raw, &paths); err != nil {
		return nil
	}
	return paths
}

func save(path string, paths []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(paths, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Add validates that newPath is absolute, appends it (deduped), and
// persists the result. The caller is responsible for applying the
// rule to the kernel if available (spec §4.6).
func Add(path, newPath string) ([]string, error) {
	if !filepath.IsAbs(newPath) {
		return nil, fmt.Errorf("hide rule path must be absolute: %q", newPath)
	}
	paths := List(path)
	for _, p := range paths {
		if p == newPath {
			return paths, nil
		}
	}
	paths = append(paths, newPath)
	if err := save(path, paths); err != nil {
		return nil, err
	}
	return paths, nil
}

// Remove drops target from the persisted list. The kernel-side rule
// remains installed until the next clear/reload — spec §4.6's
// documented, visible limitation; callers must not claim the kernel
// rule was removed.
func Remove(path, target string) ([]string, error) {
	paths := List(path)
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != target {
			out = append(out, p)
		}
	}
	if err := save(path, out); err != nil {
		return nil, err
	}
	return out, nil
}
