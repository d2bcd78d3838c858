// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package partition resolves the effective partition set and implements
// sync-partitions auto-discovery (spec §3, §4.2).
package partition

import (
	"os"
	"path/filepath"
	"sort"
)

// Builtins is the fixed partition set implied by every live Android
// root; "system" is always implied.
var Builtins = []string{"system", "vendor", "product", "system_ext", "odm", "oem"}

// Resolve returns the deduplicated union of Builtins and configured
// extras.
func Resolve(extra []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range Builtins {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range extra {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Discover walks every module directory under moduleDir and returns
// new partition candidates not already present in known (spec §4.2
// sync-partitions): a top-level module directory name is a candidate
// when a root directory of the same name exists, or when
// /system/<name> is a symlink into /<name>.
func Discover(moduleDir string, known []string) ([]string, error) {
	knownSet := map[string]bool{}
	for _, k := range known {
		knownSet[k] = true
	}

	candidateSet := map[string]bool{}
	entries, err := os.ReadDir(moduleDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, moduleEntry := range entries {
		if !moduleEntry.IsDir() {
			continue
		}
		subDir := filepath.Join(moduleDir, moduleEntry.Name())
		subEntries, err := os.ReadDir(subDir)
		if err != nil {
			continue
		}
		for _, sub := range subEntries {
			name := sub.Name()
			if knownSet[name] || candidateSet[name] {
				continue
			}
			if isPartitionCandidate(name) {
				candidateSet[name] = true
			}
		}
	}

	var discovered []string
	for name := range candidateSet {
		discovered = append(discovered, name)
	}
	sort.Strings(discovered)
	return discovered, nil
}

func isPartitionCandidate(name string) bool {
	if info, err := os.Lstat("/" + name); err == nil && info.IsDir() {
		return true
	}
	linkInfo, err := os.Lstat("/system/" + name)
	if err != nil || linkInfo.Mode()&os.ModeSymlink == 0 {
		return false
	}
	target, err := os.Readlink("/system/" + name)
	if err != nil {
		return false
	}
	return filepath.Clean("/"+target) == "/"+name || filepath.Base(target) == name
}

// AttachmentTarget resolves where a magic-mount entry for the given
// partition should attach, per spec §9's canonical rule: built-in
// partitions attach to root; unknown partitions attach to root only
// when a root directory of that name exists, otherwise to /system.
func AttachmentTarget(name string) string {
	for _, b := range Builtins {
		if b == name {
			return "/" + name
		}
	}
	if info, err := os.Lstat("/" + name); err == nil && info.IsDir() {
		return "/" + name
	}
	return "/system/" + name
}
