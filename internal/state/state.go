// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package state persists RuntimeState and per-mount statistics (spec
// §3, §4.4). Every reader treats a parse failure as an empty document,
// never a hard failure, per spec §9.
package state

import (
	"encoding/json"
	"os"
)

// RuntimeState is the persisted snapshot of the last successful
// orchestration run.
type RuntimeState struct {
	PID              int      `json:"pid"`
	StorageMode      string   `json:"storage_mode"`
	MountPoint       string   `json:"mount_point"`
	OverlayModuleIDs []string `json:"overlay_module_ids"`
	MagicModuleIDs   []string `json:"magic_module_ids"`
	HymofsModuleIDs  []string `json:"hymofs_module_ids"`
	ActiveMounts     []string `json:"active_mounts"`
	NukeActive       bool     `json:"nuke_active"`
	HymofsMismatch   bool     `json:"hymofs_mismatch"`
	MismatchMessage  string   `json:"mismatch_message"`
}

// ModuleStats holds the per-strategy counters original_source tracks
// for one module, per SPEC_FULL's supplemented per-mount statistics.
type ModuleStats struct {
	Files     int `json:"files"`
	Dirs      int `json:"dirs"`
	Symlinks  int `json:"symlinks"`
	Whiteouts int `json:"whiteouts"`
	Layers    int `json:"tmpfs_layers"`
	Failures  int `json:"failures"`
}

// MountStats is the snapshot written to mount_stats.json, keyed by
// module ID.
type MountStats map[string]*ModuleStats

// Load reads path, falling back to a zero-value RuntimeState on any
// read or parse error (including truncated/in-progress-rewrite files).
func Load(path string) *RuntimeState {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &RuntimeState{}
	}
	var s RuntimeState
	if err := json.Unmarshal(raw, &s); err != nil {
		return &RuntimeState{}
	}
	return &s
}

// Save overwrites path with s as indented JSON. Callers must call this
// last in any state-changing command, even on partial failure (spec
// §4.4 step 5).
func Save(path string, s *RuntimeState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadStats reads mount_stats.json, falling back to an empty map.
func LoadStats(path string) MountStats {
	raw, err := os.ReadFile(path)
	if err != nil {
		return MountStats{}
	}
	var stats MountStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return MountStats{}
	}
	return stats
}

// SaveStats overwrites path with stats as indented JSON.
func SaveStats(path string, stats MountStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ModuleSet returns which of the three disjoint sets id belongs to, or
// "" if it belongs to none. Used by `modules` reporting.
func (s *RuntimeState) ModuleSet(id string) string {
	for _, v := range s.HymofsModuleIDs {
		if v == id {
			return "hymofs"
		}
	}
	for _, v := range s.OverlayModuleIDs {
		if v == id {
			return "overlay"
		}
	}
	for _, v := range s.MagicModuleIDs {
		if v == id {
			return "magic"
		}
	}
	return ""
}

// ReadBootCount reads the integer boot-count sentinel the shell
// wrapper maintains. This core never writes it (out of scope per
// spec §1); it is surfaced read-only so `mount` can log a bootloop
// warning, per SPEC_FULL's supplemented feature.
func ReadBootCount(path string) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var n int
	for _, c := range raw {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
