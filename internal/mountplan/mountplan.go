// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

// Package mountplan builds the per-partition MountPlan that layers
// module content over the pristine partition (spec §4.3).
package mountplan

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hymofs/hymomount/internal/moduleinfo"
)

// OverlayOp is one overlay mount operation to perform for a partition.
type OverlayOp struct {
	TargetPartition string
	LowerDirs       []string // highest priority first
	UpperDir        string   // reserved for future use
	WorkDir         string   // reserved for future use
}

// Plan is the tagged aggregate spec §3 describes.
type Plan struct {
	OverlayOps       []OverlayOp
	HymofsModuleIDs  []string
	MagicModulePaths []string
	MagicModuleIDs   []string
}

// Input bundles everything Build needs.
type Input struct {
	Modules       []*moduleinfo.Module
	MirrorRoot    string
	Partitions    []string
	HymofsUsable  bool
}

// ResolveMode applies per-path rule overrides on top of a module's
// mode, matching spec §4.3 step 1: "Per-path rules override the
// module-level mode for paths beneath them."
func ResolveMode(m *moduleinfo.Module, path string) moduleinfo.Mode {
	best := m.Mode
	bestLen := -1
	for _, rule := range m.Rules {
		if withinPath(rule.Path, path) && len(rule.Path) > bestLen {
			best = rule.Mode
			bestLen = len(rule.Path)
		}
	}
	return best
}

func withinPath(rulePath, path string) bool {
	rulePath = filepath.Clean(rulePath)
	path = filepath.Clean(path)
	return path == rulePath || len(path) > len(rulePath) && path[:len(rulePath)] == rulePath && path[len(rulePath)] == '/'
}

// effectiveModuleMode resolves mode "auto" to hymofs (if usable) or
// overlay, the module-level resolution spec §3 describes.
func effectiveModuleMode(mode moduleinfo.Mode, hymofsUsable bool) moduleinfo.Mode {
	if mode != moduleinfo.ModeAuto {
		return mode
	}
	if hymofsUsable {
		return moduleinfo.ModeHymofs
	}
	return moduleinfo.ModeOverlay
}

// Build partitions modules into the three disjoint sets and builds
// one OverlayOp per touched partition for the overlay set, per spec
// §4.3's algorithm.
func Build(in Input) *Plan {
	plan := &Plan{}

	var hymofsModules, overlayModules, magicModules []*moduleinfo.Module
	for _, m := range in.Modules {
		switch effectiveModuleMode(m.Mode, in.HymofsUsable) {
		case moduleinfo.ModeHymofs:
			hymofsModules = append(hymofsModules, m)
		case moduleinfo.ModeMagic:
			magicModules = append(magicModules, m)
		case moduleinfo.ModeOverlay:
			overlayModules = append(overlayModules, m)
		case moduleinfo.ModeNone:
			// excluded entirely
		}
	}

	for _, m := range hymofsModules {
		plan.HymofsModuleIDs = append(plan.HymofsModuleIDs, m.ID)
	}
	for _, m := range magicModules {
		plan.MagicModuleIDs = append(plan.MagicModuleIDs, m.ID)
		plan.MagicModulePaths = append(plan.MagicModulePaths, m.SourcePath)
	}

	byPartition := map[string]*OverlayOp{}
	var order []string
	for _, op := range buildOverlayOps(overlayModules, in.Partitions, in.MirrorRoot) {
		opCopy := op
		byPartition[op.TargetPartition] = &opCopy
		order = append(order, op.TargetPartition)
	}
	for _, target := range addSegregatedLowerdirs(hymofsModules, in.MirrorRoot) {
		if _, ok := byPartition[target.partition]; !ok {
			byPartition[target.partition] = &OverlayOp{TargetPartition: target.partition}
			order = append(order, target.partition)
		}
		op := byPartition[target.partition]
		op.LowerDirs = append([]string{target.lowerdir}, op.LowerDirs...)
	}
	sort.Strings(order)
	for _, target := range order {
		plan.OverlayOps = append(plan.OverlayOps, *byPartition[target])
	}

	sort.Strings(plan.HymofsModuleIDs)
	sort.Strings(plan.MagicModuleIDs)
	return plan
}

type segregatedTarget struct {
	partition string
	lowerdir  string
}

// addSegregatedLowerdirs turns each HymoFS-set module's per-path
// overlay-pinned rules into an extra, highest-priority lowerdir
// pointing at the `.overlay_staging` copy segregateOverrides moved
// the content into (spec §4.3's closing paragraph), so a path a rule
// steers away from HymoFS still surfaces through the overlay mount
// instead of silently disappearing.
func addSegregatedLowerdirs(hymofsModules []*moduleinfo.Module, mirrorRoot string) []segregatedTarget {
	seen := map[string]bool{}
	var out []segregatedTarget
	for _, m := range hymofsModules {
		for _, rule := range m.Rules {
			if rule.Mode != moduleinfo.ModeOverlay {
				continue
			}
			partition := strings.SplitN(filepath.Clean(rule.Path), string(filepath.Separator), 2)[0]
			key := m.ID + "/" + partition
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, segregatedTarget{
				partition: "/" + partition,
				lowerdir:  filepath.Join(mirrorRoot, ".overlay_staging", m.ID, partition),
			})
		}
	}
	return out
}

// buildOverlayOps builds one OverlayOp per partition touched by any
// overlay-set module, with lowerdirs ordered highest-priority-first:
// reverse lexicographic by ID, per spec §4.3 step 3 and the worked
// example in spec §8 scenario 3.
func buildOverlayOps(modules []*moduleinfo.Module, partitions []string, mirrorRoot string) []OverlayOp {
	touched := map[string][]*moduleinfo.Module{}
	for _, p := range partitions {
		for _, m := range modules {
			if hasPartitionContent(m.SourcePath, p) {
				touched[p] = append(touched[p], m)
			}
		}
	}

	var ops []OverlayOp
	for _, p := range partitions {
		moduleList, ok := touched[p]
		if !ok {
			continue
		}
		sort.Slice(moduleList, func(i, j int) bool {
			return moduleList[i].ID > moduleList[j].ID // reverse lexicographic
		})

		op := OverlayOp{TargetPartition: "/" + p}
		for _, m := range moduleList {
			op.LowerDirs = append(op.LowerDirs, filepath.Join(mirrorRoot, m.ID, p))
		}
		ops = append(ops, op)
	}
	return ops
}

func hasPartitionContent(modulePath, partition string) bool {
	entries, err := os.ReadDir(filepath.Join(modulePath, partition))
	return err == nil && len(entries) > 0
}
