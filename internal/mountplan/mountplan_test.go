// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package mountplan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hymofs/hymomount/internal/moduleinfo"
)

func makeModule(t *testing.T, root, id string, mode moduleinfo.Mode, partitions ...string) *moduleinfo.Module {
	t.Helper()
	dir := filepath.Join(root, id)
	for _, p := range partitions {
		sub := filepath.Join(dir, p)
		os.MkdirAll(sub, 0755)
		os.WriteFile(filepath.Join(sub, "f"), []byte("x"), 0644)
	}
	return &moduleinfo.Module{ID: id, SourcePath: dir, Mode: mode}
}

func TestBuildHymofsHappyPath(t *testing.T) {
	root := t.TempDir()
	a := makeModule(t, root, "a", moduleinfo.ModeHymofs, "system")
	b := makeModule(t, root, "b", moduleinfo.ModeHymofs, "system")

	plan := Build(Input{
		Modules:      []*moduleinfo.Module{a, b},
		Partitions:   []string{"system"},
		HymofsUsable: true,
	})

	if len(plan.HymofsModuleIDs) != 2 {
		t.Fatalf("got %d hymofs modules, want 2", len(plan.HymofsModuleIDs))
	}
	if len(plan.OverlayOps) != 0 {
		t.Errorf("expected no overlay ops when all modules are hymofs, got %v", plan.OverlayOps)
	}
}

func TestBuildOverlaySetReverseLexOrdering(t *testing.T) {
	root := t.TempDir()
	a := makeModule(t, root, "a", moduleinfo.ModeOverlay, "system")
	b := makeModule(t, root, "b", moduleinfo.ModeOverlay, "system")

	plan := Build(Input{
		Modules:      []*moduleinfo.Module{a, b},
		MirrorRoot:   "/mirror",
		Partitions:   []string{"system"},
		HymofsUsable: false,
	})

	if len(plan.OverlayOps) != 1 {
		t.Fatalf("got %d overlay ops, want 1", len(plan.OverlayOps))
	}
	op := plan.OverlayOps[0]
	if op.TargetPartition != "/system" {
		t.Errorf("TargetPartition = %q, want /system", op.TargetPartition)
	}
	// reverse lexicographic: b before a
	if len(op.LowerDirs) != 2 || op.LowerDirs[0] != "/mirror/b/system" || op.LowerDirs[1] != "/mirror/a/system" {
		t.Errorf("LowerDirs = %v, want [/mirror/b/system /mirror/a/system]", op.LowerDirs)
	}
}

func TestBuildAutoResolvesToHymofsWhenUsable(t *testing.T) {
	root := t.TempDir()
	a := makeModule(t, root, "a", moduleinfo.ModeAuto, "system")

	plan := Build(Input{
		Modules:      []*moduleinfo.Module{a},
		Partitions:   []string{"system"},
		HymofsUsable: true,
	})
	if len(plan.HymofsModuleIDs) != 1 {
		t.Errorf("auto mode should resolve to hymofs when usable, got %+v", plan)
	}
}

func TestBuildAutoResolvesToOverlayWhenHymofsUnavailable(t *testing.T) {
	root := t.TempDir()
	a := makeModule(t, root, "a", moduleinfo.ModeAuto, "system")

	plan := Build(Input{
		Modules:      []*moduleinfo.Module{a},
		MirrorRoot:   "/mirror",
		Partitions:   []string{"system"},
		HymofsUsable: false,
	})
	if len(plan.OverlayOps) != 1 {
		t.Errorf("auto mode should resolve to overlay when hymofs unavailable, got %+v", plan)
	}
}

func TestBuildAddsSegregatedStagingLowerdirForOverlayPinnedRule(t *testing.T) {
	root := t.TempDir()
	a := makeModule(t, root, "a", moduleinfo.ModeHymofs, "system")
	a.Rules = []moduleinfo.PathRule{{Path: "system/etc", Mode: moduleinfo.ModeOverlay}}

	plan := Build(Input{
		Modules:      []*moduleinfo.Module{a},
		MirrorRoot:   "/mirror",
		Partitions:   []string{"system"},
		HymofsUsable: true,
	})

	if len(plan.OverlayOps) != 1 {
		t.Fatalf("got %d overlay ops, want 1", len(plan.OverlayOps))
	}
	op := plan.OverlayOps[0]
	if op.TargetPartition != "/system" {
		t.Errorf("TargetPartition = %q, want /system", op.TargetPartition)
	}
	want := "/mirror/.overlay_staging/a/system"
	if len(op.LowerDirs) != 1 || op.LowerDirs[0] != want {
		t.Errorf("LowerDirs = %v, want [%s]", op.LowerDirs, want)
	}
}

func TestBuildMagicSet(t *testing.T) {
	root := t.TempDir()
	a := makeModule(t, root, "a", moduleinfo.ModeMagic, "system")

	plan := Build(Input{
		Modules:      []*moduleinfo.Module{a},
		Partitions:   []string{"system"},
		HymofsUsable: false,
	})
	if len(plan.MagicModuleIDs) != 1 || plan.MagicModuleIDs[0] != "a" {
		t.Errorf("MagicModuleIDs = %v, want [a]", plan.MagicModuleIDs)
	}
}
