// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package mountexec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hymofs/hymomount/internal/arena"
	"github.com/hymofs/hymomount/internal/moduleinfo"
	"github.com/hymofs/hymomount/internal/mountplan"
)

func TestIsOpaqueMarkerViaReplaceFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".replace"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if !isOpaqueMarker(dir) {
		t.Error("expected .replace sentinel to mark the directory opaque")
	}
}

func TestIsOpaqueMarkerFalseForPlainDir(t *testing.T) {
	dir := t.TempDir()
	if isOpaqueMarker(dir) {
		t.Error("plain directory should not be reported opaque")
	}
}

func TestBuildOverlayOptionsAppendsTargetAsLowestPriority(t *testing.T) {
	op := mountplan.OverlayOp{
		TargetPartition: "/system",
		LowerDirs:       []string{"/mirror/b/system", "/mirror/a/system"},
	}
	got := buildOverlayOptions(op)
	want := "lowerdir=/mirror/b/system:/mirror/a/system:/system"
	if got != want {
		t.Errorf("buildOverlayOptions = %q, want %q", got, want)
	}
}

func TestInsertModuleTreeRespectsPerPathOverride(t *testing.T) {
	root := t.TempDir()
	modDir := filepath.Join(root, "a")
	os.MkdirAll(filepath.Join(modDir, "system"), 0755)
	os.WriteFile(filepath.Join(modDir, "system", "keep.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(modDir, "system", "skip.txt"), []byte("x"), 0644)

	m := &moduleinfo.Module{
		ID:         "a",
		SourcePath: modDir,
		Mode:       moduleinfo.ModeMagic,
		Rules: []moduleinfo.PathRule{
			{Path: "/skip.txt", Mode: moduleinfo.ModeOverlay},
		},
	}

	a := arena.New()
	stats := &Stats{}
	insertModuleTree(a, m, filepath.Join(modDir, "system"), stats)

	if _, ok := a.Child(a.Root(), "keep.txt"); !ok {
		t.Error("keep.txt should be inserted into the arena")
	}
	if _, ok := a.Child(a.Root(), "skip.txt"); ok {
		t.Error("skip.txt has a per-path override away from magic mode and should be excluded")
	}
}

func TestModuleIDFromLowerDir(t *testing.T) {
	cases := map[string]string{
		"/mirror/my_module/system": "my_module",
		"/mirror/a/vendor":         "a",
		"/system":                  "",
	}
	for in, want := range cases {
		if got := moduleIDFromLowerDir(in); got != want {
			t.Errorf("moduleIDFromLowerDir(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOverlayModuleIDsCollectsDistinctModulesInOrder(t *testing.T) {
	plan := &mountplan.Plan{
		OverlayOps: []mountplan.OverlayOp{
			{TargetPartition: "/system", LowerDirs: []string{"/mirror/b/system", "/mirror/a/system"}},
			{TargetPartition: "/vendor", LowerDirs: []string{"/mirror/a/vendor"}},
		},
	}
	got := OverlayModuleIDs(plan)
	want := []string{"b", "a"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("OverlayModuleIDs = %v, want %v", got, want)
	}
}

func TestRecordOverlayStatsCountsFileTypesUnderLowerDir(t *testing.T) {
	root := t.TempDir()
	lower := filepath.Join(root, "mod", "system")
	os.MkdirAll(filepath.Join(lower, "sub"), 0755)
	os.WriteFile(filepath.Join(lower, "a.txt"), []byte("x"), 0644)
	os.Symlink("a.txt", filepath.Join(lower, "link"))

	e := NewExecutor(nil, root)
	e.recordOverlayStats(mountplan.OverlayOp{
		TargetPartition: "/system",
		LowerDirs:       []string{lower},
	})

	stats := e.statsFor("mod")
	if stats.Files != 1 {
		t.Errorf("Files = %d, want 1", stats.Files)
	}
	if stats.Symlinks != 1 {
		t.Errorf("Symlinks = %d, want 1", stats.Symlinks)
	}
	if stats.Dirs != 1 {
		t.Errorf("Dirs = %d, want 1", stats.Dirs)
	}
}

func TestStatsForCreatesAndReuses(t *testing.T) {
	e := NewExecutor(nil, "/mirror")
	s1 := e.statsFor("a")
	s1.Files = 3
	s2 := e.statsFor("a")
	if s2.Files != 3 {
		t.Error("statsFor should return the same *Stats for repeated calls with the same module id")
	}
}
