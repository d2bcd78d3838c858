// Copyright 2026 The HymoMount Authors
// SPDX-License-Identifier: Apache-2.0

package modsync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hymofs/hymomount/internal/moduleinfo"
)

func writeModule(t *testing.T, moduleDir, id string) *moduleinfo.Module {
	t.Helper()
	dir := filepath.Join(moduleDir, id)
	systemDir := filepath.Join(dir, "system", "etc")
	os.MkdirAll(systemDir, 0755)
	os.WriteFile(filepath.Join(systemDir, "hosts"), []byte("127.0.0.1 localhost\n"), 0644)
	os.WriteFile(filepath.Join(dir, "module.prop"), []byte("id="+id+"\nversion=v1\n"), 0644)
	return &moduleinfo.Module{ID: id, SourcePath: dir}
}

func TestSyncCopiesModuleContent(t *testing.T) {
	moduleDir := t.TempDir()
	mirrorRoot := t.TempDir()
	m := writeModule(t, moduleDir, "demo")

	result, err := Sync([]*moduleinfo.Module{m}, mirrorRoot, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Synced) != 1 || result.Synced[0] != "demo" {
		t.Errorf("Synced = %v, want [demo]", result.Synced)
	}

	got, err := os.ReadFile(filepath.Join(mirrorRoot, "demo", "system", "etc", "hosts"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "127.0.0.1 localhost\n" {
		t.Errorf("copied content = %q", got)
	}
}

func TestSyncSkipsUnchangedModuleProp(t *testing.T) {
	moduleDir := t.TempDir()
	mirrorRoot := t.TempDir()
	m := writeModule(t, moduleDir, "demo")

	if _, err := Sync([]*moduleinfo.Module{m}, mirrorRoot, false); err != nil {
		t.Fatal(err)
	}
	result, err := Sync([]*moduleinfo.Module{m}, mirrorRoot, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Skipped) != 1 {
		t.Errorf("second sync Skipped = %v, want 1 entry", result.Skipped)
	}
}

func TestSyncPrunesStaleModules(t *testing.T) {
	moduleDir := t.TempDir()
	mirrorRoot := t.TempDir()
	m := writeModule(t, moduleDir, "demo")
	Sync([]*moduleinfo.Module{m}, mirrorRoot, false)

	// Second sync with no active modules should prune "demo".
	if _, err := Sync(nil, mirrorRoot, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(mirrorRoot, "demo")); !os.IsNotExist(err) {
		t.Error("stale module directory should have been pruned")
	}
}

func TestSyncSegregatesOverlayPinnedRuleFromHymofsModule(t *testing.T) {
	moduleDir := t.TempDir()
	mirrorRoot := t.TempDir()
	m := writeModule(t, moduleDir, "demo")
	m.Mode = moduleinfo.ModeHymofs
	m.Rules = []moduleinfo.PathRule{{Path: "system/etc", Mode: moduleinfo.ModeOverlay}}

	if _, err := Sync([]*moduleinfo.Module{m}, mirrorRoot, true); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(mirrorRoot, "demo", "system", "etc", "hosts")); !os.IsNotExist(err) {
		t.Error("overlay-pinned path should have been moved out of the module's hymofs mirror tree")
	}
	got, err := os.ReadFile(filepath.Join(mirrorRoot, ".overlay_staging", "demo", "system", "etc", "hosts"))
	if err != nil {
		t.Fatalf("staged file missing: %v", err)
	}
	if string(got) != "127.0.0.1 localhost\n" {
		t.Errorf("staged content = %q", got)
	}
}

func TestSyncLeavesOverlayModuleRulesUnsegregated(t *testing.T) {
	moduleDir := t.TempDir()
	mirrorRoot := t.TempDir()
	m := writeModule(t, moduleDir, "demo")
	m.Mode = moduleinfo.ModeOverlay
	m.Rules = []moduleinfo.PathRule{{Path: "system/etc", Mode: moduleinfo.ModeMagic}}

	if _, err := Sync([]*moduleinfo.Module{m}, mirrorRoot, true); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(mirrorRoot, "demo", "system", "etc", "hosts")); err != nil {
		t.Error("overlay-set module content should never be segregated, only hymofs-set")
	}
}

func TestSyncKeepsReservedDirs(t *testing.T) {
	mirrorRoot := t.TempDir()
	os.MkdirAll(filepath.Join(mirrorRoot, "lost+found"), 0755)

	if _, err := Sync(nil, mirrorRoot, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(mirrorRoot, "lost+found")); err != nil {
		t.Error("reserved directory should not be pruned")
	}
}
